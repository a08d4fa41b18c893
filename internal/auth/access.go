package auth

import (
	"herald/internal/channel"
)

// VerifyChannelAccess evaluates the channel-access policy for an
// authenticated user. Per-user channels carry personal data and are
// restricted to the matching user; ephemeral per-job channels use
// unguessable ids and are treated as capability-based. Anonymous
// connections never reach this check: deployments with REQUIRE_AUTH
// disabled admit them as-is, deployments with it enabled reject them
// before authorization.
func VerifyChannelAccess(userID, channelName string) bool {
	switch channel.Classify(channelName) {
	case channel.KindGlobal, channel.KindPublic:
		return true
	case channel.KindUser:
		return channel.UserID(channelName) == userID
	case channel.KindStrategy, channel.KindForgeJob, channel.KindBacktest:
		return userID != ""
	default:
		return false
	}
}
