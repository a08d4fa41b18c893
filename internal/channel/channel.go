// Package channel validates channel names and classifies them by kind.
package channel

import (
	"errors"
	"fmt"
	"strings"
)

// MaxNameLength is the longest accepted channel name.
const MaxNameLength = 100

// Kind classifies a channel name.
type Kind int

const (
	KindOther Kind = iota
	KindGlobal
	KindUser
	KindStrategy
	KindForgeJob
	KindBacktest
	KindPublic
)

// Validation failures, one per violated rule.
var (
	ErrNameEmpty       = errors.New("channel name must not be empty")
	ErrNameTooLong     = fmt.Errorf("channel name must be at most %d characters", MaxNameLength)
	ErrNameInvalidChar = errors.New("channel name may only contain lowercase letters, digits, dots and hyphens")
	ErrNameDotEdge     = errors.New("channel name must not start or end with a dot")
)

// Public topics anyone may subscribe to.
var publicTopics = map[string]bool{
	"trade":        true,
	"candles":      true,
	"sys":          true,
	"rsi":          true,
	"extrema":      true,
	"analysis":     true,
	"subscription": true,
	"payment":      true,
	"deposit":      true,
}

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindUser:
		return "user"
	case KindStrategy:
		return "strategy"
	case KindForgeJob:
		return "forge_job"
	case KindBacktest:
		return "backtest"
	case KindPublic:
		return "public"
	default:
		return "other"
	}
}

// Ephemeral reports whether channels of this kind are reclaimed when
// their subscriber set empties.
func (k Kind) Ephemeral() bool {
	return k == KindForgeJob || k == KindBacktest
}

// Validate checks a channel name against the naming rules and returns
// its kind. The returned error identifies the violated rule.
func Validate(name string) (Kind, error) {
	if name == "" {
		return KindOther, ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return KindOther, ErrNameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return KindOther, ErrNameInvalidChar
		}
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return KindOther, ErrNameDotEdge
	}
	return Classify(name), nil
}

// Classify returns the kind of an already-validated name. First match
// wins.
func Classify(name string) Kind {
	switch {
	case name == "global":
		return KindGlobal
	case strings.HasPrefix(name, "user."):
		return KindUser
	case strings.HasPrefix(name, "strategy."):
		return KindStrategy
	case strings.HasPrefix(name, "forge.job."):
		return KindForgeJob
	case strings.HasPrefix(name, "backtest."):
		return KindBacktest
	case publicTopics[name]:
		return KindPublic
	default:
		return KindOther
	}
}

// UserID extracts the user id from a user-scoped channel name. Empty
// for any other kind.
func UserID(name string) string {
	if strings.HasPrefix(name, "user.") {
		return strings.TrimPrefix(name, "user.")
	}
	return ""
}
