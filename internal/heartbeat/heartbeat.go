// Package heartbeat periodically pings every subscriber and prunes the
// ones that cannot be reached.
package heartbeat

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"herald/internal/logging"
	"herald/internal/metrics"
	"herald/internal/registry"
)

var pingPayload = []byte(`{"type":"ping"}`)

// Scheduler runs the heartbeat loop. Each tick sends a ping payload to
// every subscriber, removes the ones whose sends fail, and sweeps
// empty ephemeral channels.
type Scheduler struct {
	registry *registry.Registry
	interval time.Duration
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewScheduler creates a heartbeat scheduler. metrics may be nil in tests.
func NewScheduler(reg *registry.Registry, interval time.Duration, logger logging.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		registry: reg,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval).Info("Heartbeat scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Heartbeat scheduler stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one heartbeat round: ping, prune, sweep.
func (s *Scheduler) Tick() {
	var dead []*registry.Subscriber
	for name := range s.registry.Channels() {
		for _, sub := range s.registry.Snapshot(name) {
			if err := sub.Send(pingPayload); err != nil {
				dead = append(dead, sub)
			}
		}
	}

	pruned := 0
	for _, sub := range dead {
		if s.registry.RemoveClient(sub) {
			pruned++
			if s.metrics != nil {
				s.metrics.HubConnections.WithLabelValues(sub.Channel()).Dec()
			}
		}
		sub.Close(websocket.ClosePolicyViolation, "Heartbeat failed")
	}
	if pruned > 0 {
		s.logger.WithField("pruned", pruned).Info("Pruned unresponsive subscribers")
		if s.metrics != nil {
			s.metrics.PrunedSubscribers.WithLabelValues("heartbeat").Add(float64(pruned))
		}
	}

	reclaimed := s.registry.CleanupEmptyChannels()
	if len(reclaimed) > 0 {
		s.logger.WithField("channels", reclaimed).Debug("Reclaimed empty channels")
		if s.metrics != nil {
			s.metrics.ChannelsReclaimed.Add(float64(len(reclaimed)))
		}
	}
}
