// Package broadcast fans a payload out to every live subscriber of a
// channel.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"herald/internal/channel"
	"herald/internal/logging"
	"herald/internal/metrics"
	"herald/internal/registry"
)

// Engine delivers publish events. It borrows a snapshot of the
// subscriber set per call and prunes subscribers whose sends fail.
type Engine struct {
	registry *registry.Registry
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates a broadcast engine. metrics may be nil in tests.
func NewEngine(reg *registry.Registry, logger logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		registry: reg,
		logger:   logger,
		metrics:  m,
	}
}

// Broadcast sends the payload to every current subscriber of the
// channel and returns the number of successful sends. Send failures
// mark the subscriber dead; dead subscribers are removed after the
// fan-out and never abort it.
func (e *Engine) Broadcast(channelName string, payload map[string]interface{}) (int, error) {
	kind, err := channel.Validate(channelName)
	if err != nil {
		// Callers validate before invoking the engine; reaching this
		// is a programming error.
		return 0, fmt.Errorf("broadcast to invalid channel: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast payload: %w", err)
	}

	start := time.Now()
	subscribers := e.registry.Snapshot(channelName)
	if len(subscribers) == 0 {
		return 0, nil
	}

	sent := 0
	var dead []*registry.Subscriber
	for _, sub := range subscribers {
		if err := sub.Send(data); err != nil {
			e.logger.WithError(err).WithFields(logging.Fields{
				"channel":    channelName,
				"subscriber": sub.ID(),
			}).Warn("Failed to send to subscriber, marking dead")
			dead = append(dead, sub)
			continue
		}
		sent++
	}

	pruned := 0
	for _, sub := range dead {
		if e.registry.RemoveClient(sub) {
			pruned++
			if e.metrics != nil {
				e.metrics.HubConnections.WithLabelValues(sub.Channel()).Dec()
			}
		}
		sub.Close(websocket.ClosePolicyViolation, "Slow consumer")
	}

	e.registry.RecordSent(sent)

	if e.metrics != nil {
		e.metrics.HubMessages.WithLabelValues(channelName, "out").Add(float64(sent))
		e.metrics.EventsPublished.WithLabelValues(kind.String()).Inc()
		e.metrics.BroadcastDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		if pruned > 0 {
			e.metrics.PrunedSubscribers.WithLabelValues("send_failed").Add(float64(pruned))
		}
	}

	return sent, nil
}
