package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"herald/internal/monitoring"
)

// Metrics holds all Prometheus metrics for the Herald service
type Metrics struct {
	// WebSocket hub metrics
	HubConnections    *prometheus.GaugeVec
	HubMessages       *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	BroadcastDuration *prometheus.HistogramVec
	PrunedSubscribers *prometheus.CounterVec
	ChannelsReclaimed prometheus.Counter
}

// New registers the herald metric set against a collector.
func New(collector *monitoring.MetricsCollector) *Metrics {
	m := &Metrics{
		HubConnections:    collector.NewGauge("websocket_hub_connections_active", "Active WebSocket hub connections", []string{"channel"}),
		HubMessages:       collector.NewCounter("websocket_hub_messages_total", "WebSocket hub messages", []string{"channel", "direction"}),
		EventsPublished:   collector.NewCounter("events_published_total", "Events published to the hub", []string{"channel_kind"}),
		BroadcastDuration: collector.NewHistogram("broadcast_duration_seconds", "Broadcast fan-out latency", []string{"channel_kind"}, nil),
		PrunedSubscribers: collector.NewCounter("subscribers_pruned_total", "Subscribers removed after failed sends", []string{"reason"}),
	}

	reclaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herald_channels_reclaimed_total",
		Help: "Empty ephemeral channels reclaimed",
	})
	collector.RegisterCustomMetric(reclaimed)
	m.ChannelsReclaimed = reclaimed

	return m
}
