// Package handlers exposes the broker's HTTP surface: publish, stats,
// channels, and the WebSocket upgrade endpoint.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/broadcast"
	"herald/internal/channel"
	"herald/internal/config"
	"herald/internal/logging"
	"herald/internal/registry"
	"herald/internal/websocket"
)

// HeraldHandlers contains the HTTP handlers for the service
type HeraldHandlers struct {
	engine   *broadcast.Engine
	registry *registry.Registry
	sessions *websocket.Handler
	cfg      config.Config
	logger   logging.Logger
}

// PublishRequest is the body of the preferred publish endpoint.
type PublishRequest struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// PublishResponse is returned by both publish endpoints.
type PublishResponse struct {
	Status         string `json:"status"`
	Channel        string `json:"channel"`
	ClientsReached int    `json:"clients_reached"`
	Timestamp      string `json:"timestamp"`
}

// NewHeraldHandlers creates a new handlers instance
func NewHeraldHandlers(engine *broadcast.Engine, reg *registry.Registry, sessions *websocket.Handler, cfg config.Config, logger logging.Logger) *HeraldHandlers {
	return &HeraldHandlers{
		engine:   engine,
		registry: reg,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleWebSocket serves WebSocket subscriptions for a channel
func (h *HeraldHandlers) HandleWebSocket(c *gin.Context) {
	h.sessions.Serve(c, c.Param("channel"))
}

// HandlePublish processes the preferred publish endpoint:
// POST /publish with {"channel": ..., "data": {...}}.
func (h *HeraldHandlers) HandlePublish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Request body must be a JSON object"})
		return
	}
	if req.Channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Field 'channel' is required"})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Field 'data' is required"})
		return
	}

	payload, ok := decodeObject(req.Data)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Field 'data' must be a JSON object"})
		return
	}

	h.publish(c, req.Channel, payload)
}

// HandlePublishLegacy processes the legacy publish endpoint:
// POST /publish/{channel} with the event object as the body.
func (h *HeraldHandlers) HandlePublishLegacy(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Failed to read request body"})
		return
	}

	payload, ok := decodeObject(body)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Request body must be a JSON object"})
		return
	}

	h.publish(c, c.Param("channel"), payload)
}

// publish validates the channel, auto-creates it if absent, and fans
// the payload out.
func (h *HeraldHandlers) publish(c *gin.Context, channelName string, payload map[string]interface{}) {
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Event payload must not be empty"})
		return
	}

	if _, err := channel.Validate(channelName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid channel name: " + err.Error()})
		return
	}

	if err := h.registry.EnsureChannel(channelName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid channel name: " + err.Error()})
		return
	}

	reached, err := h.engine.Broadcast(channelName, payload)
	if err != nil {
		h.logger.WithError(err).WithField("channel", channelName).Error("Broadcast failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Broadcast failed"})
		return
	}

	h.logger.WithFields(logging.Fields{
		"channel":         channelName,
		"clients_reached": reached,
	}).Debug("Event published")

	c.JSON(http.StatusOK, PublishResponse{
		Status:         "published",
		Channel:        channelName,
		ClientsReached: reached,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStats reports process-wide and per-channel counters
func (h *HeraldHandlers) HandleStats(c *gin.Context) {
	stats := h.registry.GetStats()

	channels := make(map[string]gin.H)
	for name, count := range h.registry.Channels() {
		channels[name] = gin.H{
			"active_clients": count,
			"max_clients":    h.cfg.MaxClientsPerChannel,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":          stats.UptimeSeconds,
		"total_connections":       stats.TotalConnections,
		"total_messages_sent":     stats.MessagesSent,
		"total_messages_received": stats.MessagesReceived,
		"active_clients":          stats.ActiveClients,
		"channels":                channels,
	})
}

// HandleChannels lists known channels with their kind and counts
func (h *HeraldHandlers) HandleChannels(c *gin.Context) {
	counts := h.registry.Channels()

	channels := make([]gin.H, 0, len(counts))
	for name, count := range counts {
		kind := channel.Classify(name)
		channels = append(channels, gin.H{
			"name":           name,
			"kind":           kind.String(),
			"ephemeral":      kind.Ephemeral(),
			"active_clients": count,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"channels": channels,
		"count":    len(channels),
	})
}

// HandleNotFound provides a custom 404 handler
func (h *HeraldHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Endpoint not found"})
}

// decodeObject unmarshals raw JSON and requires it to be a non-empty
// object (not array, not scalar, not null).
func decodeObject(raw []byte) (map[string]interface{}, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if payload == nil {
		return nil, false
	}
	return payload, true
}
