// Package websocket drives the per-connection session lifecycle:
// upgrade, authorize, admit, register, receive loop, cleanup.
package websocket

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"herald/internal/auth"
	"herald/internal/channel"
	"herald/internal/logging"
	"herald/internal/metrics"
	"herald/internal/registry"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound buffer per subscriber; a peer that falls this far
	// behind is dropped rather than allowed to stall the fan-out
	sendBufferSize = 256
)

// ErrSendBufferFull is returned when a subscriber's outbound buffer is
// saturated; the caller treats it as a dead-subscriber signal.
var ErrSendBufferFull = errors.New("subscriber send buffer full")

// ErrSessionClosed is returned for sends to an already-closed session.
var ErrSessionClosed = errors.New("session closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler accepts WebSocket connections and runs their lifecycle
// against the registry.
type Handler struct {
	registry             *registry.Registry
	verifier             *auth.Verifier
	requireAuth          bool
	maxClientsPerChannel int
	logger               logging.Logger
	metrics              *metrics.Metrics
}

// NewHandler creates a session handler. verifier may be nil when no
// JWT secret is configured; metrics may be nil in tests.
func NewHandler(reg *registry.Registry, verifier *auth.Verifier, requireAuth bool, maxClientsPerChannel int, logger logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		registry:             reg,
		verifier:             verifier,
		requireAuth:          requireAuth,
		maxClientsPerChannel: maxClientsPerChannel,
		logger:               logger,
		metrics:              m,
	}
}

// session is one accepted connection. It owns the transport handle;
// everything else sends through the buffered channel.
type session struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
	logger logging.Logger
}

func newSession(conn *websocket.Conn, logger logging.Logger) *session {
	return &session{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send enqueues a payload for the write pump. A full buffer fails
// immediately; blocking here would let one slow peer stall a fan-out.
// The closed check and the enqueue share one critical section with
// Close, so a send racing a close never reports success for a payload
// that cannot be delivered.
func (s *session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame with the given code and tears the
// transport down. Safe to call from any goroutine, any number of times.
func (s *session) Close(code int, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline) //nolint:errcheck // best effort on teardown
	_ = s.conn.Close()                                                                                    //nolint:errcheck // best effort on teardown
}

// writePump serializes all writes to the peer.
func (s *session) writePump() {
	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				// Unblock the read loop; cleanup runs there.
				_ = s.conn.Close() //nolint:errcheck
				return
			}
		case <-s.done:
			return
		}
	}
}

// Serve upgrades the request and drives the session state machine for
// the named channel. It returns when the session ends.
func (h *Handler) Serve(c *gin.Context, channelName string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	sess := newSession(conn, h.logger)

	// VALIDATE
	if _, err := channel.Validate(channelName); err != nil {
		h.logger.WithError(err).WithField("channel", channelName).Warn("Rejecting subscribe to invalid channel")
		sess.Close(websocket.ClosePolicyViolation, "Invalid channel name")
		return
	}

	// AUTHORIZE
	userID, wallet, ok := h.authorize(c, channelName)
	if !ok {
		sess.Close(websocket.ClosePolicyViolation, "Unauthorized")
		return
	}

	// ADMIT + REGISTER. The capacity check runs inside AddClient under
	// the registry lock, so concurrent upgrades cannot over-admit.
	sub, err := h.registry.AddClient(sess, channelName, userID, wallet, h.maxClientsPerChannel)
	if err != nil {
		if errors.Is(err, registry.ErrChannelFull) {
			h.logger.WithFields(logging.Fields{
				"channel": channelName,
				"limit":   h.maxClientsPerChannel,
			}).Warn("Rejecting subscribe, channel at capacity")
			sess.Close(websocket.ClosePolicyViolation, "Channel full")
			return
		}
		sess.Close(websocket.ClosePolicyViolation, "Invalid channel name")
		return
	}
	if h.metrics != nil {
		h.metrics.HubConnections.WithLabelValues(channelName).Inc()
	}
	h.logger.WithFields(logging.Fields{
		"channel":    channelName,
		"subscriber": sub.ID(),
		"user_id":    userID,
		"total":      h.registry.TotalActive(),
	}).Info("Client connected")

	go sess.writePump()

	// CLEANUP is guaranteed on every path out of ACTIVE.
	defer func() {
		if h.registry.RemoveClient(sub) && h.metrics != nil {
			h.metrics.HubConnections.WithLabelValues(channelName).Dec()
		}
		sess.Close(websocket.CloseNormalClosure, "")
		h.logger.WithFields(logging.Fields{
			"channel":    channelName,
			"subscriber": sub.ID(),
			"received":   sub.MessagesReceived(),
			"total":      h.registry.TotalActive(),
		}).Info("Client disconnected")
	}()

	// ACTIVE: read frames until the peer goes away. Inbound frames are
	// counted and discarded; nothing from the client is required for
	// liveness.
	conn.SetReadLimit(maxMessageSize)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Debug("WebSocket read ended")
			}
			return
		}
		h.registry.RecordReceived(sub)
		if h.metrics != nil {
			h.metrics.HubMessages.WithLabelValues(channelName, "in").Inc()
		}
	}
}

// authorize resolves the subscriber's identity from the request. With
// REQUIRE_AUTH off, tokenless connections are admitted anonymously;
// presented tokens are always verified.
func (h *Handler) authorize(c *gin.Context, channelName string) (userID, wallet string, ok bool) {
	token := extractToken(c)
	if token == "" {
		if h.requireAuth {
			h.logger.WithField("channel", channelName).Warn("Rejecting subscribe without token")
			return "", "", false
		}
		return "", "", true
	}

	if h.verifier == nil {
		// No secret configured; tokens cannot be checked so the
		// connection is treated as anonymous.
		h.logger.Warn("Token presented but no JWT secret configured, treating as anonymous")
		return "", "", true
	}

	claims, err := h.verifier.VerifyToken(token)
	if err != nil {
		h.logger.WithError(err).WithField("channel", channelName).Warn("Rejecting subscribe with invalid token")
		return "", "", false
	}

	if !auth.VerifyChannelAccess(claims.UserID, channelName) {
		h.logger.WithFields(logging.Fields{
			"channel": channelName,
			"user_id": claims.UserID,
		}).Warn("Rejecting subscribe, channel access denied")
		return "", "", false
	}

	return claims.UserID, claims.WalletAddress, true
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
