// Package registry tracks live WebSocket subscribers per channel.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"herald/internal/channel"
	"herald/internal/logging"
)

// ErrChannelFull is returned by AddClient when the channel is at its
// configured capacity.
var ErrChannelFull = errors.New("channel at capacity")

// Conn is the transport handle the registry holds per subscriber. The
// session handler owns the underlying connection; the registry and its
// callers only send through it or ask it to close.
type Conn interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// Subscriber is one accepted WebSocket session bound to one channel.
type Subscriber struct {
	id          uint64
	channelName string
	userID      string
	wallet      string
	connectedAt time.Time
	received    atomic.Int64
	conn        Conn
}

// ID returns the subscriber's stable handle.
func (s *Subscriber) ID() uint64 { return s.id }

// Channel returns the channel the subscriber is bound to.
func (s *Subscriber) Channel() string { return s.channelName }

// UserID returns the authenticated user id, empty for anonymous sessions.
func (s *Subscriber) UserID() string { return s.userID }

// WalletAddress returns the authenticated wallet, empty for anonymous sessions.
func (s *Subscriber) WalletAddress() string { return s.wallet }

// ConnectedAt returns the time the session was registered.
func (s *Subscriber) ConnectedAt() time.Time { return s.connectedAt }

// MessagesReceived returns the count of inbound frames from the peer.
func (s *Subscriber) MessagesReceived() int64 { return s.received.Load() }

// Send forwards a payload to the subscriber's transport.
func (s *Subscriber) Send(payload []byte) error { return s.conn.Send(payload) }

// Close asks the subscriber's transport to close with the given code.
func (s *Subscriber) Close(code int, reason string) { s.conn.Close(code, reason) }

// Registry maps channel names to ordered subscriber sets. A single
// mutex guards both maps; snapshots are taken under the lock and
// iterated outside it so per-subscriber I/O never holds it.
type Registry struct {
	mu          sync.RWMutex
	channels    map[string][]*Subscriber
	subscribers map[uint64]*Subscriber
	preDeclared map[string]bool

	nextID           atomic.Uint64
	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	startTime        time.Time

	logger logging.Logger
}

// Stats is a point-in-time view of the process-wide counters.
type Stats struct {
	UptimeSeconds    float64
	TotalConnections int64
	MessagesSent     int64
	MessagesReceived int64
	ActiveClients    int
}

// New creates a registry with the given pre-declared channels. The
// names are assumed validated by config loading; invalid ones are
// skipped with a warning.
func New(logger logging.Logger, preDeclared []string) *Registry {
	r := &Registry{
		channels:    make(map[string][]*Subscriber),
		subscribers: make(map[uint64]*Subscriber),
		preDeclared: make(map[string]bool),
		startTime:   time.Now(),
		logger:      logger,
	}
	for _, name := range preDeclared {
		if _, err := channel.Validate(name); err != nil {
			logger.WithError(err).WithField("channel", name).Warn("Skipping invalid pre-declared channel")
			continue
		}
		r.preDeclared[name] = true
		r.channels[name] = nil
	}
	return r
}

// AddClient validates the channel name, creates the channel if absent,
// and registers a new subscriber for the given transport. A positive
// limit caps the channel's subscriber count; the capacity check and the
// insert happen under one lock so concurrent adds cannot over-admit.
// limit 0 means unlimited.
func (r *Registry) AddClient(conn Conn, channelName, userID, wallet string, limit int) (*Subscriber, error) {
	if _, err := channel.Validate(channelName); err != nil {
		return nil, fmt.Errorf("invalid channel name: %w", err)
	}

	sub := &Subscriber{
		id:          r.nextID.Add(1),
		channelName: channelName,
		userID:      userID,
		wallet:      wallet,
		connectedAt: time.Now(),
		conn:        conn,
	}

	r.mu.Lock()
	if limit > 0 && len(r.channels[channelName]) >= limit {
		r.mu.Unlock()
		return nil, ErrChannelFull
	}
	r.channels[channelName] = append(r.channels[channelName], sub)
	r.subscribers[sub.id] = sub
	r.mu.Unlock()

	r.totalConnections.Add(1)
	return sub, nil
}

// RemoveClient removes a subscriber from its channel and drops its
// metadata, reporting whether it was still registered. Unknown
// subscribers are a no-op; this runs on cleanup paths under arbitrary
// failure conditions and must never fail.
func (r *Registry) RemoveClient(sub *Subscriber) bool {
	if sub == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscribers[sub.id]; !ok {
		return false
	}
	delete(r.subscribers, sub.id)

	set := r.channels[sub.channelName]
	for i, s := range set {
		if s.id == sub.id {
			r.channels[sub.channelName] = append(set[:i], set[i+1:]...)
			break
		}
	}
	return true
}

// EnsureChannel creates an empty channel if it does not exist yet.
// This is the auto-creation path for publishes to unknown names.
func (r *Registry) EnsureChannel(channelName string) error {
	if _, err := channel.Validate(channelName); err != nil {
		return fmt.Errorf("invalid channel name: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelName]; !ok {
		r.channels[channelName] = nil
	}
	return nil
}

// Snapshot returns a copy of a channel's subscriber set in insertion
// order. Iteration over the copy needs no lock.
func (r *Registry) Snapshot(channelName string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.channels[channelName]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Subscriber, len(set))
	copy(out, set)
	return out
}

// ChannelExists reports whether a channel is present.
func (r *Registry) ChannelExists(channelName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channelName]
	return ok
}

// ChannelCount returns the number of subscribers on a channel.
func (r *Registry) ChannelCount(channelName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channelName])
}

// Channels returns subscriber counts for every known channel.
func (r *Registry) Channels() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.channels))
	for name, set := range r.channels {
		out[name] = len(set)
	}
	return out
}

// TotalActive returns the number of currently registered subscribers.
func (r *Registry) TotalActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// CleanupEmptyChannels removes channels with no subscribers whose kind
// is ephemeral or unclassified, and returns their names. Pre-declared
// channels and durable kinds survive empty.
func (r *Registry) CleanupEmptyChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name, set := range r.channels {
		if len(set) > 0 || r.preDeclared[name] {
			continue
		}
		kind := channel.Classify(name)
		if kind.Ephemeral() || kind == channel.KindOther {
			delete(r.channels, name)
			removed = append(removed, name)
		}
	}
	return removed
}

// CloseAll closes every live subscriber with the given close code and
// clears the registry, keeping pre-declared channels. Used by the
// shutdown coordinator.
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subs = append(subs, sub)
	}
	r.subscribers = make(map[uint64]*Subscriber)
	r.channels = make(map[string][]*Subscriber)
	for name := range r.preDeclared {
		r.channels[name] = nil
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close(code, reason)
	}
	return len(subs)
}

// RecordSent adds to the process-wide sent counter.
func (r *Registry) RecordSent(n int) {
	if n > 0 {
		r.messagesSent.Add(int64(n))
	}
}

// RecordReceived counts one inbound frame for the subscriber and the
// process-wide counter.
func (r *Registry) RecordReceived(sub *Subscriber) {
	sub.received.Add(1)
	r.messagesReceived.Add(1)
}

// StartTime returns when the registry was created.
func (r *Registry) StartTime() time.Time { return r.startTime }

// GetStats returns the process-wide counters.
func (r *Registry) GetStats() Stats {
	return Stats{
		UptimeSeconds:    time.Since(r.startTime).Seconds(),
		TotalConnections: r.totalConnections.Load(),
		MessagesSent:     r.messagesSent.Load(),
		MessagesReceived: r.messagesReceived.Load(),
		ActiveClients:    r.TotalActive(),
	}
}
