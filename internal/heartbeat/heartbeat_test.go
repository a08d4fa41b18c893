package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/internal/logging"
	"herald/internal/registry"
)

var errConnDown = errors.New("connection down")

type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	failSend bool
	closed   bool
}

func (f *fakeConn) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errConnDown
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTickSendsPings(t *testing.T) {
	logger := logging.NewLogger()
	reg := registry.New(logger, nil)
	conn := &fakeConn{}
	if _, err := reg.AddClient(conn, "trade", "", "", 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	s := NewScheduler(reg, time.Minute, logger, nil)
	s.Tick()

	if conn.sentCount() != 1 {
		t.Fatalf("got %d pings, want 1", conn.sentCount())
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(conn.sent[0], &msg); err != nil {
		t.Fatalf("unmarshal ping: %v", err)
	}
	if msg["type"] != "ping" {
		t.Fatalf("ping payload = %v", msg)
	}
}

func TestTickPrunesUnresponsivePeers(t *testing.T) {
	logger := logging.NewLogger()
	reg := registry.New(logger, nil)

	alive := &fakeConn{}
	dead := &fakeConn{failSend: true}
	if _, err := reg.AddClient(alive, "candles", "", "", 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := reg.AddClient(dead, "candles", "", "", 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	s := NewScheduler(reg, time.Minute, logger, nil)
	s.Tick()

	if reg.ChannelCount("candles") != 1 {
		t.Fatalf("count after tick = %d, want 1", reg.ChannelCount("candles"))
	}
	if !dead.closed {
		t.Fatalf("unresponsive peer's transport must be closed")
	}
	if alive.closed {
		t.Fatalf("responsive peer must stay open")
	}
}

func TestTickSweepsEmptyEphemeralChannels(t *testing.T) {
	logger := logging.NewLogger()
	reg := registry.New(logger, []string{"trade"})

	if err := reg.EnsureChannel("forge.job.done"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := reg.EnsureChannel("backtest.done"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	s := NewScheduler(reg, time.Minute, logger, nil)
	s.Tick()

	if reg.ChannelExists("forge.job.done") || reg.ChannelExists("backtest.done") {
		t.Fatalf("empty ephemeral channels must be swept")
	}
	if !reg.ChannelExists("trade") {
		t.Fatalf("pre-declared channel must survive the sweep")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := logging.NewLogger()
	reg := registry.New(logger, nil)
	s := NewScheduler(reg, 10*time.Millisecond, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}
}
