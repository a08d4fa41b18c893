package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"herald/internal/auth"
	"herald/internal/logging"
	"herald/internal/registry"
	"herald/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sessionEnv struct {
	server   *httptest.Server
	registry *registry.Registry
}

func newSessionEnv(t *testing.T, requireAuth bool, maxClients int) *sessionEnv {
	t.Helper()

	logger := logging.NewLogger()
	reg := registry.New(logger, nil)

	jwtHelper := testutil.NewJWTTestHelper()
	verifier, err := auth.NewVerifier(string(jwtHelper.Secret), "HS256")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	handler := NewHandler(reg, verifier, requireAuth, maxClients, logger, nil)

	router := gin.New()
	router.GET("/ws/:channel", func(c *gin.Context) {
		handler.Serve(c, c.Param("channel"))
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &sessionEnv{server: server, registry: reg}
}

func (e *sessionEnv) wsURL(channel string) string {
	return strings.Replace(e.server.URL, "http://", "ws://", 1) + "/ws/" + channel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestAnonymousConnectRegisters(t *testing.T) {
	env := newSessionEnv(t, false, 0)

	client, err := testutil.NewWebSocketTestClient(env.wsURL("full.flow"), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	waitFor(t, time.Second, func() bool { return env.registry.ChannelCount("full.flow") == 1 })
}

func TestDisconnectPrunesSubscriber(t *testing.T) {
	env := newSessionEnv(t, false, 0)

	client, err := testutil.NewWebSocketTestClient(env.wsURL("prune.test"), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, time.Second, func() bool { return env.registry.ChannelCount("prune.test") == 1 })

	client.Close()
	waitFor(t, 2*time.Second, func() bool { return env.registry.ChannelCount("prune.test") == 0 })
	if env.registry.TotalActive() != 0 {
		t.Fatalf("registry leaked %d subscribers", env.registry.TotalActive())
	}
}

func TestInvalidChannelClosedWithPolicyViolation(t *testing.T) {
	env := newSessionEnv(t, false, 0)

	client, err := testutil.NewWebSocketTestClient(env.wsURL("UPPER"), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	code, err := client.WaitClose(2 * time.Second)
	if err != nil {
		t.Fatalf("wait close: %v", err)
	}
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want 1008", code)
	}
	if env.registry.TotalActive() != 0 {
		t.Fatalf("rejected session must not be registered")
	}
}

func TestRequireAuthRejectsTokenless(t *testing.T) {
	env := newSessionEnv(t, true, 0)

	client, err := testutil.NewWebSocketTestClient(env.wsURL("trade"), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	code, err := client.WaitClose(2 * time.Second)
	if err != nil {
		t.Fatalf("wait close: %v", err)
	}
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want 1008", code)
	}
}

func TestUserChannelAuthorization(t *testing.T) {
	env := newSessionEnv(t, true, 0)
	jwtHelper := testutil.NewJWTTestHelper()

	token, err := jwtHelper.GenerateValidJWT("123", "0xabc")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	// The matching user is admitted.
	owner, err := testutil.NewWebSocketTestClient(env.wsURL("user.123"), token)
	if err != nil {
		t.Fatalf("dial user.123: %v", err)
	}
	defer owner.Close()
	waitFor(t, time.Second, func() bool { return env.registry.ChannelCount("user.123") == 1 })

	// The same token on someone else's channel is rejected.
	intruder, err := testutil.NewWebSocketTestClient(env.wsURL("user.456"), token)
	if err != nil {
		t.Fatalf("dial user.456: %v", err)
	}
	defer intruder.Close()

	code, err := intruder.WaitClose(2 * time.Second)
	if err != nil {
		t.Fatalf("wait close: %v", err)
	}
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want 1008", code)
	}
	if env.registry.ChannelCount("user.456") != 0 {
		t.Fatalf("unauthorized session must not be registered")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	env := newSessionEnv(t, true, 0)
	jwtHelper := testutil.NewJWTTestHelper()

	token, err := jwtHelper.GenerateExpiredJWT("123", "0xabc")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	client, err := testutil.NewWebSocketTestClient(env.wsURL("trade"), token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	code, err := client.WaitClose(2 * time.Second)
	if err != nil {
		t.Fatalf("wait close: %v", err)
	}
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want 1008", code)
	}
}

func TestChannelCapacityEnforced(t *testing.T) {
	env := newSessionEnv(t, false, 1)

	first, err := testutil.NewWebSocketTestClient(env.wsURL("crowded"), "")
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	waitFor(t, time.Second, func() bool { return env.registry.ChannelCount("crowded") == 1 })

	second, err := testutil.NewWebSocketTestClient(env.wsURL("crowded"), "")
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	code, err := second.WaitClose(2 * time.Second)
	if err != nil {
		t.Fatalf("wait close: %v", err)
	}
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want 1008", code)
	}
	if env.registry.ChannelCount("crowded") != 1 {
		t.Fatalf("capacity-rejected session must not be registered")
	}
}

func TestZeroCapacityMeansUnlimited(t *testing.T) {
	env := newSessionEnv(t, false, 0)

	for i := 0; i < 3; i++ {
		client, err := testutil.NewWebSocketTestClient(env.wsURL("open.house"), "")
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer client.Close()
	}

	waitFor(t, time.Second, func() bool { return env.registry.ChannelCount("open.house") == 3 })
}

// newTestSession upgrades one connection on a throwaway server and
// returns the server-side session.
func newTestSession(t *testing.T) *session {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	client, err := testutil.NewWebSocketTestClient(strings.Replace(server.URL, "http://", "ws://", 1), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return newSession(<-conns, logging.NewLogger())
}

func TestSendAfterCloseFails(t *testing.T) {
	sess := newTestSession(t)

	sess.Close(websocket.CloseNormalClosure, "")

	if err := sess.Send([]byte(`{"x":1}`)); err != ErrSessionClosed {
		t.Fatalf("send after close error = %v, want ErrSessionClosed", err)
	}
}

func TestSendFailsWhenBufferFull(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close(websocket.CloseNormalClosure, "")

	// No write pump running, so the buffer never drains.
	payload := []byte(`{"x":1}`)
	for i := 0; i < sendBufferSize; i++ {
		if err := sess.Send(payload); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := sess.Send(payload); err != ErrSendBufferFull {
		t.Fatalf("overflow send error = %v, want ErrSendBufferFull", err)
	}
}

func TestInboundFramesCounted(t *testing.T) {
	env := newSessionEnv(t, false, 0)

	client, err := testutil.NewWebSocketTestClient(env.wsURL("chatty"), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	waitFor(t, time.Second, func() bool { return env.registry.ChannelCount("chatty") == 1 })

	for i := 0; i < 3; i++ {
		if err := client.SendMessage(map[string]interface{}{"type": "pong"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return env.registry.GetStats().MessagesReceived == 3
	})
}
