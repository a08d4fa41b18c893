package testutil

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTestClient provides a test client for WebSocket connections
type WebSocketTestClient struct {
	conn      *websocket.Conn
	messages  chan map[string]interface{}
	errors    chan error
	closeCode int
	closed    bool
	mutex     sync.RWMutex
}

// NewWebSocketTestClient dials the server and starts a read pump. An
// empty jwt dials anonymously; otherwise the token is passed as a
// query parameter the way UI clients do.
func NewWebSocketTestClient(serverURL string, jwt string) (*WebSocketTestClient, error) {
	if jwt != "" {
		sep := "?"
		for _, r := range serverURL {
			if r == '?' {
				sep = "&"
				break
			}
		}
		serverURL += sep + "token=" + jwt
	}

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.Dial(serverURL, http.Header{})
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		return nil, err
	}

	client := &WebSocketTestClient{
		conn:      conn,
		messages:  make(chan map[string]interface{}, 32),
		errors:    make(chan error, 1),
		closeCode: -1,
	}

	go client.readPump()

	return client, nil
}

// SendMessage sends a JSON message to the server
func (c *WebSocketTestClient) SendMessage(message map[string]interface{}) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	return c.conn.WriteJSON(message)
}

// ReadMessageTimeout reads a message with timeout
func (c *WebSocketTestClient) ReadMessageTimeout(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case err := <-c.errors:
		return nil, err
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// CloseCode returns the close code received from the server, or -1 if
// the connection has not been closed by a close frame.
func (c *WebSocketTestClient) CloseCode() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.closeCode
}

// WaitClose waits until the server closes the connection and returns
// the received close code.
func (c *WebSocketTestClient) WaitClose(timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if code := c.CloseCode(); code != -1 {
			return code, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return -1, context.DeadlineExceeded
}

// Close closes the client connection
func (c *WebSocketTestClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		c.closed = true
		return c.conn.Close()
	}

	return nil
}

func (c *WebSocketTestClient) readPump() {
	for {
		var message map[string]interface{}
		if err := c.conn.ReadJSON(&message); err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				c.mutex.Lock()
				c.closeCode = closeErr.Code
				c.mutex.Unlock()
			}
			select {
			case c.errors <- err:
			default:
			}
			return
		}

		select {
		case c.messages <- message:
		default:
			// Channel full, drop message
		}
	}
}
