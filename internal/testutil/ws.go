package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a WebSocket test client for end-to-end transport tests.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials url, which may use the http or ws scheme, with header.
//
// Precondition: url must point at a listening WebSocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()

	url = strings.Replace(url, "http://", "ws://", 1)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dialing %s: %v (status %d) [%s]", url, err, status, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes v as one JSON text frame.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("sending %v: %v", v, err)
	}
}

// Read returns the next frame, failing the test on timeout.
func (c *WSClient) Read(timeout time.Duration) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return data
}

// ReadUntil reads frames until one whose "type" field equals msgType and
// returns it. Earlier frames are discarded.
//
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(msgType string, timeout time.Duration) []byte {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until %q: %v", msgType, err)
		}
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &env) == nil && env.Type == msgType {
			return data
		}
	}
}

// ReadError reads until the connection fails and returns the error.
func (c *WSClient) ReadError(timeout time.Duration) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
