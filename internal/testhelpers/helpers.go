// Package testhelpers provides shared utilities for testing the relay's HTTP
// and WebSocket surface.
//
// It contains helpers for dialing the websocket endpoint, exchanging
// {"event","data"} envelopes, and asserting HTTP response properties, to
// reduce duplication across package tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Event is a decoded server-to-client envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", e.Event, e.Data, err)
	}
}

// WebSocketURL converts an httptest server URL into the /ws endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL
// with TestOrigin as Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An
// empty origin sends no header.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials url and registers cleanup of the connection.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent sends a {"event","data"} envelope.
func SendEvent(conn *websocket.Conn, event string, data interface{}) error {
	return conn.WriteJSON(map[string]interface{}{"event": event, "data": data})
}

// ReceiveEvent reads one envelope, waiting at most timeout.
func ReceiveEvent(conn *websocket.Conn, timeout time.Duration) (Event, error) {
	var ev Event
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ev, err
	}
	err := conn.ReadJSON(&ev)
	return ev, err
}

// ExpectEvent reads the next envelope and fails unless it is named event.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string) Event {
	t.Helper()
	ev, err := ReceiveEvent(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("Expected %s event, got error: %v", event, err)
	}
	if ev.Event != event {
		t.Fatalf("Expected %s event, got %s (%s)", event, ev.Event, ev.Data)
	}
	return ev
}

// ExpectNoEvent fails if an envelope arrives within wait. The connection
// is unusable for reads afterwards if the deadline fired, so call it last.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	ev, err := ReceiveEvent(conn, wait)
	if err == nil {
		t.Errorf("Expected no event, got %s (%s)", ev.Event, ev.Data)
		return
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Expected a read timeout, got %v", err)
	}
}

// SendRawMessage sends a raw frame over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
