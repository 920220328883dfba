package server

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newDetachedClient builds a client without a connection or pumps so hub
// bookkeeping can be exercised directly.
func newDetachedClient(h *Hub, addr string) *Client {
	c := NewClient(nil, h, nil, addr, DefaultConfig())
	h.mutex.Lock()
	h.clients[c] = true
	h.mutex.Unlock()
	return c
}

func newTestHub() *Hub {
	return NewHub(zerolog.New(io.Discard))
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

// TestNewHub tests the hub creation function
func TestNewHub(t *testing.T) {
	h := newTestHub()

	if h.clients == nil || h.rooms == nil {
		t.Fatal("NewHub() left maps uninitialized")
	}
	if h.register == nil || h.unregister == nil || h.join == nil || h.deliveries == nil {
		t.Error("NewHub() left channels uninitialized")
	}
	if h.ClientCount() != 0 {
		t.Errorf("Expected no clients, got %d", h.ClientCount())
	}
}

// TestNewClientAssignsUniqueIDs tests connection identifiers
func TestNewClientAssignsUniqueIDs(t *testing.T) {
	h := newTestHub()
	a := NewClient(nil, h, nil, "127.0.0.1:1", DefaultConfig())
	b := NewClient(nil, h, nil, "127.0.0.1:2", DefaultConfig())

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("Expected distinct non-empty ids, got %q and %q", a.ID(), b.ID())
	}
	if cap(a.send) != sendBufferSize {
		t.Errorf("Expected send buffer of %d, got %d", sendBufferSize, cap(a.send))
	}
}

// TestRoomDeliveryExcludesSender tests room scoping and the except client
func TestRoomDeliveryExcludesSender(t *testing.T) {
	h := newTestHub()
	sender := newDetachedClient(h, "a")
	peer := newDetachedClient(h, "b")
	outsider := newDetachedClient(h, "c")

	h.handleJoin(membership{client: sender, room: "r1"})
	h.handleJoin(membership{client: peer, room: "r1"})
	h.handleJoin(membership{client: outsider, room: "r2"})

	h.handleDelivery(delivery{room: "r1", except: sender, payload: []byte("typing")})

	if got := drain(sender); len(got) != 0 {
		t.Errorf("Sender should not receive its own event, got %v", got)
	}
	if got := drain(peer); len(got) != 1 || got[0] != "typing" {
		t.Errorf("Peer expected [typing], got %v", got)
	}
	if got := drain(outsider); len(got) != 0 {
		t.Errorf("Other room should not receive the event, got %v", got)
	}
}

// TestRoomDeliveryIncludesSenderWithoutExcept tests broadcasts that reach every member
func TestRoomDeliveryIncludesSenderWithoutExcept(t *testing.T) {
	h := newTestHub()
	a := newDetachedClient(h, "a")
	b := newDetachedClient(h, "b")
	h.handleJoin(membership{client: a, room: "r"})
	h.handleJoin(membership{client: b, room: "r"})

	h.handleDelivery(delivery{room: "r", payload: []byte("msg")})

	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Error("Expected both members to receive the message")
	}
}

// TestTargetedAndGlobalDelivery tests Send and BroadcastAll routing
func TestTargetedAndGlobalDelivery(t *testing.T) {
	h := newTestHub()
	a := newDetachedClient(h, "a")
	b := newDetachedClient(h, "b")

	h.handleDelivery(delivery{target: a, payload: []byte("history")})
	if len(drain(a)) != 1 || len(drain(b)) != 0 {
		t.Error("Targeted delivery should reach only its target")
	}

	h.handleDelivery(delivery{all: true, payload: []byte("all")})
	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Error("Global delivery should reach every client")
	}
}

// TestJoinIsAdditiveAndIdempotent tests multiple rooms per client
func TestJoinIsAdditiveAndIdempotent(t *testing.T) {
	h := newTestHub()
	c := newDetachedClient(h, "a")

	h.handleJoin(membership{client: c, room: "r1"})
	h.handleJoin(membership{client: c, room: "r1"})
	h.handleJoin(membership{client: c, room: "r2"})

	if h.RoomSize("r1") != 1 || h.RoomSize("r2") != 1 {
		t.Errorf("Expected one member per room, got r1=%d r2=%d", h.RoomSize("r1"), h.RoomSize("r2"))
	}
}

// TestJoinIgnoresUnregisteredClient tests that departed clients cannot rejoin rooms
func TestJoinIgnoresUnregisteredClient(t *testing.T) {
	h := newTestHub()
	c := NewClient(nil, h, nil, "a", DefaultConfig())

	h.handleJoin(membership{client: c, room: "r"})

	if h.RoomSize("r") != 0 {
		t.Error("Unregistered client should not be added to a room")
	}
}

// TestSlowConsumerIsRemoved tests that a full send buffer disconnects the client
func TestSlowConsumerIsRemoved(t *testing.T) {
	h := newTestHub()
	slow := newDetachedClient(h, "slow")
	fast := newDetachedClient(h, "fast")
	h.handleJoin(membership{client: slow, room: "r"})
	h.handleJoin(membership{client: fast, room: "r"})

	for i := 0; i < sendBufferSize; i++ {
		slow.send <- []byte("queued")
	}

	h.handleDelivery(delivery{room: "r", payload: []byte("overflow")})

	if h.ClientCount() != 1 {
		t.Errorf("Expected slow client to be removed, %d clients left", h.ClientCount())
	}
	if h.RoomSize("r") != 1 {
		t.Errorf("Expected slow client to leave the room, size %d", h.RoomSize("r"))
	}
	if !slow.closed {
		t.Error("Expected slow client to be marked closed")
	}

	got := drain(slow)
	if len(got) != sendBufferSize {
		t.Errorf("Expected the queued backlog then a closed channel, got %d messages", len(got))
	}
	if len(drain(fast)) != 1 {
		t.Error("Fast client should still receive the message")
	}
}

// TestDetachRemovesEmptyRooms tests room cleanup on departure
func TestDetachRemovesEmptyRooms(t *testing.T) {
	h := newTestHub()
	c := newDetachedClient(h, "a")
	h.handleJoin(membership{client: c, room: "r"})

	h.mutex.Lock()
	removed := h.detach(c)
	again := h.detach(c)
	h.mutex.Unlock()

	if !removed || again {
		t.Errorf("Expected first detach to succeed and second to be a no-op, got %v/%v", removed, again)
	}
	if _, ok := h.rooms["r"]; ok {
		t.Error("Expected empty room to be dropped")
	}
}

// TestSubmitAfterShutdownDoesNotBlock tests that fan-out calls return once the hub is gone
func TestSubmitAfterShutdownDoesNotBlock(t *testing.T) {
	h := newTestHub()
	go h.Run()

	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.BroadcastAll([]byte("late"))
		h.Broadcast("r", []byte("late"), nil)
		if h.Register(NewClient(nil, h, nil, "late", DefaultConfig())) {
			t.Error("Register should fail after shutdown")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Fan-out blocked after shutdown")
	}
}

// TestHubRunRegistersNilSafely tests that a nil registration is skipped
func TestHubRunRegistersNilSafely(t *testing.T) {
	h := newTestHub()
	go h.Run()
	defer func() { _ = h.Shutdown(time.Second) }()

	if !h.Register(nil) {
		t.Fatal("Register(nil) should be accepted by a running hub")
	}
	if h.ClientCount() != 0 {
		t.Errorf("Expected nil registration to be ignored, got %d clients", h.ClientCount())
	}
}
