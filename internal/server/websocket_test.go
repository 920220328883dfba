package server_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/testhelpers"
)

const quietPeriod = 200 * time.Millisecond

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := testhelpers.SendEvent(conn, event, data); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, room interface{}) []history.Message {
	t.Helper()
	send(t, conn, "joinRoom", map[string]interface{}{"userId": room})
	var msgs []history.Message
	testhelpers.ExpectEvent(t, conn, "chatHistory").Decode(t, &msgs)
	return msgs
}

func expectMessage(t *testing.T, conn *websocket.Conn) history.Message {
	t.Helper()
	var msg history.Message
	testhelpers.ExpectEvent(t, conn, "newMessage").Decode(t, &msg)
	return msg
}

type recordingNotifier struct {
	mu    sync.Mutex
	rooms []string
	msgs  []history.Message
}

func (n *recordingNotifier) Notify(roomID string, msg history.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms = append(n.rooms, roomID)
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// TestJoinSendsHistoryAndProduct tests the join handshake
func TestJoinSendsHistoryAndProduct(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	conn := testhelpers.MustConnect(t, f.wsURL)

	send(t, conn, "joinRoom", map[string]interface{}{
		"userId":  "42",
		"product": map[string]string{"name": "Sepatu", "url": "https://shop.example/p/1"},
	})

	var msgs []history.Message
	testhelpers.ExpectEvent(t, conn, "chatHistory").Decode(t, &msgs)
	if len(msgs) != 0 {
		t.Errorf("Expected empty history, got %d messages", len(msgs))
	}

	var product map[string]string
	testhelpers.ExpectEvent(t, conn, "productInfo").Decode(t, &product)
	if product["name"] != "Sepatu" {
		t.Errorf("Expected product to be echoed verbatim, got %v", product)
	}
}

// TestUserMessageTriggersAutoReply tests the room send flow end to end
func TestUserMessageTriggersAutoReply(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, fixtureOptions{notifier: notifier})

	user := testhelpers.MustConnect(t, f.wsURL)
	admin := testhelpers.MustConnect(t, f.wsURL)
	joinRoom(t, user, "42")
	joinRoom(t, admin, 42)

	send(t, user, "sendMessage", map[string]string{
		"roomId":  "42",
		"sender":  "user",
		"message": "Bagaimana cara bayar?",
	})

	for _, conn := range []*websocket.Conn{user, admin} {
		first := expectMessage(t, conn)
		if first.ID != 1 || first.Sender != history.SenderUser || first.Body != "Bagaimana cara bayar?" {
			t.Errorf("Unexpected original message %+v", first)
		}
		reply := expectMessage(t, conn)
		if reply.ID != 2 || reply.Sender != history.SenderAdmin || !strings.HasPrefix(reply.Body, "Untuk cara bayar") {
			t.Errorf("Unexpected auto-reply %+v", reply)
		}
	}

	if notifier.count() != 0 {
		t.Error("User messages and auto-replies must not notify")
	}

	send(t, admin, "sendMessage", map[string]string{
		"roomId":  "42",
		"sender":  "admin",
		"message": "Ada yang bisa dibantu?",
	})
	for _, conn := range []*websocket.Conn{user, admin} {
		if msg := expectMessage(t, conn); msg.ID != 3 || msg.Sender != history.SenderAdmin {
			t.Errorf("Unexpected admin message %+v", msg)
		}
	}

	deadline := time.Now().Add(time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if notifier.count() != 1 || notifier.rooms[0] != "42" {
		t.Errorf("Expected one notification for room 42, got %v", notifier.rooms)
	}

	late := testhelpers.MustConnect(t, f.wsURL)
	if got := joinRoom(t, late, "42"); len(got) != 3 {
		t.Errorf("Expected 3 messages of history for a late joiner, got %d", len(got))
	}
}

// TestRoomsAreIsolated tests that events stay within their room
func TestRoomsAreIsolated(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a := testhelpers.MustConnect(t, f.wsURL)
	b := testhelpers.MustConnect(t, f.wsURL)
	joinRoom(t, a, "room-a")
	joinRoom(t, b, "room-b")

	send(t, a, "sendMessage", map[string]string{"roomId": "room-a", "sender": "user", "message": "halo"})
	expectMessage(t, a)

	testhelpers.ExpectNoEvent(t, b, quietPeriod)
}

// TestJoinDuringConcurrentSends tests that a joiner sees every message exactly
// once, either in its history snapshot or as a later broadcast
func TestJoinDuringConcurrentSends(t *testing.T) {
	const (
		senders    = 4
		perSender  = 25
		total      = senders * perSender
		joinAfter  = 30
		roomID     = "busy"
		readWindow = 5 * time.Second
	)
	f := newFixture(t, fixtureOptions{})

	conns := make([]*websocket.Conn, senders)
	for i := range conns {
		conns[i] = testhelpers.MustConnect(t, f.wsURL)
	}
	joiner := testhelpers.MustConnect(t, f.wsURL)

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				err := testhelpers.SendEvent(conn, "sendMessage", map[string]string{
					"roomId":  roomID,
					"sender":  "admin",
					"message": fmt.Sprintf("sender %d message %d", i, j),
				})
				if err != nil {
					t.Errorf("Sender %d failed: %v", i, err)
					return
				}
			}
		}(i, conn)
	}

	deadline := time.Now().Add(readWindow)
	for {
		msgs, err := f.store.History(context.Background(), roomID)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(msgs) >= joinAfter || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	var ids []int64
	for _, msg := range joinRoom(t, joiner, roomID) {
		ids = append(ids, msg.ID)
	}
	snapshot := len(ids)

	for len(ids) < total {
		ev, err := testhelpers.ReceiveEvent(joiner, readWindow)
		if err != nil {
			t.Fatalf("Joiner stopped after %d of %d messages: %v", len(ids), total, err)
		}
		if ev.Event != "newMessage" {
			t.Fatalf("Unexpected event %s", ev.Event)
		}
		var msg history.Message
		ev.Decode(t, &msg)
		ids = append(ids, msg.ID)
	}
	wg.Wait()

	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("Expected id %d at position %d (history had %d), got %d", i+1, i, snapshot, id)
		}
	}
	testhelpers.ExpectNoEvent(t, joiner, quietPeriod)
}

// TestTypingSkipsSender tests the typing relay
func TestTypingSkipsSender(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	user := testhelpers.MustConnect(t, f.wsURL)
	admin := testhelpers.MustConnect(t, f.wsURL)
	joinRoom(t, user, "7")
	joinRoom(t, admin, "7")

	send(t, user, "typing", map[string]interface{}{"roomId": "7", "isTyping": true})

	var data map[string]interface{}
	testhelpers.ExpectEvent(t, admin, "typing").Decode(t, &data)
	if data["isTyping"] != true || data["roomId"] != "7" {
		t.Errorf("Expected typing payload to be relayed verbatim, got %v", data)
	}

	testhelpers.ExpectNoEvent(t, user, quietPeriod)
}

// TestAdminDeleteAndArchive tests the admin operations
func TestAdminDeleteAndArchive(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	user := testhelpers.MustConnect(t, f.wsURL)
	admin := testhelpers.MustConnect(t, f.wsURL)
	joinRoom(t, user, "9")
	joinRoom(t, admin, "9")

	for _, text := range []string{"satu", "dua"} {
		send(t, user, "sendMessage", map[string]string{"roomId": "9", "sender": "user", "message": text})
		expectMessage(t, user)
		expectMessage(t, admin)
	}

	send(t, admin, "adminDeleteMessage", map[string]interface{}{"roomId": "9", "messageId": "1"})
	for _, conn := range []*websocket.Conn{user, admin} {
		var id int64
		testhelpers.ExpectEvent(t, conn, "messageDeleted").Decode(t, &id)
		if id != 1 {
			t.Errorf("Expected deleted id 1, got %d", id)
		}
	}

	msgs, err := f.store.History(context.Background(), "9")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "dua" {
		t.Errorf("Expected only the second message to remain, got %+v", msgs)
	}

	send(t, admin, "adminArchiveChat", map[string]string{"roomId": "9"})
	for _, conn := range []*websocket.Conn{user, admin} {
		var archived map[string]string
		testhelpers.ExpectEvent(t, conn, "chatArchived").Decode(t, &archived)
		if archived["roomId"] != "9" {
			t.Errorf("Expected chatArchived for room 9, got %v", archived)
		}
	}
}

// TestMalformedFramesAreDropped tests that bad input does not kill the connection
func TestMalformedFramesAreDropped(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	conn := testhelpers.MustConnect(t, f.wsURL)

	frames := []string{
		"not json",
		`{"data":{}}`,
		`{"event":"joinRoom"}`,
		`{"event":"sendMessage","data":{"sender":"user","message":"no room"}}`,
		`{"event":"unknownEvent","data":{}}`,
	}
	for _, frame := range frames {
		if err := testhelpers.SendRawMessage(conn, websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Failed to send frame %q: %v", frame, err)
		}
	}

	if got := joinRoom(t, conn, "still-alive"); len(got) != 0 {
		t.Errorf("Expected empty history, got %d", len(got))
	}
}

// TestBroadcastModeRelaysToEveryone tests the minimal relay
func TestBroadcastModeRelaysToEveryone(t *testing.T) {
	f := newFixture(t, fixtureOptions{broadcast: true})

	a := testhelpers.MustConnect(t, f.wsURL)
	b := testhelpers.MustConnect(t, f.wsURL)

	// Both connections must be registered before the send
	deadline := time.Now().Add(time.Second)
	for f.hub.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	send(t, a, "sendMessage", map[string]string{"text": "hello all"})

	for _, conn := range []*websocket.Conn{a, b} {
		var data map[string]string
		testhelpers.ExpectEvent(t, conn, "newMessage").Decode(t, &data)
		if data["text"] != "hello all" {
			t.Errorf("Expected verbatim payload, got %v", data)
		}
	}

	msgs, err := f.store.History(context.Background(), "")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Error("Broadcast mode must not store history")
	}
}

// TestDisallowedOriginIsRejected tests the origin allow-list on upgrade
func TestDisallowedOriginIsRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	for _, origin := range []string{"http://evil.example", ""} {
		conn, err := testhelpers.ConnectWebSocketWithOrigin(f.wsURL, origin)
		if err == nil {
			_ = conn.Close()
			t.Errorf("Expected origin %q to be rejected", origin)
		}
	}
}

// TestRateLimitDropsExcessEvents tests per-connection throttling
func TestRateLimitDropsExcessEvents(t *testing.T) {
	f := newFixture(t, fixtureOptions{configure: func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	}})

	conn := testhelpers.MustConnect(t, f.wsURL)
	joinRoom(t, conn, "rl")

	for i := 0; i < 3; i++ {
		send(t, conn, "sendMessage", map[string]string{"roomId": "rl", "sender": "user", "message": "spam"})
	}

	expectMessage(t, conn)
	testhelpers.ExpectNoEvent(t, conn, quietPeriod)

	msgs, err := f.store.History(context.Background(), "rl")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected 1 stored message, got %d", len(msgs))
	}
}

// TestOversizedFrameClosesConnection tests the read limit
func TestOversizedFrameClosesConnection(t *testing.T) {
	f := newFixture(t, fixtureOptions{configure: func(cfg *server.Config) {
		cfg.MaxMessageSize = 64
	}})

	conn := testhelpers.MustConnect(t, f.wsURL)
	send(t, conn, "sendMessage", map[string]string{
		"roomId":  "big",
		"sender":  "user",
		"message": strings.Repeat("x", 256),
	})

	if ev, err := testhelpers.ReceiveEvent(conn, 2*time.Second); err == nil {
		t.Fatalf("Expected the connection to be closed, got %s", ev.Event)
	}
}

// TestShutdownClosesClients tests graceful hub shutdown
func TestShutdownClosesClients(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	conn := testhelpers.MustConnect(t, f.wsURL)
	joinRoom(t, conn, "bye")

	if err := f.hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, err := testhelpers.ReceiveEvent(conn, 2*time.Second); err == nil {
		t.Error("Expected the connection to be closed after shutdown")
	}
}
