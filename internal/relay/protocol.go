// Package relay implements the room-scoped chat relay: joining rooms,
// storing and fanning out messages, auto-replies, typing indicators and the
// admin archive/delete operations, plus a broadcast-to-everyone mode.
//
// Events travel as JSON envelopes, one per WebSocket frame:
//
//	{"event": "sendMessage", "data": {"roomId": "u1", "sender": "user", "message": "hi"}}
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Tyrowin/gochat-relay/internal/history"
)

// Client to server events.
const (
	EventJoinRoom           = "joinRoom"
	EventSendMessage        = "sendMessage"
	EventTyping             = "typing"
	EventAdminArchiveChat   = "adminArchiveChat"
	EventAdminDeleteMessage = "adminDeleteMessage"
)

// Server to client events.
const (
	EventChatHistory    = "chatHistory"
	EventProductInfo    = "productInfo"
	EventNewMessage     = "newMessage"
	EventChatArchived   = "chatArchived"
	EventMessageDeleted = "messageDeleted"
)

var (
	// ErrMissingRoom is returned for events that do not name a room.
	ErrMissingRoom = errors.New("room id is required")
	// ErrMissingPayload is returned for events without data.
	ErrMissingPayload = errors.New("event payload is required")
)

// Envelope is the wire form of every event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomID accepts both JSON strings and numbers, since user ids are often
// numeric on the client side.
type RoomID string

// UnmarshalJSON implements json.Unmarshaler.
func (r *RoomID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = RoomID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("room id must be a string or a number: %w", err)
	}
	*r = RoomID(n.String())
	return nil
}

// parseMessageID reads a stored message id from a JSON number or a numeric
// string. Anything else is not an id the store could hold.
func parseMessageID(raw json.RawMessage) (int64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		id, err := strconv.ParseInt(s, 10, 64)
		return id, err == nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	id, err := n.Int64()
	return id, err == nil
}

// JoinRoomRequest is the joinRoom payload. The room is the user id.
type JoinRoomRequest struct {
	UserID  RoomID          `json:"userId"`
	Product json.RawMessage `json:"product,omitempty"`
}

// SendMessageRequest is the sendMessage payload.
type SendMessageRequest struct {
	RoomID  RoomID         `json:"roomId"`
	Sender  history.Sender `json:"sender"`
	Message string         `json:"message"`
}

// RoomRequest is the payload of typing and adminArchiveChat.
type RoomRequest struct {
	RoomID RoomID `json:"roomId"`
}

// DeleteMessageRequest is the adminDeleteMessage payload. MessageID is kept
// as sent so that ids the store cannot hold are still echoed back.
type DeleteMessageRequest struct {
	RoomID    RoomID          `json:"roomId"`
	MessageID json.RawMessage `json:"messageId"`
}

// ChatArchived is the chatArchived payload.
type ChatArchived struct {
	RoomID string `json:"roomId"`
}

// Encode builds the wire form of an outbound event.
func Encode(event string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrMissingPayload
	}
	return json.Unmarshal(data, v)
}

// present mirrors a truthiness check on an optional payload field.
func present(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", `""`, "0":
		return false
	}
	return true
}
