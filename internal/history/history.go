// Package history keeps the per-room message log that backs the relay.
//
// A room is identified by an opaque string (usually a user id). Each room
// owns an ordered sequence of messages: insertion order is chronological
// order, and the sequence only changes by appending or by deleting a
// message by id. Implementations must be safe for concurrent use.
package history

import (
	"context"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAdmin Sender = "admin"
)

// Message is a single entry of a room's history.
type Message struct {
	ID        int64     `json:"id"`
	Sender    Sender    `json:"sender"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes the content of a store.
type Stats struct {
	Rooms    int
	Messages int
}

// Store is the repository behind the relay. Append assigns the id and
// timestamp of the message and returns the stored copy. History returns an
// empty, non-nil slice for unknown rooms. Delete reports whether a message
// was removed; unknown rooms and ids are not errors.
type Store interface {
	Append(ctx context.Context, roomID string, msg Message) (Message, error)
	History(ctx context.Context, roomID string) ([]Message, error)
	Delete(ctx context.Context, roomID string, id int64) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}
