package relay

import (
	"context"

	"github.com/Tyrowin/gochat-relay/internal/history"
)

// Conn is a connected client as seen by the relay.
type Conn interface {
	ID() string
}

// Fanout delivers encoded events to connections. Implementations must
// deliver calls made from one goroutine in call order.
type Fanout interface {
	// Join adds c to the room's fan-out group. Joins are additive.
	Join(c Conn, roomID string)
	// Send delivers payload to c only.
	Send(c Conn, payload []byte)
	// Broadcast delivers payload to every member of the room except the
	// given connection, which may be nil.
	Broadcast(roomID string, payload []byte, except Conn)
	// BroadcastAll delivers payload to every connected client.
	BroadcastAll(payload []byte)
}

// Notifier informs out-of-room subscribers about admin messages. Notify
// must return without waiting for delivery.
type Notifier interface {
	Notify(roomID string, msg history.Message)
}

// Handler consumes inbound events of one connection, in arrival order.
type Handler interface {
	HandleEvent(ctx context.Context, c Conn, env Envelope)
}
