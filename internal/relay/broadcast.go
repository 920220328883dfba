package relay

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// Broadcast is the minimal relay: every sendMessage payload goes, verbatim,
// to every connected client as a newMessage event. There are no rooms, no
// history and no auto-replies; other events are ignored.
type Broadcast struct {
	fanout Fanout
	log    zerolog.Logger
}

// NewBroadcast creates the broadcast-to-everyone relay.
func NewBroadcast(fanout Fanout, logger zerolog.Logger) *Broadcast {
	return &Broadcast{
		fanout: fanout,
		log:    logger.With().Str("component", "broadcast").Logger(),
	}
}

// HandleEvent implements Handler.
func (b *Broadcast) HandleEvent(_ context.Context, c Conn, env Envelope) {
	if env.Event != EventSendMessage {
		b.log.Debug().Str("event", env.Event).Str("conn", c.ID()).Msg("ignoring event in broadcast mode")
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	payload, err := Encode(EventNewMessage, env.Data)
	if err != nil {
		b.log.Error().Err(err).Str("conn", c.ID()).Msg("encode broadcast")
		return
	}
	b.fanout.BroadcastAll(payload)
}
