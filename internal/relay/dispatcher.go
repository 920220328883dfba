package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/autoreply"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// roomLocks hands out one mutex per room so that store writes and the
// broadcasts that follow them happen in the same order for every member.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *roomLocks) lock(roomID string) func() {
	l.mu.Lock()
	m, ok := l.locks[roomID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[roomID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Dispatcher runs the room-scoped relay.
type Dispatcher struct {
	store    history.Store
	replies  *autoreply.Engine
	fanout   Fanout
	notifier Notifier
	locks    roomLocks
	log      zerolog.Logger
}

// NewDispatcher wires a dispatcher. notifier may be nil to disable push
// notifications.
func NewDispatcher(store history.Store, replies *autoreply.Engine, fanout Fanout, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		replies:  replies,
		fanout:   fanout,
		notifier: notifier,
		locks:    roomLocks{locks: make(map[string]*sync.Mutex)},
		log:      logger.With().Str("component", "relay").Logger(),
	}
}

// HandleEvent decodes env and runs the matching operation. Failures are
// logged; nothing is reported back to the client.
func (d *Dispatcher) HandleEvent(ctx context.Context, c Conn, env Envelope) {
	var err error

	switch env.Event {
	case EventJoinRoom:
		var req JoinRoomRequest
		if err = decode(env.Data, &req); err == nil {
			err = d.Join(ctx, c, req)
		}
	case EventSendMessage:
		var req SendMessageRequest
		if err = decode(env.Data, &req); err == nil {
			err = d.SendMessage(ctx, c, req)
		}
	case EventTyping:
		err = d.Typing(ctx, c, env.Data)
	case EventAdminArchiveChat:
		var req RoomRequest
		if err = decode(env.Data, &req); err == nil {
			err = d.ArchiveChat(ctx, string(req.RoomID))
		}
	case EventAdminDeleteMessage:
		var req DeleteMessageRequest
		if err = decode(env.Data, &req); err == nil {
			err = d.deleteByRef(ctx, string(req.RoomID), req.MessageID)
		}
	default:
		metrics.EventsReceived.WithLabelValues("unknown").Inc()
		d.log.Warn().Str("event", env.Event).Str("conn", c.ID()).Msg("ignoring unknown event")
		return
	}

	metrics.EventsReceived.WithLabelValues(env.Event).Inc()
	if err != nil {
		d.log.Error().Err(err).Str("event", env.Event).Str("conn", c.ID()).Msg("event failed")
	}
}

// Join adds c to the room named by the user id, then sends it the room's
// history and, when present, the product payload. Nothing is broadcast.
func (d *Dispatcher) Join(ctx context.Context, c Conn, req JoinRoomRequest) error {
	roomID := string(req.UserID)
	if roomID == "" {
		return ErrMissingRoom
	}

	unlock := d.locks.lock(roomID)
	defer unlock()

	d.fanout.Join(c, roomID)

	msgs, err := d.store.History(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", roomID, err)
	}
	payload, err := Encode(EventChatHistory, msgs)
	if err != nil {
		return err
	}
	d.fanout.Send(c, payload)

	if present(req.Product) {
		payload, err := Encode(EventProductInfo, req.Product)
		if err != nil {
			return err
		}
		d.fanout.Send(c, payload)
	}

	d.log.Debug().Str("room", roomID).Str("conn", c.ID()).Int("history", len(msgs)).Msg("joined room")
	return nil
}

// SendMessage stores and broadcasts a message. A user message is followed
// by one admin reply per matching auto-reply rule; an admin message is
// handed to the notifier.
func (d *Dispatcher) SendMessage(ctx context.Context, c Conn, req SendMessageRequest) error {
	roomID := string(req.RoomID)
	if roomID == "" {
		return ErrMissingRoom
	}

	unlock := d.locks.lock(roomID)
	defer unlock()

	stored, err := d.appendAndBroadcast(ctx, roomID, history.Message{Sender: req.Sender, Body: req.Message})
	if err != nil {
		return err
	}

	switch req.Sender {
	case history.SenderUser:
		for _, reply := range d.replies.Evaluate(req.Message) {
			if _, err := d.appendAndBroadcast(ctx, roomID, history.Message{Sender: history.SenderAdmin, Body: reply.Text}); err != nil {
				return fmt.Errorf("auto-reply %s: %w", reply.Rule, err)
			}
			metrics.AutoReplies.WithLabelValues(reply.Rule).Inc()
		}
	case history.SenderAdmin:
		if d.notifier != nil {
			d.notifier.Notify(roomID, stored)
		}
	}
	return nil
}

func (d *Dispatcher) appendAndBroadcast(ctx context.Context, roomID string, msg history.Message) (history.Message, error) {
	stored, err := d.store.Append(ctx, roomID, msg)
	if err != nil {
		return history.Message{}, fmt.Errorf("append to %s: %w", roomID, err)
	}
	metrics.MessagesStored.WithLabelValues(senderLabel(stored.Sender)).Inc()

	payload, err := Encode(EventNewMessage, stored)
	if err != nil {
		return history.Message{}, err
	}
	d.fanout.Broadcast(roomID, payload, nil)
	return stored, nil
}

// Typing forwards the payload verbatim to the room, skipping the sender.
func (d *Dispatcher) Typing(_ context.Context, c Conn, data json.RawMessage) error {
	var req RoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.RoomID == "" {
		return ErrMissingRoom
	}

	payload, err := Encode(EventTyping, data)
	if err != nil {
		return err
	}
	d.fanout.Broadcast(string(req.RoomID), payload, c)
	return nil
}

// ArchiveChat tells the room it was archived. History is left untouched.
func (d *Dispatcher) ArchiveChat(_ context.Context, roomID string) error {
	if roomID == "" {
		return ErrMissingRoom
	}

	unlock := d.locks.lock(roomID)
	defer unlock()

	payload, err := Encode(EventChatArchived, ChatArchived{RoomID: roomID})
	if err != nil {
		return err
	}
	d.fanout.Broadcast(roomID, payload, nil)
	return nil
}

// DeleteMessage removes a message and announces the id to the room, whether
// or not the message existed.
func (d *Dispatcher) DeleteMessage(ctx context.Context, roomID string, id int64) error {
	if roomID == "" {
		return ErrMissingRoom
	}

	unlock := d.locks.lock(roomID)
	defer unlock()

	removed, err := d.store.Delete(ctx, roomID, id)
	if err != nil {
		return fmt.Errorf("delete %d from %s: %w", id, roomID, err)
	}

	payload, err := Encode(EventMessageDeleted, id)
	if err != nil {
		return err
	}
	d.fanout.Broadcast(roomID, payload, nil)

	d.log.Info().Str("room", roomID).Int64("message_id", id).Bool("removed", removed).Msg("message deleted")
	return nil
}

// deleteByRef deletes by a client-supplied id. An id that is not an integer
// cannot match a stored message; it is announced to the room as sent, and a
// missing id as null.
func (d *Dispatcher) deleteByRef(ctx context.Context, roomID string, ref json.RawMessage) error {
	if id, ok := parseMessageID(ref); ok {
		return d.DeleteMessage(ctx, roomID, id)
	}
	if roomID == "" {
		return ErrMissingRoom
	}
	if len(bytes.TrimSpace(ref)) == 0 {
		ref = json.RawMessage("null")
	}

	unlock := d.locks.lock(roomID)
	defer unlock()

	payload, err := Encode(EventMessageDeleted, ref)
	if err != nil {
		return err
	}
	d.fanout.Broadcast(roomID, payload, nil)

	d.log.Info().Str("room", roomID).RawJSON("message_id", ref).Msg("delete of a non-numeric id announced")
	return nil
}

func senderLabel(s history.Sender) string {
	switch s {
	case history.SenderUser, history.SenderAdmin:
		return string(s)
	}
	return "other"
}
