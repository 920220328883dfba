package history

import (
	"context"
	"sync"
	"time"
)

type room struct {
	mu       sync.Mutex
	seq      int64
	messages []Message
}

// MemoryStore keeps history in process memory. Every room has its own lock
// and its own id counter, so ids are strictly increasing within a room.
// Growth is unbounded.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
}

func (s *MemoryStore) room(roomID string, create bool) *room {
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok || !create {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rooms[roomID]; !ok {
		r = &room{}
		s.rooms[roomID] = r
	}
	return r
}

// Append stores msg at the end of the room's sequence.
func (s *MemoryStore) Append(_ context.Context, roomID string, msg Message) (Message, error) {
	r := s.room(roomID, true)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	msg.ID = r.seq
	msg.Timestamp = s.now()
	r.messages = append(r.messages, msg)
	return msg, nil
}

// History returns a copy of the room's sequence.
func (s *MemoryStore) History(_ context.Context, roomID string) ([]Message, error) {
	r := s.room(roomID, false)
	if r == nil {
		return []Message{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out, nil
}

// Delete removes the message with the given id, keeping the order of the
// remaining messages.
func (s *MemoryStore) Delete(_ context.Context, roomID string, id int64) (bool, error) {
	r := s.room(roomID, false)
	if r == nil {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.messages {
		if m.ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Stats counts rooms and stored messages.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	st := Stats{Rooms: len(rooms)}
	for _, r := range rooms {
		r.mu.Lock()
		st.Messages += len(r.messages)
		r.mu.Unlock()
	}
	return st, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
