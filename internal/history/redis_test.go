package history

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client)
}

// TestRedisStoreAppendAndHistory verifies ordering and id assignment.
func TestRedisStoreAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	for _, body := range []string{"jam operasional?", "terima kasih"} {
		if _, err := store.Append(ctx, "u1", Message{Sender: SenderUser, Body: body}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	reply, err := store.Append(ctx, "u1", Message{Sender: SenderAdmin, Body: "sama-sama"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if reply.ID != 3 {
		t.Errorf("Expected third id to be 3, got %d", reply.ID)
	}

	got, err := store.History(ctx, "u1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []string{"jam operasional?", "terima kasih", "sama-sama"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(got))
	}
	for i, m := range got {
		if m.Body != want[i] {
			t.Errorf("Message %d: expected %q, got %q", i, want[i], m.Body)
		}
	}
	if got[2].Sender != SenderAdmin {
		t.Errorf("Expected admin sender, got %q", got[2].Sender)
	}
}

// TestRedisStoreEmptyRoom verifies that an unknown room is empty and non-nil.
func TestRedisStoreEmptyRoom(t *testing.T) {
	got, err := newTestRedisStore(t).History(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil history, got %#v", got)
	}
}

// TestRedisStoreDelete verifies removal by id and the no-op path.
func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	for _, body := range []string{"one", "two", "three"} {
		_, _ = store.Append(ctx, "u1", Message{Sender: SenderUser, Body: body})
	}

	removed, err := store.Delete(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !removed {
		t.Error("Expected message 2 to be removed")
	}

	removed, err = store.Delete(ctx, "u1", 42)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removed {
		t.Error("Expected unknown id to be a no-op")
	}

	got, _ := store.History(ctx, "u1")
	if len(got) != 2 || got[0].Body != "one" || got[1].Body != "three" {
		t.Errorf("Unexpected history after delete: %+v", got)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Rooms != 1 || st.Messages != 2 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}
