package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomsKey = "relay:rooms"

// RedisStore keeps each room in a sorted set scored by message id. Ids come
// from a per-room INCR counter, so the set order is the append order.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:messages", roomID)
}

func roomSeqKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:seq", roomID)
}

// Append stores msg with the next id of the room.
func (s *RedisStore) Append(ctx context.Context, roomID string, msg Message) (Message, error) {
	id, err := s.client.Incr(ctx, roomSeqKey(roomID)).Result()
	if err != nil {
		return Message{}, fmt.Errorf("next message id: %w", err)
	}

	msg.ID = id
	msg.Timestamp = s.now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, roomMessagesKey(roomID), redis.Z{
			Score:  float64(id),
			Member: string(data),
		})
		pipe.SAdd(ctx, roomsKey, roomID)
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("store message: %w", err)
	}

	return msg, nil
}

// History returns the room's messages oldest first.
func (s *RedisStore) History(ctx context.Context, roomID string) ([]Message, error) {
	results, err := s.client.ZRange(ctx, roomMessagesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]Message, 0, len(results))
	for _, data := range results {
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete removes the message scored with id.
func (s *RedisStore) Delete(ctx context.Context, roomID string, id int64) (bool, error) {
	key := roomMessagesKey(roomID)
	score := strconv.FormatInt(id, 10)

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("find message: %w", err)
	}
	if len(members) == 0 {
		return false, nil
	}

	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}

	removed, err := s.client.ZRem(ctx, key, args...).Result()
	if err != nil {
		return false, fmt.Errorf("remove message: %w", err)
	}
	return removed > 0, nil
}

// Stats counts known rooms and the messages they hold.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	rooms, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("list rooms: %w", err)
	}

	pipe := s.client.Pipeline()
	cards := make([]*redis.IntCmd, len(rooms))
	for i, roomID := range rooms {
		cards[i] = pipe.ZCard(ctx, roomMessagesKey(roomID))
	}
	if len(rooms) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return Stats{}, fmt.Errorf("count messages: %w", err)
		}
	}

	st := Stats{Rooms: len(rooms)}
	for _, c := range cards {
		st.Messages += int(c.Val())
	}
	return st, nil
}
