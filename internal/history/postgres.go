package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const messagesSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         BIGSERIAL PRIMARY KEY,
	room_id    TEXT NOT NULL,
	sender     TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_messages_room_id_idx ON chat_messages (room_id, id);
`

// OpenPostgres opens a pq connection pool and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore keeps history in the chat_messages table. Ids come from a
// single BIGSERIAL sequence: unique and increasing across all rooms.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db. Call Migrate before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, messagesSchema); err != nil {
		return fmt.Errorf("migrate chat_messages: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts msg and returns it with the generated id and timestamp.
func (s *PostgresStore) Append(ctx context.Context, roomID string, msg Message) (Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (room_id, sender, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, roomID, string(msg.Sender), msg.Body).Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// History returns the room's messages oldest first.
func (s *PostgresStore) History(ctx context.Context, roomID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, body, created_at
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		var sender string
		if err := rows.Scan(&m.ID, &sender, &m.Body, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = Sender(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes one message of the room.
func (s *PostgresStore) Delete(ctx context.Context, roomID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE room_id = $1 AND id = $2`,
		roomID, id,
	)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats counts distinct rooms and stored messages.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT room_id), COUNT(*) FROM chat_messages`,
	).Scan(&st.Rooms, &st.Messages)
	if err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	return st, nil
}
