package notify

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Keys holds the client's push encryption keys.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a browser PushSubscription as posted by the client.
type Subscription struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
	Keys           Keys   `json:"keys"`
}

// SubscriptionStore is the process-wide subscription list. There is no
// dedup and no expiry.
type SubscriptionStore interface {
	Add(ctx context.Context, sub Subscription) error
	List(ctx context.Context) ([]Subscription, error)
}

// MemorySubscriptions keeps subscriptions until the process exits.
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs []Subscription
}

// NewMemorySubscriptions creates an empty list.
func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{}
}

// Add appends sub.
func (m *MemorySubscriptions) Add(_ context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return nil
}

// List returns a snapshot of all subscriptions.
func (m *MemorySubscriptions) List(_ context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Subscription(nil), m.subs...), nil
}

const subscriptionsSchema = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id         BIGSERIAL PRIMARY KEY,
	endpoint   TEXT NOT NULL,
	p256dh     TEXT NOT NULL,
	auth       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresSubscriptions stores subscriptions in push_subscriptions.
type PostgresSubscriptions struct {
	db *sql.DB
}

// NewPostgresSubscriptions wraps db. Call Migrate before first use.
func NewPostgresSubscriptions(db *sql.DB) *PostgresSubscriptions {
	return &PostgresSubscriptions{db: db}
}

// Migrate creates the table if it does not exist.
func (p *PostgresSubscriptions) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, subscriptionsSchema); err != nil {
		return fmt.Errorf("migrate push_subscriptions: %w", err)
	}
	return nil
}

// Add inserts sub.
func (p *PostgresSubscriptions) Add(ctx context.Context, sub Subscription) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (endpoint, p256dh, auth) VALUES ($1, $2, $3)`,
		sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// List returns every stored subscription, oldest first.
func (p *PostgresSubscriptions) List(ctx context.Context) ([]Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT endpoint, p256dh, auth FROM push_subscriptions ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
