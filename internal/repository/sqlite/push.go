package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

var _ repository.PushRepository = (*DB)(nil)

// UpsertSubscription stores a subscription keyed by endpoint. Subscribing
// again refreshes the keys and reactivates it.
func (db *DB) UpsertSubscription(ctx context.Context, s *model.PushSubscription) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO push_subscriptions (username, endpoint, auth, p256dh, is_active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		     username = excluded.username,
		     auth = excluded.auth,
		     p256dh = excluded.p256dh,
		     is_active = 1`,
		s.Username, s.Endpoint, s.Auth, s.P256dh, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upserting push subscription: %w", err)
	}
	s.IsActive = true
	return db.conn.QueryRowContext(ctx,
		`SELECT id FROM push_subscriptions WHERE endpoint = ?`, s.Endpoint).Scan(&s.ID)
}

// DeactivateSubscription is a no-op for unknown endpoints.
func (db *DB) DeactivateSubscription(ctx context.Context, endpoint string) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE push_subscriptions SET is_active = 0 WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("sqlite: deactivating push subscription: %w", err)
	}
	return nil
}

func (db *DB) ListActiveSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, endpoint, auth, p256dh, is_active, created_at
		 FROM push_subscriptions WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing push subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []model.PushSubscription{}
	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.ID, &s.Username, &s.Endpoint, &s.Auth, &s.P256dh, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning push subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
