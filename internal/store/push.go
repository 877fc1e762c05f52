package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
	"github.com/google/uuid"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushColumns = `id, owner_id, endpoint, p256dh_key, auth_key, device_name, created_at`

// CreateSubscription registers an endpoint for ownerID. Re-registering an
// endpoint refreshes its keys and moves it to the new owner.
func (s *PushStore) CreateSubscription(ctx context.Context, ownerID, endpoint, p256dh, auth, deviceName string, now time.Time) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var created int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (id, owner_id, endpoint, p256dh_key, auth_key, device_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			owner_id = excluded.owner_id,
			p256dh_key = excluded.p256dh_key,
			auth_key = excluded.auth_key,
			device_name = excluded.device_name
		RETURNING `+pushColumns,
		uuid.NewString(), ownerID, endpoint, p256dh, auth, deviceName, toMillis(now),
	).Scan(&sub.ID, &sub.OwnerID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &created)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	sub.CreatedAt = fromMillis(created)
	return &sub, nil
}

func (s *PushStore) ListByOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pushColumns+` FROM push_subscriptions WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		var created int64
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &created); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		sub.CreatedAt = fromMillis(created)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes one of ownerID's subscriptions and reports
// whether it existed.
func (s *PushStore) DeleteSubscription(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByEndpoint drops a subscription the push service reported gone.
func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
