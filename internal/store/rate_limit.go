package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
)

type RateLimitStore struct {
	db *sql.DB
}

func NewRateLimitStore(db *sql.DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

// IncrementIfBelow counts one request against the live window for key and
// action in a single UPSERT. A dead window (window_end <= now) is replaced by
// a fresh one with count 1. A live window at its limit is bumped once to
// limit+1 and then left alone, so the returned count is > limit exactly when
// the request must be rejected.
func (s *RateLimitStore) IncrementIfBelow(ctx context.Context, key string, action model.Action, limit int, window time.Duration, now time.Time) (model.RateLimitCounter, error) {
	nowMS := toMillis(now)
	var count int
	var start, end int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limit_counters (key, action, count, window_start, window_end)
		VALUES (?1, ?2, 1, ?3, ?4)
		ON CONFLICT (key, action) DO UPDATE SET
			count = CASE
				WHEN window_end <= ?3 THEN 1
				WHEN count <= ?5 THEN count + 1
				ELSE count END,
			window_start = CASE WHEN window_end <= ?3 THEN excluded.window_start ELSE window_start END,
			window_end = CASE WHEN window_end <= ?3 THEN excluded.window_end ELSE window_end END
		RETURNING count, window_start, window_end`,
		key, action.String(), nowMS, toMillis(now.Add(window)), limit,
	).Scan(&count, &start, &end)
	if err != nil {
		return model.RateLimitCounter{}, fmt.Errorf("increment rate limit counter: %w", err)
	}
	return model.RateLimitCounter{
		Key:         key,
		Action:      action,
		Count:       count,
		WindowStart: fromMillis(start),
		WindowEnd:   fromMillis(end),
	}, nil
}

// DeleteExpired removes counters whose window has ended.
func (s *RateLimitStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE window_end <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limit counters: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
