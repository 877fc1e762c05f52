package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
	"github.com/google/uuid"
)

type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

const backupColumns = `id, filename, object_key, size_bytes, status, error_message, started_at, completed_at, created_at`

func scanBackup(row interface{ Scan(...any) error }) (*model.Backup, error) {
	var b model.Backup
	var errMsg sql.NullString
	var started, created int64
	var completed sql.NullInt64
	if err := row.Scan(&b.ID, &b.Filename, &b.ObjectKey, &b.SizeBytes, &b.Status, &errMsg, &started, &completed, &created); err != nil {
		return nil, err
	}
	b.ErrorMessage = errMsg.String
	b.StartedAt = fromMillis(started)
	b.CompletedAt = fromNullMillis(completed)
	b.CreatedAt = fromMillis(created)
	return &b, nil
}

// Create records a snapshot that is being uploaded.
func (s *BackupStore) Create(ctx context.Context, filename, objectKey string, now time.Time) (*model.Backup, error) {
	b := &model.Backup{
		ID:        uuid.NewString(),
		Filename:  filename,
		ObjectKey: objectKey,
		Status:    model.BackupStatusUploading,
		StartedAt: now.UTC(),
		CreatedAt: now.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backups (id, filename, object_key, status, started_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Filename, b.ObjectKey, b.Status, toMillis(now), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	return b, nil
}

func (s *BackupStore) GetByID(ctx context.Context, id string) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return b, nil
}

// List returns the newest snapshots first.
func (s *BackupStore) List(ctx context.Context, limit int) ([]model.Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (s *BackupStore) MarkFailed(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, error_message = ? WHERE id = ?`,
		model.BackupStatusFailed, message, id,
	)
	if err != nil {
		return fmt.Errorf("mark backup failed: %w", err)
	}
	return nil
}

func (s *BackupStore) MarkCompleted(ctx context.Context, id string, sizeBytes int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, size_bytes = ?, completed_at = ?, error_message = NULL WHERE id = ?`,
		model.BackupStatusCompleted, sizeBytes, toMillis(now), id,
	)
	if err != nil {
		return fmt.Errorf("mark backup completed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes snapshot records created before the cutoff and
// returns their object keys.
func (s *BackupStore) DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM backups WHERE created_at < ? RETURNING object_key`, toMillis(before),
	)
	if err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *BackupStore) LatestCompleted(ctx context.Context) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE status = ? ORDER BY completed_at DESC LIMIT 1`,
		model.BackupStatusCompleted,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed backup: %w", err)
	}
	return b, nil
}
