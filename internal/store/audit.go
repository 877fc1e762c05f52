package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/snaglist/internal/model"
	"github.com/google/uuid"
)

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Insert appends an audit entry. Entries about an access link are tied to
// it for cascade deletion when the link still exists.
func (s *AuditStore) Insert(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var linkRef sql.NullString
	if e.ResourceType == model.ResourceAccessLink && e.ResourceID != nil {
		linkRef = sql.NullString{String: *e.ResourceID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, kind, resource_type, resource_id, link_id, actor_id, ip, user_agent, success, detail, created_at)
		VALUES (?, ?, ?, ?, (SELECT id FROM access_links WHERE id = ?), ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind.String(), e.ResourceType, nullString(e.ResourceID), linkRef, nullString(e.ActorID),
		e.IP, e.UserAgent, e.Success, e.Detail, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByResource returns the most recent entries for one resource.
func (s *AuditStore) ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, resource_type, resource_id, actor_id, ip, user_agent, success, detail, created_at
		FROM audit_entries WHERE resource_type = ? AND resource_id = ?
		ORDER BY created_at DESC, id LIMIT ?`,
		resourceType, resourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var kind string
		var resID, actorID sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &kind, &e.ResourceType, &resID, &actorID, &e.IP, &e.UserAgent, &e.Success, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.Kind, err = model.ParseEventKind(kind); err != nil {
			return nil, err
		}
		e.ResourceID = fromNullString(resID)
		e.ActorID = fromNullString(actorID)
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
