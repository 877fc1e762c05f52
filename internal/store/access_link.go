package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
	"github.com/google/uuid"
)

// slugAttempts is how many prefixed slugs are tried before the long fallback.
const slugAttempts = 5

var ErrSlugTaken = errors.New("slug already taken")

type AccessLinkStore struct {
	db *sql.DB
}

func NewAccessLinkStore(db *sql.DB) *AccessLinkStore {
	return &AccessLinkStore{db: db}
}

func scanAccessLink(scanner interface{ Scan(...any) error }) (*model.AccessLink, error) {
	var l model.AccessLink
	var slug, pinHash, pinSalt sql.NullString
	var level, snagIDs string
	var expiresAt, createdAt int64
	var revokedAt, lockedUntil, lastOpenedAt sql.NullInt64

	err := scanner.Scan(
		&l.ID, &l.Token, &slug, &level, &pinHash, &pinSalt, &l.PINScheme,
		&expiresAt, &revokedAt, &l.FailedPINAttempts, &lockedUntil,
		&l.OpenCount, &lastOpenedAt, &l.CreatedByID, &l.ProjectID,
		&l.ContractorID, &snagIDs, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if l.AccessLevel, err = model.ParseAccessLevel(level); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snagIDs), &l.SnagIDs); err != nil {
		return nil, fmt.Errorf("decode snag ids: %w", err)
	}
	l.Slug = fromNullString(slug)
	l.PINHash = fromNullString(pinHash)
	l.PINSalt = fromNullString(pinSalt)
	l.ExpiresAt = fromMillis(expiresAt)
	l.CreatedAt = fromMillis(createdAt)
	l.RevokedAt = fromNullMillis(revokedAt)
	l.LockedUntil = fromNullMillis(lockedUntil)
	l.LastOpenedAt = fromNullMillis(lastOpenedAt)
	return &l, nil
}

const accessLinkCols = `id, token, slug, access_level, pin_hash, pin_salt, pin_scheme,
	expires_at, revoked_at, failed_pin_attempts, locked_until,
	open_count, last_opened_at, created_by_id, project_id,
	contractor_id, snag_ids, created_at`

// NewAccessLink holds the fields fixed at creation time.
type NewAccessLink struct {
	Token        string
	SlugHint     string
	WithSlug     bool
	AccessLevel  model.AccessLevel
	PINHash      *string
	PINSalt      *string
	PINScheme    string
	ExpiresAt    time.Time
	CreatedByID  string
	ProjectID    string
	ContractorID string
	SnagIDs      []string
	CreatedAt    time.Time
}

// Create inserts a link. When WithSlug is set, a prefixed slug is generated
// and retried on collision before falling back to a long "snl-" slug.
func (s *AccessLinkStore) Create(ctx context.Context, in NewAccessLink) (*model.AccessLink, error) {
	if (in.PINHash == nil) != (in.PINSalt == nil) {
		return nil, fmt.Errorf("create access link: pin hash and salt must be set together")
	}
	if in.SnagIDs == nil {
		in.SnagIDs = []string{}
	}
	snagIDs, err := json.Marshal(in.SnagIDs)
	if err != nil {
		return nil, fmt.Errorf("encode snag ids: %w", err)
	}
	if in.PINScheme == "" {
		in.PINScheme = secure.SchemeSHA256
	}

	id := uuid.NewString()
	if !in.WithSlug {
		if err := s.insert(ctx, id, nil, in, string(snagIDs)); err != nil {
			return nil, err
		}
		return s.GetByID(ctx, id)
	}

	for attempt := 0; attempt <= slugAttempts; attempt++ {
		var slug string
		if attempt < slugAttempts {
			slug, err = secure.GenerateSlug(in.SlugHint)
		} else {
			slug, err = secure.FallbackSlug()
		}
		if err != nil {
			return nil, err
		}

		err = s.insert(ctx, id, &slug, in, string(snagIDs))
		if errors.Is(err, ErrSlugTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.GetByID(ctx, id)
	}
	return nil, fmt.Errorf("create access link: %w", ErrSlugTaken)
}

func (s *AccessLinkStore) insert(ctx context.Context, id string, slug *string, in NewAccessLink, snagIDs string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_links (id, token, slug, access_level, pin_hash, pin_salt, pin_scheme,
			expires_at, created_by_id, project_id, contractor_id, snag_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.Token, nullString(slug), in.AccessLevel.String(), nullString(in.PINHash), nullString(in.PINSalt),
		in.PINScheme, toMillis(in.ExpiresAt), in.CreatedByID, in.ProjectID, in.ContractorID, snagIDs,
		toMillis(in.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "access_links.slug") {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert access link: %w", err)
	}
	return nil
}

func (s *AccessLinkStore) getOne(ctx context.Context, op, where string, arg any) (*model.AccessLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accessLinkCols+` FROM access_links WHERE `+where, arg)
	l, err := scanAccessLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return l, nil
}

// GetByToken returns the link with the given token, or nil if none exists.
// The lookup goes through the unique index; the token is never compared in memory.
func (s *AccessLinkStore) GetByToken(ctx context.Context, token string) (*model.AccessLink, error) {
	return s.getOne(ctx, "get access link by token", `token = ?`, token)
}

func (s *AccessLinkStore) GetBySlug(ctx context.Context, slug string) (*model.AccessLink, error) {
	return s.getOne(ctx, "get access link by slug", `slug = ?`, slug)
}

func (s *AccessLinkStore) GetByID(ctx context.Context, id string) (*model.AccessLink, error) {
	return s.getOne(ctx, "get access link by id", `id = ?`, id)
}

// ListByCreator returns the owner's links, newest first.
func (s *AccessLinkStore) ListByCreator(ctx context.Context, createdByID string) ([]model.AccessLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accessLinkCols+` FROM access_links WHERE created_by_id = ? ORDER BY created_at DESC, id`,
		createdByID,
	)
	if err != nil {
		return nil, fmt.Errorf("list access links: %w", err)
	}
	defer rows.Close()

	var links []model.AccessLink
	for rows.Next() {
		l, err := scanAccessLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access link: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// Revoke sets revoked_at if it is not already set. It reports whether a row
// owned by createdByID changed; an already revoked link is left untouched.
func (s *AccessLinkStore) Revoke(ctx context.Context, id, createdByID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE access_links SET revoked_at = ? WHERE id = ? AND created_by_id = ? AND revoked_at IS NULL`,
		toMillis(now), id, createdByID,
	)
	if err != nil {
		return false, fmt.Errorf("revoke access link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes a link owned by createdByID. Access records and audit
// entries tied to it are removed by cascade.
func (s *AccessLinkStore) Delete(ctx context.Context, id, createdByID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM access_links WHERE id = ? AND created_by_id = ?`,
		id, createdByID,
	)
	if err != nil {
		return false, fmt.Errorf("delete access link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// PINFailure is the counter state after a recorded failed PIN attempt.
type PINFailure struct {
	Attempts    int
	LockedUntil *time.Time
	// Applied is false when the link was locked at write time and the
	// counter was left alone.
	Applied bool
}

// RecordPINFailure increments failed_pin_attempts and, when the new count
// reaches maxAttempts, sets locked_until = now + lockout, in one statement.
// A link that is currently locked is not incremented.
func (s *AccessLinkStore) RecordPINFailure(ctx context.Context, id string, maxAttempts int, lockout time.Duration, now time.Time) (PINFailure, error) {
	nowMS := toMillis(now)
	var attempts int
	var lockedUntil sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`UPDATE access_links
		SET failed_pin_attempts = failed_pin_attempts + 1,
			locked_until = CASE WHEN failed_pin_attempts + 1 >= ? THEN ? ELSE locked_until END
		WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)
		RETURNING failed_pin_attempts, locked_until`,
		maxAttempts, toMillis(now.Add(lockout)), id, nowMS,
	).Scan(&attempts, &lockedUntil)
	if err == sql.ErrNoRows {
		var current PINFailure
		err = s.db.QueryRowContext(ctx,
			`SELECT failed_pin_attempts, locked_until FROM access_links WHERE id = ?`, id,
		).Scan(&current.Attempts, &lockedUntil)
		if err != nil {
			return PINFailure{}, fmt.Errorf("read pin attempts: %w", err)
		}
		current.LockedUntil = fromNullMillis(lockedUntil)
		return current, nil
	}
	if err != nil {
		return PINFailure{}, fmt.Errorf("record pin failure: %w", err)
	}
	return PINFailure{Attempts: attempts, LockedUntil: fromNullMillis(lockedUntil), Applied: true}, nil
}

// ResetPINFailures clears the failure counter and any lock after a
// successful verification.
func (s *AccessLinkStore) ResetPINFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE access_links SET failed_pin_attempts = 0, locked_until = NULL WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset pin failures: %w", err)
	}
	return nil
}

// RecordAccess bumps open_count and last_opened_at and appends an access
// record in the same transaction.
func (s *AccessLinkStore) RecordAccess(ctx context.Context, linkID string, caller model.CallerInfo, pinVerified bool, now time.Time) (*model.AccessRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record access: %w", err)
	}
	defer tx.Rollback()

	nowMS := toMillis(now)
	result, err := tx.ExecContext(ctx,
		`UPDATE access_links SET open_count = open_count + 1, last_opened_at = ? WHERE id = ?`,
		nowMS, linkID,
	)
	if err != nil {
		return nil, fmt.Errorf("update open count: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("record access: link %s: %w", linkID, sql.ErrNoRows)
	}

	rec := &model.AccessRecord{
		ID:          uuid.NewString(),
		LinkID:      linkID,
		IP:          caller.IP,
		UserAgent:   caller.UserAgent,
		PINVerified: pinVerified,
		CreatedAt:   fromMillis(nowMS),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO access_records (id, link_id, ip, user_agent, pin_verified, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.LinkID, rec.IP, rec.UserAgent, rec.PINVerified, nowMS,
	)
	if err != nil {
		return nil, fmt.Errorf("insert access record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record access: %w", err)
	}
	return rec, nil
}

// ListAccessRecords returns the most recent access records for a link.
func (s *AccessLinkStore) ListAccessRecords(ctx context.Context, linkID string, limit int) ([]model.AccessRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, link_id, ip, user_agent, pin_verified, created_at
		FROM access_records WHERE link_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		linkID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list access records: %w", err)
	}
	defer rows.Close()

	var records []model.AccessRecord
	for rows.Next() {
		var r model.AccessRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.LinkID, &r.IP, &r.UserAgent, &r.PINVerified, &createdAt); err != nil {
			return nil, fmt.Errorf("scan access record: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
