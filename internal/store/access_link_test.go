package store

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/snaglist/internal/database"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/secure"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupAccessLinkTestDB(t *testing.T) *AccessLinkStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccessLinkStore(db)
}

func newLink(t *testing.T, ls *AccessLinkStore, mutate func(*NewAccessLink)) *model.AccessLink {
	t.Helper()
	token, err := secure.GenerateToken(secure.TokenBytes)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	in := NewAccessLink{
		Token:       token,
		AccessLevel: model.AccessView,
		ExpiresAt:   testNow.Add(time.Hour),
		CreatedByID: "owner-1",
		ProjectID:   "proj-1",
		SnagIDs:     []string{"snag-1", "snag-2"},
		CreatedAt:   testNow,
	}
	if mutate != nil {
		mutate(&in)
	}
	l, err := ls.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create access link: %v", err)
	}
	return l
}

func TestAccessLinkCreate(t *testing.T) {
	ls := setupAccessLinkTestDB(t)

	l := newLink(t, ls, nil)
	if l.ID == "" {
		t.Error("expected non-empty id")
	}
	if l.AccessLevel != model.AccessView {
		t.Errorf("access level = %v, want view", l.AccessLevel)
	}
	if !l.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("expires_at = %v, want %v", l.ExpiresAt, testNow.Add(time.Hour))
	}
	if len(l.SnagIDs) != 2 || l.SnagIDs[0] != "snag-1" {
		t.Errorf("snag ids = %v", l.SnagIDs)
	}
	if l.Slug != nil {
		t.Errorf("slug = %v, want nil", *l.Slug)
	}
	if l.HasPIN() {
		t.Error("expected no pin")
	}
	if l.PINScheme != secure.SchemeSHA256 {
		t.Errorf("pin scheme = %q", l.PINScheme)
	}
}

func TestAccessLinkCreateWithSlug(t *testing.T) {
	ls := setupAccessLinkTestDB(t)

	l := newLink(t, ls, func(in *NewAccessLink) {
		in.WithSlug = true
		in.SlugHint = "Harbour View"
	})
	if l.Slug == nil {
		t.Fatal("expected slug")
	}
	if !regexp.MustCompile(`^har-[a-z0-9]{6}$`).MatchString(*l.Slug) {
		t.Errorf("slug = %q", *l.Slug)
	}

	got, err := ls.GetBySlug(context.Background(), *l.Slug)
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if got == nil || got.ID != l.ID {
		t.Errorf("get by slug returned %v", got)
	}
}

func TestAccessLinkCreateRejectsHalfPIN(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	hash := "abc"
	token, _ := secure.GenerateToken(secure.TokenBytes)
	_, err := ls.Create(context.Background(), NewAccessLink{
		Token: token, AccessLevel: model.AccessView, PINHash: &hash,
		ExpiresAt: testNow.Add(time.Hour), CreatedByID: "owner-1", ProjectID: "p", CreatedAt: testNow,
	})
	if err == nil {
		t.Fatal("expected error for pin hash without salt")
	}
}

func TestAccessLinkSlugCollisionRetries(t *testing.T) {
	ls := setupAccessLinkTestDB(t)

	// Create retries on ErrSlugTaken; the insert must report it for a duplicate.
	first := newLink(t, ls, func(in *NewAccessLink) { in.WithSlug = true })
	token, _ := secure.GenerateToken(secure.TokenBytes)
	err := ls.insert(context.Background(), "dup-id", first.Slug, NewAccessLink{
		Token: token, AccessLevel: model.AccessView, PINScheme: secure.SchemeSHA256,
		ExpiresAt: testNow.Add(time.Hour), CreatedByID: "owner-1", ProjectID: "p", CreatedAt: testNow,
	}, "[]")
	if err != ErrSlugTaken {
		t.Errorf("insert duplicate slug err = %v, want ErrSlugTaken", err)
	}
}

func TestAccessLinkGetByTokenNotFound(t *testing.T) {
	ls := setupAccessLinkTestDB(t)

	l, err := ls.GetByToken(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if l != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestAccessLinkRevoke(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	ctx := context.Background()
	l := newLink(t, ls, nil)

	ok, err := ls.Revoke(ctx, l.ID, "someone-else", testNow)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok {
		t.Error("non-owner revoke should not apply")
	}

	ok, err = ls.Revoke(ctx, l.ID, "owner-1", testNow)
	if err != nil || !ok {
		t.Fatalf("revoke = %v, %v; want true, nil", ok, err)
	}

	// A second revoke is a no-op and keeps the first timestamp.
	ok, err = ls.Revoke(ctx, l.ID, "owner-1", testNow.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("second revoke = %v, %v; want false, nil", ok, err)
	}

	got, _ := ls.GetByID(ctx, l.ID)
	if got.RevokedAt == nil || !got.RevokedAt.Equal(testNow) {
		t.Errorf("revoked_at = %v, want %v", got.RevokedAt, testNow)
	}
}

func TestAccessLinkRecordPINFailureLocks(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	ctx := context.Background()
	l := newLink(t, ls, nil)

	for i := 1; i <= 4; i++ {
		f, err := ls.RecordPINFailure(ctx, l.ID, 5, 5*time.Minute, testNow)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if f.Attempts != i || f.LockedUntil != nil || !f.Applied {
			t.Fatalf("after %d failures got %+v", i, f)
		}
	}

	f, err := ls.RecordPINFailure(ctx, l.ID, 5, 5*time.Minute, testNow)
	if err != nil {
		t.Fatalf("record fifth failure: %v", err)
	}
	if f.Attempts != 5 || f.LockedUntil == nil || !f.LockedUntil.Equal(testNow.Add(5*time.Minute)) {
		t.Fatalf("fifth failure = %+v, want locked until %v", f, testNow.Add(5*time.Minute))
	}

	// While locked the counter does not move.
	f, err = ls.RecordPINFailure(ctx, l.ID, 5, 5*time.Minute, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("record failure while locked: %v", err)
	}
	if f.Applied || f.Attempts != 5 {
		t.Errorf("failure while locked = %+v, want unapplied at 5", f)
	}

	if err := ls.ResetPINFailures(ctx, l.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := ls.GetByID(ctx, l.ID)
	if got.FailedPINAttempts != 0 || got.LockedUntil != nil {
		t.Errorf("after reset attempts=%d locked_until=%v", got.FailedPINAttempts, got.LockedUntil)
	}
}

func TestAccessLinkRecordPINFailureConcurrent(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	ctx := context.Background()
	l := newLink(t, ls, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ls.RecordPINFailure(ctx, l.ID, 5, 5*time.Minute, testNow); err != nil {
				t.Errorf("record failure: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := ls.GetByID(ctx, l.ID)
	if got.FailedPINAttempts != 5 {
		t.Errorf("failed attempts = %d, want exactly 5", got.FailedPINAttempts)
	}
}

func TestAccessLinkRecordAccess(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	ctx := context.Background()
	l := newLink(t, ls, nil)

	caller := model.CallerInfo{IP: "203.0.113.7", UserAgent: "curl/8"}
	if _, err := ls.RecordAccess(ctx, l.ID, caller, false, testNow); err != nil {
		t.Fatalf("record access: %v", err)
	}
	rec, err := ls.RecordAccess(ctx, l.ID, caller, true, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("record access: %v", err)
	}
	if !rec.PINVerified || rec.IP != "203.0.113.7" {
		t.Errorf("record = %+v", rec)
	}

	got, _ := ls.GetByID(ctx, l.ID)
	if got.OpenCount != 2 {
		t.Errorf("open_count = %d, want 2", got.OpenCount)
	}
	if got.LastOpenedAt == nil || !got.LastOpenedAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("last_opened_at = %v", got.LastOpenedAt)
	}

	records, err := ls.ListAccessRecords(ctx, l.ID, 10)
	if err != nil {
		t.Fatalf("list access records: %v", err)
	}
	if len(records) != 2 || !records[0].PINVerified {
		t.Errorf("records = %+v, want newest first", records)
	}
}

func TestAccessLinkRecordAccessUnknownLink(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	if _, err := ls.RecordAccess(context.Background(), "missing", model.CallerInfo{}, false, testNow); err == nil {
		t.Fatal("expected error for unknown link")
	}
}

func TestAccessLinkDeleteCascades(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	ctx := context.Background()
	l := newLink(t, ls, nil)
	ls.RecordAccess(ctx, l.ID, model.CallerInfo{IP: "1.2.3.4"}, false, testNow)

	as := NewAuditStore(ls.db)
	id := l.ID
	if err := as.Insert(ctx, &model.AuditEntry{Kind: model.EventLinkValidated, ResourceType: model.ResourceAccessLink, ResourceID: &id, Success: true, CreatedAt: testNow}); err != nil {
		t.Fatalf("insert audit: %v", err)
	}

	ok, err := ls.Delete(ctx, l.ID, "owner-1")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}

	var n int
	ls.db.QueryRow(`SELECT COUNT(*) FROM access_records WHERE link_id = ?`, l.ID).Scan(&n)
	if n != 0 {
		t.Errorf("access records after delete = %d, want 0", n)
	}
	ls.db.QueryRow(`SELECT COUNT(*) FROM audit_entries WHERE resource_id = ?`, l.ID).Scan(&n)
	if n != 0 {
		t.Errorf("audit entries after delete = %d, want 0", n)
	}
}

func TestAccessLinkListByCreator(t *testing.T) {
	ls := setupAccessLinkTestDB(t)
	ctx := context.Background()
	newLink(t, ls, nil)
	newLink(t, ls, func(in *NewAccessLink) { in.CreatedAt = testNow.Add(time.Minute) })
	newLink(t, ls, func(in *NewAccessLink) { in.CreatedByID = "owner-2" })

	links, err := ls.ListByCreator(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
	if !links[0].CreatedAt.After(links[1].CreatedAt) {
		t.Error("expected newest first")
	}
}
