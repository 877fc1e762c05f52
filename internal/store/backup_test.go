package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/snaglist/internal/database"
	"github.com/dukerupert/snaglist/internal/model"
)

func setupBackupTestDB(t *testing.T) *BackupStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBackupStore(db)
}

func TestBackupCreate(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	b, err := bs.Create(ctx, "snaglist-20260302T090000Z.db.enc", "snapshots/snaglist-20260302T090000Z.db.enc", testNow)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.ID == "" || b.Status != model.BackupStatusUploading {
		t.Errorf("backup = %+v", b)
	}

	got, err := bs.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.ObjectKey != b.ObjectKey || !got.StartedAt.Equal(testNow) {
		t.Errorf("got = %+v", got)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}
}

func TestBackupGetMissing(t *testing.T) {
	bs := setupBackupTestDB(t)
	got, err := bs.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestBackupMarkFailedAndCompleted(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	failed, _ := bs.Create(ctx, "a.db.enc", "k/a", testNow)
	if err := bs.MarkFailed(ctx, failed.ID, "upload refused"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ := bs.GetByID(ctx, failed.ID)
	if got.Status != model.BackupStatusFailed || got.ErrorMessage != "upload refused" {
		t.Errorf("failed = %+v", got)
	}

	done, _ := bs.Create(ctx, "b.db.enc", "k/b", testNow.Add(time.Minute))
	if err := bs.MarkCompleted(ctx, done.ID, 4096, testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = bs.GetByID(ctx, done.ID)
	if got.Status != model.BackupStatusCompleted || got.SizeBytes != 4096 || got.CompletedAt == nil {
		t.Errorf("completed = %+v", got)
	}

	latest, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("LatestCompleted: %v", err)
	}
	if latest == nil || latest.ID != done.ID {
		t.Errorf("latest = %+v", latest)
	}
}

func TestBackupListOrderAndLimit(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := bs.Create(ctx, "f", "k/"+string(rune('a'+i)), testNow.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := bs.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].ObjectKey != "k/d" || list[2].ObjectKey != "k/b" {
		t.Errorf("order = %s, %s, %s", list[0].ObjectKey, list[1].ObjectKey, list[2].ObjectKey)
	}
}

func TestBackupDeleteOlderThan(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()
	bs.Create(ctx, "old", "k/old", testNow.Add(-48*time.Hour))
	bs.Create(ctx, "new", "k/new", testNow)

	keys, err := bs.DeleteOlderThan(ctx, testNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if len(keys) != 1 || keys[0] != "k/old" {
		t.Errorf("keys = %v", keys)
	}
	list, _ := bs.List(ctx, 10)
	if len(list) != 1 || list[0].ObjectKey != "k/new" {
		t.Errorf("remaining = %+v", list)
	}
}
