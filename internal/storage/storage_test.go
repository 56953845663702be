package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SENTINEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SENTINEL_TEST_DATABASE_URL not set")
	}
	store, err := New(context.Background(), url)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestAuditLogRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()

	entry := AuditLog{
		GuildID:     guildID,
		UserID:      "u1",
		Level:       "WARN",
		Event:       "anti_spam",
		Details:     "type=SPAM",
		ViolationID: uuid.NewString(),
		Outcome:     "applied",
		CreatedAt:   time.Now(),
	}
	if err := store.AddAuditLog(ctx, entry); err != nil {
		t.Fatalf("add audit log: %v", err)
	}
	old := entry
	old.CreatedAt = time.Now().AddDate(0, 0, -40)
	if err := store.AddAuditLog(ctx, old); err != nil {
		t.Fatalf("add old audit log: %v", err)
	}

	logs, err := store.ListAuditLogs(ctx, guildID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Outcome != "applied" || logs[0].ViolationID != entry.ViolationID {
		t.Fatalf("unexpected logs %+v", logs)
	}

	removed, err := store.CleanupAuditLogs(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed < 1 {
		t.Fatalf("expected old log removed, got %d", removed)
	}
}

func TestIncrementInfraction(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	guildID := "g-" + uuid.NewString()

	for i := 1; i <= 2; i++ {
		total, err := store.IncrementInfraction(ctx, guildID, "u1", "anti_raid", "kick")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if total != i {
			t.Fatalf("expected %d, got %d", i, total)
		}
	}
	inf, err := store.GetInfraction(ctx, guildID, "u1", "anti_raid")
	if err != nil {
		t.Fatalf("get infraction: %v", err)
	}
	if inf.CountTotal != 2 || inf.LastAction != "kick" {
		t.Fatalf("unexpected infraction %+v", inf)
	}
	missing, err := store.GetInfraction(ctx, guildID, "nobody", "anti_raid")
	if err != nil || missing.CountTotal != 0 {
		t.Fatalf("expected empty infraction, got %+v (%v)", missing, err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
