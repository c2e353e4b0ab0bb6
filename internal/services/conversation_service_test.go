package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/driftline/livechat-backend/internal/domain"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/repo"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// backdateConversation rewrites created_at so reuse-window tests can place a
// conversation at a precise age.
func backdateConversation(t *testing.T, db *gorm.DB, id string, age time.Duration) {
	t.Helper()
	at := time.Now().UTC().Add(-age)
	if err := db.Model(&domain.Conversation{}).Where("id = ?", id).Update("created_at", at).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func auditCount(t *testing.T, db *gorm.DB, action string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.AuditRecord{}).Where("action = ?", action).Count(&n).Error; err != nil {
		t.Fatalf("audit count: %v", err)
	}
	return n
}

func TestStartOrReuse_CreatesNewConversation(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)

	conv, existing, err := s.StartOrReuse(context.Background(), "v1", "k")
	if err != nil {
		t.Fatalf("StartOrReuse: %v", err)
	}
	if existing {
		t.Fatal("first conversation must not be flagged existing")
	}
	if conv.Status != domain.StatusNew {
		t.Fatalf("status = %q; want new", conv.Status)
	}
}

func TestStartOrReuse_ReusesRecentConversation(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	first, _, err := s.StartOrReuse(ctx, "v1", "k")
	if err != nil {
		t.Fatalf("StartOrReuse: %v", err)
	}
	backdateConversation(t, db, first.ID, 30*time.Minute)

	again, existing, err := s.StartOrReuse(ctx, "v1", "k")
	if err != nil {
		t.Fatalf("StartOrReuse: %v", err)
	}
	if !existing || again.ID != first.ID {
		t.Fatalf("expected reuse of %s; got %s existing=%v", first.ID, again.ID, existing)
	}
}

func TestStartOrReuse_ExpiredWindowCreatesFresh(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	first, _, _ := s.StartOrReuse(ctx, "v1", "k")
	backdateConversation(t, db, first.ID, 61*time.Minute)

	again, existing, err := s.StartOrReuse(ctx, "v1", "k")
	if err != nil {
		t.Fatalf("StartOrReuse: %v", err)
	}
	if existing || again.ID == first.ID {
		t.Fatalf("expected a fresh conversation; got existing=%v id=%s", existing, again.ID)
	}
}

func TestStartOrReuse_ClosedConversationNotReused(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	first, _, _ := s.StartOrReuse(ctx, "v1", "k")
	if _, err := s.Close(ctx, "agent-1", first.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, existing, err := s.StartOrReuse(ctx, "v1", "k")
	if err != nil {
		t.Fatalf("StartOrReuse: %v", err)
	}
	if existing || again.ID == first.ID {
		t.Fatal("closed conversation must not be reused")
	}
}

func TestStartOrReuse_RateLimited(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, ratelimit.New())
	s.CreateLimit = ratelimit.Config{Scope: "conversation-create", MaxRequests: 2, Window: time.Hour}
	ctx := context.Background()

	// Distinct visitors so reuse does not absorb the calls; the limit key is
	// shared deliberately (same client address).
	if _, _, err := s.StartOrReuse(ctx, "v1", "shared"); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	if _, _, err := s.StartOrReuse(ctx, "v2", "shared"); err != nil {
		t.Fatalf("call 2: %v", err)
	}

	_, _, err := s.StartOrReuse(ctx, "v3", "shared")
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.Result.ResetTime.IsZero() {
		t.Fatal("rate limit error must carry a reset time")
	}
}

func TestAssign_RecordsAudit(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	conv, _, _ := s.StartOrReuse(ctx, "v1", "k")

	updated, err := s.Assign(ctx, "admin-1", conv.ID, "agent-9")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if updated.AssignedAgentID == nil || *updated.AssignedAgentID != "agent-9" {
		t.Fatalf("assigned_agent_id = %v", updated.AssignedAgentID)
	}
	if n := auditCount(t, db, "conversation.assign"); n != 1 {
		t.Fatalf("audit rows = %d; want 1", n)
	}

	if _, err := s.Assign(ctx, "admin-1", "missing", "agent-9"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAssign_ClosedConversationRejected(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	conv, _, _ := s.StartOrReuse(ctx, "v1", "k")
	if _, err := s.Close(ctx, "admin-1", conv.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Assign(ctx, "admin-1", conv.ID, "agent-9"); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	conv, _, _ := s.StartOrReuse(ctx, "v1", "k")

	closed, err := s.Close(ctx, "admin-1", conv.ID)
	if err != nil || closed.Status != domain.StatusClosed {
		t.Fatalf("Close = %v, %v", closed, err)
	}
	// Second close: no error, no second audit row.
	if _, err := s.Close(ctx, "admin-1", conv.ID); err != nil {
		t.Fatalf("re-Close: %v", err)
	}
	if n := auditCount(t, db, "conversation.close"); n != 1 {
		t.Fatalf("audit rows = %d; want 1", n)
	}
}

func TestVisitorTranscript_OwnershipIsolation(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	conv, _, _ := s.StartOrReuse(ctx, "owner", "k")

	if _, _, err := s.VisitorTranscript(ctx, "owner", conv.ID, 1, 20); err != nil {
		t.Fatalf("owner transcript: %v", err)
	}
	if _, _, err := s.VisitorTranscript(ctx, "intruder", conv.ID, 1, 20); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound for foreign visitor, got %v", err)
	}
}

func TestCanStream(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	conv, _, _ := s.StartOrReuse(ctx, "owner", "k")

	if err := s.CanStream(ctx, conv.ID, "owner", false); err != nil {
		t.Fatalf("owner stream: %v", err)
	}
	if err := s.CanStream(ctx, conv.ID, "intruder", false); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if err := s.CanStream(ctx, conv.ID, "", true); err != nil {
		t.Fatalf("agent stream: %v", err)
	}
}

func TestListPage_EmptyAndPopulated(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	items, total, err := s.ListPage(ctx, 1, 20)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty ListPage = %v, %d, %v", items, total, err)
	}

	s.StartOrReuse(ctx, "v1", "k1")
	s.StartOrReuse(ctx, "v2", "k2")

	items, total, err = s.ListPage(ctx, 1, 1)
	if err != nil || total != 2 || len(items) != 1 {
		t.Fatalf("ListPage = %d items, total %d, %v", len(items), total, err)
	}
}

func TestRetentionSweep(t *testing.T) {
	db := openTestDB(t)
	s := NewConversationService(db, nil)
	ctx := context.Background()

	stale, _, _ := s.StartOrReuse(ctx, "v1", "k1")
	fresh, _, _ := s.StartOrReuse(ctx, "v2", "k2")
	backdateConversation(t, db, stale.ID, 31*24*time.Hour)

	sweeper := &RetentionSweeper{DB: db}
	removed, err := sweeper.SweepOnce(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("SweepOnce = %d, %v; want 1", removed, err)
	}

	if _, err := repo.GetConversation(ctx, db, stale.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("stale conversation should be deleted, got %v", err)
	}
	if _, err := repo.GetConversation(ctx, db, fresh.ID); err != nil {
		t.Fatalf("fresh conversation should remain: %v", err)
	}
}
