package mesh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"lastagent/app/core/orchestrator/db"
)

func TestRecordDepthBound(t *testing.T) {
	const maxDepth = 3
	coord := NewCoordinator(NewMemoryStore(), maxDepth)
	ctx := context.Background()

	agents := []string{"a", "b", "c", "d", "e"}
	for i := 0; i < maxDepth; i++ {
		record, err := coord.Record(ctx, "task-1", agents[i], agents[i+1], "hop")
		if err != nil {
			t.Fatalf("hop %d failed: %v", i+1, err)
		}
		if record.Depth != i+1 {
			t.Fatalf("hop %d: unexpected depth %d", i+1, record.Depth)
		}
	}

	_, err := coord.Record(ctx, "task-1", agents[maxDepth], agents[maxDepth+1], "one too far")
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected depth error, got %v", err)
	}
}

func TestRecordCycleDetection(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(), 10)
	ctx := context.Background()

	if _, err := coord.Record(ctx, "task-1", "a", "b", "forward"); err != nil {
		t.Fatalf("first hop failed: %v", err)
	}
	if _, err := coord.Record(ctx, "task-1", "b", "a", "back"); !errors.Is(err, ErrDelegationCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}

	// longer cycle: a -> b -> c, then c -> a
	if _, err := coord.Record(ctx, "task-1", "b", "c", "forward"); err != nil {
		t.Fatalf("second hop failed: %v", err)
	}
	if _, err := coord.Record(ctx, "task-1", "c", "a", "back to root"); !errors.Is(err, ErrDelegationCycle) {
		t.Fatalf("expected cycle error for transitive loop, got %v", err)
	}
}

func TestRecordSelfDelegationRejected(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(), 10)

	if _, err := coord.Record(context.Background(), "task-1", "a", "a", "loop"); !errors.Is(err, ErrDelegationCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestRecordChainsIsolatedPerTask(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(), 2)
	ctx := context.Background()

	if _, err := coord.Record(ctx, "task-1", "a", "b", "t1"); err != nil {
		t.Fatalf("task-1 hop failed: %v", err)
	}
	// same edge in another task starts a fresh chain
	if _, err := coord.Record(ctx, "task-2", "b", "a", "t2"); err != nil {
		t.Fatalf("task-2 hop failed: %v", err)
	}

	records, err := coord.Delegations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].ToAgent != "b" {
		t.Fatalf("unexpected task-1 chain: %+v", records)
	}
}

func TestDelegationsInsertionOrder(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(), 10)
	ctx := context.Background()

	hops := [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}}
	for i, hop := range hops {
		if _, err := coord.Record(ctx, "task-1", hop[0], hop[1], fmt.Sprintf("hop %d", i)); err != nil {
			t.Fatalf("hop %d failed: %v", i, err)
		}
	}

	records, err := coord.Delegations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != len(hops) {
		t.Fatalf("expected %d records, got %d", len(hops), len(records))
	}
	for i, r := range records {
		if r.FromAgent != hops[i][0] || r.ToAgent != hops[i][1] {
			t.Fatalf("record %d out of order: %+v", i, r)
		}
	}
}

func TestRecordTruncatesPreview(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(), 10)

	record, err := coord.Record(context.Background(), "task-1", "a", "b", strings.Repeat("x", 500))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if len([]rune(record.Preview)) != previewMaxRunes+3 {
		t.Fatalf("preview not truncated: %d runes", len([]rune(record.Preview)))
	}
}

func TestSQLiteStoreGuardsSurviveReload(t *testing.T) {
	dataDir := t.TempDir()
	database, err := db.NewSQLiteDB(dataDir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}

	coord := NewCoordinator(NewSQLiteStore(database), 5)
	ctx := context.Background()
	if _, err := coord.Record(ctx, "task-1", "a", "b", "persisted hop"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	reopened, err := db.NewSQLiteDB(dataDir)
	if err != nil {
		t.Fatalf("reopen sqlite failed: %v", err)
	}
	defer reopened.Close()

	coord = NewCoordinator(NewSQLiteStore(reopened), 5)
	if _, err := coord.Record(ctx, "task-1", "b", "a", "cycle after restart"); !errors.Is(err, ErrDelegationCycle) {
		t.Fatalf("expected cycle error from durable chain, got %v", err)
	}

	records, err := coord.Delegations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].Preview != "persisted hop" {
		t.Fatalf("unexpected durable records: %+v", records)
	}
}
