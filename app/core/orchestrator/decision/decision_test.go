package decision

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"lastagent/app/core/orchestrator/db"
)

func TestLogDecisionAppendOnlyMonotonic(t *testing.T) {
	log := NewLog(NewMemoryStore())
	ctx := context.Background()

	const k = 5
	for i := 0; i < k; i++ {
		_, err := log.LogDecision(ctx, Entry{
			TaskID:    "task-1",
			Type:      TypeAgentSelection,
			Title:     fmt.Sprintf("decision %d", i),
			Reasoning: "r",
		})
		if err != nil {
			t.Fatalf("log decision %d failed: %v", i, err)
		}
	}

	items, err := log.ListDecisions(ctx, "task-1", 50)
	if err != nil {
		t.Fatalf("list decisions failed: %v", err)
	}
	if len(items) != k {
		t.Fatalf("expected %d records, got %d", k, len(items))
	}
	for i := 0; i < k; i++ {
		want := fmt.Sprintf("decision %d", k-1-i)
		if items[i].Title != want {
			t.Fatalf("record %d out of order: got %q want %q", i, items[i].Title, want)
		}
	}
}

func TestLogDecisionCapsAlternativesByScore(t *testing.T) {
	log := NewLog(NewMemoryStore())

	id, err := log.LogDecision(context.Background(), Entry{
		TaskID: "task-1",
		Type:   TypeAgentSelection,
		Title:  "pick",
		Alternatives: []Alternative{
			{Name: "d", Score: 0.1},
			{Name: "a", Score: 0.9},
			{Name: "c", Score: 0.3},
			{Name: "b", Score: 0.6},
		},
	})
	if err != nil {
		t.Fatalf("log decision failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected decision id")
	}

	items, err := log.ListDecisions(context.Background(), "task-1", 1)
	if err != nil {
		t.Fatalf("list decisions failed: %v", err)
	}
	alts := items[0].Alternatives
	if len(alts) != MaxAlternatives {
		t.Fatalf("expected %d alternatives, got %d", MaxAlternatives, len(alts))
	}
	if alts[0].Name != "a" || alts[1].Name != "b" || alts[2].Name != "c" {
		t.Fatalf("alternatives not ordered by score: %+v", alts)
	}
}

func TestLogDecisionRequiresTaskAndType(t *testing.T) {
	log := NewLog(NewMemoryStore())

	if _, err := log.LogDecision(context.Background(), Entry{Type: TypeFeedback}); err == nil {
		t.Fatalf("expected error for missing task id")
	}
	if _, err := log.LogDecision(context.Background(), Entry{TaskID: "t"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestMemoryStoreConcurrentAppendsKeepPerTaskOrder(t *testing.T) {
	store := NewMemoryStore()
	log := NewLog(store)
	ctx := context.Background()

	const perTask = 20
	var wg sync.WaitGroup
	for _, taskID := range []string{"task-a", "task-b", "task-c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perTask; i++ {
				if _, err := log.LogDecision(ctx, Entry{
					TaskID: id,
					Type:   TypeAgentSelection,
					Title:  fmt.Sprintf("%s-%d", id, i),
				}); err != nil {
					t.Errorf("append failed: %v", err)
					return
				}
			}
		}(taskID)
	}
	wg.Wait()

	for _, taskID := range []string{"task-a", "task-b", "task-c"} {
		items, err := log.ListDecisions(ctx, taskID, perTask*2)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(items) != perTask {
			t.Fatalf("task %s: expected %d records, got %d", taskID, perTask, len(items))
		}
		for i, d := range items {
			want := fmt.Sprintf("%s-%d", taskID, perTask-1-i)
			if d.Title != want {
				t.Fatalf("task %s record %d out of order: got %q want %q", taskID, i, d.Title, want)
			}
		}
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	defer database.Close()

	log := NewLog(NewSQLiteStore(database))
	ctx := context.Background()

	if _, err := log.LogDecision(ctx, Entry{
		TaskID:     "task-1",
		Type:       TypeAgentSelection,
		Title:      "route to claude",
		Reasoning:  "two of three voters agreed",
		Confidence: 0.667,
		Alternatives: []Alternative{
			{Name: "aider", Score: 0.333, Reason: "1 vote"},
		},
		Outcome: "completed",
	}); err != nil {
		t.Fatalf("log decision failed: %v", err)
	}
	if _, err := log.LogDecision(ctx, Entry{
		TaskID: "task-2",
		Type:   TypeFeedback,
		Title:  "rating 5",
	}); err != nil {
		t.Fatalf("log feedback failed: %v", err)
	}

	items, err := log.ListDecisions(ctx, "task-1", 10)
	if err != nil {
		t.Fatalf("list decisions failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 record for task-1, got %d", len(items))
	}
	got := items[0]
	if got.Confidence != 0.667 || got.Outcome != "completed" {
		t.Fatalf("record fields lost: %+v", got)
	}
	if len(got.Alternatives) != 1 || got.Alternatives[0].Name != "aider" {
		t.Fatalf("alternatives lost: %+v", got.Alternatives)
	}

	all, err := log.ListDecisions(ctx, "", 10)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records total, got %d", len(all))
	}
	if all[0].TaskID != "task-2" {
		t.Fatalf("expected most-recent-first order, got %s first", all[0].TaskID)
	}
}

func TestDeriveTitleTruncatesFirstLine(t *testing.T) {
	if got := DeriveTitle("fix the build\nsecond line"); got != "fix the build" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := DeriveTitle(""); got != "untitled" {
		t.Fatalf("unexpected empty title: %q", got)
	}
	long := DeriveTitle("abcdefghijklmnopqrstuvwxyz abcdefghijklmnopqrstuvwxyz")
	if len([]rune(long)) != maxTitleRunes+3 {
		t.Fatalf("unexpected truncated length: %q", long)
	}
}
