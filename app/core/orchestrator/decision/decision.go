package decision

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	TypeAgentSelection = "agent_selection"
	TypeFeedback       = "feedback"

	// MaxAlternatives bounds the alternatives kept per record so audit rows
	// stay small.
	MaxAlternatives = 3

	maxTitleRunes = 30
)

// Alternative is one non-winning candidate kept alongside a decision.
type Alternative struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Decision is one immutable audit record. Records are never updated or
// deleted; corrections are appended as new records.
type Decision struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"task_id"`
	Type         string        `json:"decision_type"`
	Title        string        `json:"title"`
	Reasoning    string        `json:"reasoning"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Outcome      string        `json:"outcome,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Entry is the caller-supplied part of a decision.
type Entry struct {
	TaskID       string
	Type         string
	Title        string
	Reasoning    string
	Confidence   float64
	Alternatives []Alternative
	Outcome      string
}

// Store persists decisions. The interface is append/list only.
type Store interface {
	Append(ctx context.Context, d Decision) error
	List(ctx context.Context, taskID string, limit int) ([]Decision, error)
}

// Log is the audit trail every component appends through.
type Log struct {
	store Store
}

func NewLog(store Store) *Log {
	return &Log{store: store}
}

// LogDecision appends one record and returns its id. Alternatives are capped
// at the top MaxAlternatives entries by descending score.
func (l *Log) LogDecision(ctx context.Context, entry Entry) (string, error) {
	if strings.TrimSpace(entry.TaskID) == "" {
		return "", fmt.Errorf("task_id is required")
	}
	if strings.TrimSpace(entry.Type) == "" {
		return "", fmt.Errorf("decision_type is required")
	}

	d := Decision{
		ID:           uuid.NewString(),
		TaskID:       strings.TrimSpace(entry.TaskID),
		Type:         strings.TrimSpace(entry.Type),
		Title:        DeriveTitle(entry.Title),
		Reasoning:    entry.Reasoning,
		Confidence:   entry.Confidence,
		Alternatives: capAlternatives(entry.Alternatives),
		Outcome:      strings.TrimSpace(entry.Outcome),
		CreatedAt:    time.Now(),
	}
	if err := l.store.Append(ctx, d); err != nil {
		return "", err
	}
	return d.ID, nil
}

// ListDecisions returns records most-recent-first, optionally filtered to one
// task.
func (l *Log) ListDecisions(ctx context.Context, taskID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.List(ctx, strings.TrimSpace(taskID), limit)
}

// DeriveTitle builds a record title from free text: first line, capped.
func DeriveTitle(text string) string {
	line := strings.TrimSpace(text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return "untitled"
	}
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	runes := []rune(line)
	return string(runes[:maxTitleRunes]) + "..."
}

func capAlternatives(alts []Alternative) []Alternative {
	if len(alts) == 0 {
		return nil
	}
	out := make([]Alternative, len(alts))
	copy(out, alts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > MaxAlternatives {
		out = out[:MaxAlternatives]
	}
	return out
}
