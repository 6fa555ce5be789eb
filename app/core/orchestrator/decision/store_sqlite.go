package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"lastagent/app/core/orchestrator/db"
)

// SQLiteStore is the default durable decision store.
type SQLiteStore struct {
	db *db.DB
}

func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Append(ctx context.Context, d Decision) error {
	altsJSON, err := marshalAlternatives(d.Alternatives)
	if err != nil {
		return err
	}
	query := `INSERT INTO decisions (id, task_id, decision_type, title, reasoning, confidence, alternatives, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query,
		d.ID,
		d.TaskID,
		d.Type,
		d.Title,
		d.Reasoning,
		d.Confidence,
		altsJSON,
		d.Outcome,
		d.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, taskID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		query string
		args  []interface{}
	)
	if taskID != "" {
		query = `SELECT id, task_id, decision_type, title, reasoning, confidence, COALESCE(alternatives, ''), COALESCE(outcome, ''), created_at FROM decisions WHERE task_id = ? ORDER BY seq DESC LIMIT ?`
		args = []interface{}{taskID, limit}
	} else {
		query = `SELECT id, task_id, decision_type, title, reasoning, confidence, COALESCE(alternatives, ''), COALESCE(outcome, ''), created_at FROM decisions ORDER BY seq DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows, limit)
}

func scanDecisions(rows *sql.Rows, limit int) ([]Decision, error) {
	items := make([]Decision, 0, limit)
	for rows.Next() {
		var (
			d         Decision
			altsJSON  string
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Type, &d.Title, &d.Reasoning, &d.Confidence, &altsJSON, &d.Outcome, &createdAt); err != nil {
			return nil, err
		}
		if altsJSON != "" {
			if err := json.Unmarshal([]byte(altsJSON), &d.Alternatives); err != nil {
				return nil, fmt.Errorf("decode alternatives for decision %s: %w", d.ID, err)
			}
		}
		d.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, d)
	}
	return items, rows.Err()
}

func marshalAlternatives(alts []Alternative) (string, error) {
	if len(alts) == 0 {
		return "", nil
	}
	data, err := json.Marshal(alts)
	if err != nil {
		return "", fmt.Errorf("encode alternatives: %w", err)
	}
	return string(data), nil
}
