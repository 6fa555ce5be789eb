package mesh

import (
	"context"
	"fmt"
	"time"

	"lastagent/app/core/orchestrator/db"
)

// SQLiteStore makes the delegation graph durable across restarts.
type SQLiteStore struct {
	db *db.DB
}

func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Append(ctx context.Context, r DelegationRecord) error {
	query := `INSERT INTO delegations (task_id, from_agent, to_agent, preview, depth, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query,
		r.TaskID,
		r.FromAgent,
		r.ToAgent,
		r.Preview,
		r.Depth,
		r.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("append delegation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, taskID string) ([]DelegationRecord, error) {
	query := `SELECT task_id, from_agent, to_agent, preview, depth, created_at FROM delegations WHERE task_id = ? ORDER BY seq ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DelegationRecord
	for rows.Next() {
		var (
			r         DelegationRecord
			createdAt int64
		)
		if err := rows.Scan(&r.TaskID, &r.FromAgent, &r.ToAgent, &r.Preview, &r.Depth, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, r)
	}
	return items, rows.Err()
}
