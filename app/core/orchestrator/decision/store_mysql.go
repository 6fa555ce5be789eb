package decision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateColumn = 1060

// MySQLStore is an alternative durable decision store for deployments that
// already run shared MySQL infrastructure.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}

	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(10 * time.Minute)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := &MySQLStore{db: conn}
	if err := store.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS decisions (
        seq BIGINT AUTO_INCREMENT PRIMARY KEY,
        id VARCHAR(64) NOT NULL UNIQUE,
        task_id VARCHAR(64) NOT NULL,
        decision_type VARCHAR(32) NOT NULL,
        title VARCHAR(255) NOT NULL,
        reasoning TEXT,
        confidence DOUBLE NOT NULL,
        alternatives TEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_decisions_task (task_id, seq DESC)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init decisions table: %w", err)
	}
	if _, err := s.db.Exec(`ALTER TABLE decisions ADD COLUMN outcome TEXT AFTER alternatives`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateColumn) {
			return fmt.Errorf("extend decisions.outcome: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Append(ctx context.Context, d Decision) error {
	altsJSON, err := marshalAlternatives(d.Alternatives)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO decisions (id, task_id, decision_type, title, reasoning, confidence, alternatives, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
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

func (s *MySQLStore) List(ctx context.Context, taskID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		query string
		args  []interface{}
	)
	if taskID != "" {
		query = `SELECT id, task_id, decision_type, title, COALESCE(reasoning, ''), confidence, COALESCE(alternatives, ''), COALESCE(outcome, ''), created_at FROM decisions WHERE task_id = ? ORDER BY seq DESC LIMIT ?`
		args = []interface{}{taskID, limit}
	} else {
		query = `SELECT id, task_id, decision_type, title, COALESCE(reasoning, ''), confidence, COALESCE(alternatives, ''), COALESCE(outcome, ''), created_at FROM decisions ORDER BY seq DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows, limit)
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
