package db

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestNewSQLiteDBCreatesAuditSchema(t *testing.T) {
	database, err := NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	defer database.Close()

	for _, table := range []string{"decisions", "delegations"} {
		var name string
		err := database.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}

	var version string
	if err := database.Conn().QueryRow(`SELECT value FROM schema_meta WHERE key='schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "2" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestNewSQLiteDBMigratesVersionOne(t *testing.T) {
	dataDir := t.TempDir()

	database, err := NewSQLiteDB(dataDir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	// rewind to v1 by dropping the outcome column marker
	if _, err := database.Conn().Exec(`UPDATE schema_meta SET value='1' WHERE key='schema_version'`); err != nil {
		t.Fatalf("rewind schema version: %v", err)
	}
	if _, err := database.Conn().Exec(`ALTER TABLE decisions DROP COLUMN outcome`); err != nil {
		t.Fatalf("drop outcome column: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	migrated, err := NewSQLiteDB(dataDir)
	if err != nil {
		t.Fatalf("reopen sqlite failed: %v", err)
	}
	defer migrated.Close()

	if _, err := migrated.Conn().Exec(`SELECT outcome FROM decisions LIMIT 1`); err != nil {
		t.Fatalf("outcome column missing after migration: %v", err)
	}
}

func TestNewSQLiteDBReturnsLockErrorWhenSchemaLocked(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "lastagent.db")

	lockedConn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open lock connection: %v", err)
	}
	defer lockedConn.Close()

	if _, err := lockedConn.Exec(`CREATE TABLE IF NOT EXISTS lock_probe(id INTEGER PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("create lock table: %v", err)
	}

	if _, err := lockedConn.Exec(`BEGIN EXCLUSIVE`); err != nil {
		t.Fatalf("acquire exclusive lock: %v", err)
	}
	defer func() {
		_, _ = lockedConn.Exec(`ROLLBACK`)
	}()

	if _, err := lockedConn.Exec(`INSERT INTO lock_probe(value) VALUES('hold')`); err != nil {
		t.Fatalf("hold write lock: %v", err)
	}

	_, err = NewSQLiteDB(tempDir)
	if err == nil {
		t.Fatal("expected lock error, got nil")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "locked") {
		t.Fatalf("expected lock error, got: %v", err)
	}
}
