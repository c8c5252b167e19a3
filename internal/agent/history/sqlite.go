package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore stores runs in a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dbPath and prepares
// its schema.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	normalizedPath := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteDir(normalizedPath); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		normalizedPath,
		int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer connection: serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_runs (
		id TEXT PRIMARY KEY,
		run_trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		port INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		exit_code INTEGER,
		signal TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ready_at TIMESTAMP,
		ended_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_agent_runs_started_at ON agent_runs(started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, run *Run) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO agent_runs (id, run_trigger, status, pid, port, url, reason, exit_code, signal, started_at, ready_at, ended_at)
		VALUES (:id, :run_trigger, :status, :pid, :port, :url, :reason, :exit_code, :signal, :started_at, :ready_at, :ended_at)
		ON CONFLICT(id) DO UPDATE SET
			run_trigger = excluded.run_trigger,
			status = excluded.status,
			pid = excluded.pid,
			port = excluded.port,
			url = excluded.url,
			reason = excluded.reason,
			exit_code = excluded.exit_code,
			signal = excluded.signal,
			started_at = excluded.started_at,
			ready_at = excluded.ready_at,
			ended_at = excluded.ended_at
	`, run)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, s.db.Rebind(`SELECT * FROM agent_runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &run, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT * FROM agent_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var runs []*Run
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ensureSQLiteDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
