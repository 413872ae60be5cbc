package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultTable receives rows when no table is configured.
	DefaultTable = "assets"

	defaultBusyTimeout = 5 * time.Second
)

// SQLite appends report rows to a table. Every column is TEXT; a
// fetched_at column tags the rows of one Write.
type SQLite struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// NewSQLite opens (or creates) the database at path.
func NewSQLite(path, table string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if table == "" {
		table = DefaultTable
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	ms := int(defaultBusyTimeout / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable wal: %w", err)
		}
	}

	return &SQLite{db: db, table: table, now: time.Now}, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Write implements Sink. The table is created from headers on first use.
func (s *SQLite) Write(ctx context.Context, headers []string, records [][]string) error {
	if len(headers) == 0 {
		return fmt.Errorf("headers are required")
	}

	columns := make([]string, 0, len(headers)+1)
	defs := make([]string, 0, len(headers)+1)
	for _, h := range headers {
		columns = append(columns, quoteIdent(h))
		defs = append(defs, quoteIdent(h)+" TEXT")
	}
	columns = append(columns, quoteIdent("fetched_at"))
	defs = append(defs, quoteIdent("fetched_at")+" TEXT NOT NULL")

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(s.table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(s.table), strings.Join(columns, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := s.now().UTC().Format(time.RFC3339Nano)
	args := make([]any, len(columns))
	for i, rec := range records {
		if len(rec) != len(headers) {
			return fmt.Errorf("record %d has %d fields, want %d", i, len(rec), len(headers))
		}
		for j, v := range rec {
			args[j] = v
		}
		args[len(headers)] = fetchedAt
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
