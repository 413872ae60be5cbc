// Package sink writes report rows to their destination: a CSV file (or
// stdout) or a SQLite table.
package sink

import (
	"context"
	"fmt"
	"strings"
)

// Sink receives a complete report.
type Sink interface {
	// Write stores headers and records. An empty records slice still
	// produces the header (or the table).
	Write(ctx context.Context, headers []string, records [][]string) error

	// Close releases the destination.
	Close() error
}

// Format selects the sink implementation.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatSQLite Format = "sqlite"
)

// Config describes the destination.
type Config struct {
	Format Format

	// Path of the CSV file or SQLite database. "-" writes CSV to stdout.
	Path string

	// Table is the SQLite table name.
	Table string
}

// Open creates the sink for cfg.
func Open(cfg Config) (Sink, error) {
	switch Format(strings.ToLower(string(cfg.Format))) {
	case FormatCSV, "":
		return NewCSV(cfg.Path)
	case FormatSQLite:
		return NewSQLite(cfg.Path, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown output format %q", cfg.Format)
	}
}
