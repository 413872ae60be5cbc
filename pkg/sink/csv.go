package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CSV writes the report as a comma separated file with a header line.
type CSV struct {
	path string
	out  io.Writer
}

// NewCSV creates a CSV sink writing to path, or to stdout when path is "-".
// The file is created (or truncated) on Write.
func NewCSV(path string) (*CSV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	if path == "-" {
		return &CSV{out: os.Stdout}, nil
	}
	return &CSV{path: path}, nil
}

// NewCSVWriter creates a CSV sink writing to w.
func NewCSVWriter(w io.Writer) *CSV {
	return &CSV{out: w}
}

// Path returns the output file, empty for writer-backed sinks.
func (c *CSV) Path() string {
	return c.path
}

// Write implements Sink.
func (c *CSV) Write(ctx context.Context, headers []string, records [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.out != nil {
		return writeCSV(c.out, headers, records)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.path, err)
	}
	if err := writeCSV(f, headers, records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close implements Sink.
func (c *CSV) Close() error {
	return nil
}

func writeCSV(out io.Writer, headers []string, records [][]string) error {
	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	return nil
}
