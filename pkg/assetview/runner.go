package assetview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/Sternrassler/qualys-assetview/pkg/pagination"
	"github.com/Sternrassler/qualys-assetview/pkg/retry"
	"github.com/Sternrassler/qualys-assetview/pkg/session"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_runs_total",
		Help: "Total report runs by result",
	}, []string{"result"})

	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_rows_total",
		Help: "Rows produced by report runs",
	}, []string{"stage"}) // "flattened", "written"
)

// Sessions opens and closes authenticated sessions. *session.Manager
// satisfies it.
type Sessions interface {
	Open(ctx context.Context, creds session.Credentials) (session.Handle, error)
	Close(ctx context.Context, handle session.Handle) error
}

// Fetcher retrieves record sets. *pagination.Engine satisfies it.
type Fetcher interface {
	ProbeCount(ctx context.Context, handle session.Handle, endpoint string, q pagination.Query) (int, error)
	FetchAll(ctx context.Context, handle session.Handle, endpoint string, q pagination.Query) ([]json.RawMessage, error)
}

// RowWriter receives the final report.
type RowWriter interface {
	Write(ctx context.Context, headers []string, records [][]string) error
}

// NamedQuery is a query with a report label.
type NamedQuery struct {
	Name string
	pagination.Query
}

// RunnerConfig holds the run settings.
type RunnerConfig struct {
	// Endpoint is the AssetView asset search URL.
	Endpoint string

	// Credentials for the session.
	Credentials session.Credentials

	// QueryDelay is waited between consecutive queries of one run.
	QueryDelay time.Duration

	// Timer drives QueryDelay. Nil uses the wall clock.
	Timer retry.Timer

	// Flatten options for derived columns.
	Flatten FlattenOptions
}

// Result summarizes a run.
type Result struct {
	RunID      string
	Rows       []Row
	Pages      int
	Duplicates int
	PerQuery   map[string]int
}

// Runner executes report runs: one session, any number of queries.
type Runner struct {
	sessions Sessions
	fetcher  Fetcher
	config   RunnerConfig
}

// NewRunner creates a runner.
func NewRunner(sessions Sessions, fetcher Fetcher, cfg RunnerConfig) (*Runner, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	return &Runner{
		sessions: sessions,
		fetcher:  fetcher,
		config:   cfg,
	}, nil
}

func (r *Runner) runLogger(runID string) zerolog.Logger {
	return logging.WithRunID(logging.NewLogger("assetview"), runID)
}

// closeSession always runs, even when ctx is cancelled. Failures are
// logged and never change the run's outcome.
func (r *Runner) closeSession(ctx context.Context, handle session.Handle, logger zerolog.Logger) {
	if err := r.sessions.Close(context.WithoutCancel(ctx), handle); err != nil {
		logger.Warn().Err(err).Msg("Session teardown failed")
	}
}

// Run fetches every query in one session, flattens and deduplicates the
// rows, and writes them to w when w is not nil. A page retrieval failure
// aborts the run before anything is written.
func (r *Runner) Run(ctx context.Context, w RowWriter, queries ...NamedQuery) (*Result, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("at least one query is required")
	}

	start := time.Now()
	result := &Result{
		RunID:    uuid.NewString(),
		PerQuery: make(map[string]int, len(queries)),
	}
	logger := r.runLogger(result.RunID)
	logger.Info().Int("queries", len(queries)).Msg("Run started")

	handle, err := r.sessions.Open(ctx, r.config.Credentials)
	if err != nil {
		runsTotal.WithLabelValues("auth_failed").Inc()
		return nil, err
	}
	defer r.closeSession(ctx, handle, logger)

	var rows []Row
	for i, q := range queries {
		if i > 0 {
			if err := retry.Sleep(ctx, r.config.Timer, r.config.QueryDelay); err != nil {
				runsTotal.WithLabelValues("cancelled").Inc()
				return nil, err
			}
		}

		qlog := logging.WithQuery(logger, q.Name)
		pages, err := r.fetcher.FetchAll(ctx, handle, r.config.Endpoint, q.Query)
		if err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			qlog.Error().Err(err).Int("partial_pages", len(pages)).Msg("Query failed, nothing written")
			return nil, fmt.Errorf("query %q: %w", q.Name, err)
		}

		flat, err := Flatten(pages, r.config.Flatten)
		if err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("query %q: %w", q.Name, err)
		}

		qlog.Info().Int("pages", len(pages)).Int("rows", len(flat)).Msg("Query complete")
		result.Pages += len(pages)
		result.PerQuery[q.Name] = len(flat)
		rows = append(rows, flat...)
	}

	rowsTotal.WithLabelValues("flattened").Add(float64(len(rows)))
	result.Rows = Dedup(rows)
	result.Duplicates = len(rows) - len(result.Rows)
	logger.Info().
		Int("before", len(rows)).
		Int("after", len(result.Rows)).
		Msg("Deduplicated rows")

	if w != nil {
		records := make([][]string, 0, len(result.Rows))
		for _, row := range result.Rows {
			records = append(records, row.Values())
		}
		if err := w.Write(ctx, Headers, records); err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("write rows: %w", err)
		}
		rowsTotal.WithLabelValues("written").Add(float64(len(records)))
	}

	runsTotal.WithLabelValues("success").Inc()
	logger.Info().
		Int("rows", len(result.Rows)).
		Int("pages", result.Pages).
		Dur("duration", time.Since(start)).
		Msg("Run complete")

	return result, nil
}

// Count probes the total of every query in one session, keyed by query
// name. Probes are not paced by QueryDelay.
func (r *Runner) Count(ctx context.Context, queries ...NamedQuery) (map[string]int, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("at least one query is required")
	}

	logger := r.runLogger(uuid.NewString())

	handle, err := r.sessions.Open(ctx, r.config.Credentials)
	if err != nil {
		return nil, err
	}
	defer r.closeSession(ctx, handle, logger)

	totals := make(map[string]int, len(queries))
	for _, q := range queries {
		total, err := r.fetcher.ProbeCount(ctx, handle, r.config.Endpoint, q.Query)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q.Name, err)
		}
		qlog := logging.WithQuery(logger, q.Name)
		qlog.Info().Int("total", total).Msg("Count complete")
		totals[q.Name] = total
	}
	return totals, nil
}
