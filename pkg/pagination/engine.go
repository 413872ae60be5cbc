package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/qualys-assetview/pkg/checkpoint"
	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/Sternrassler/qualys-assetview/pkg/ratelimit"
	"github.com/Sternrassler/qualys-assetview/pkg/retry"
	"github.com/Sternrassler/qualys-assetview/pkg/session"
	"github.com/Sternrassler/qualys-assetview/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for retrieval runs.
var (
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_probes_total",
		Help: "Total count probes by result",
	}, []string{"result"}) // "success", "failure"

	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_pages_fetched_total",
		Help: "Total pages retrieved by source",
	}, []string{"source"}) // "remote", "checkpoint"

	pageFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assetview_page_failures_total",
		Help: "Total pages that exhausted their retries",
	})

	recordSetDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assetview_record_set_drift_total",
		Help: "Total runs truncated because the record set shrank after the probe",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assetview_fetch_duration_seconds",
		Help:    "Duration of complete FetchAll runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

const (
	// DefaultPageSize is the number of records requested per page.
	DefaultPageSize = 150

	// DefaultInterPageDelay is the pause after every successful page.
	DefaultInterPageDelay = 5 * time.Second

	// DefaultCountHeader carries the total record count.
	DefaultCountHeader = "Total-Count"
)

// Config holds the engine configuration.
type Config struct {
	// PageSize is the maximum number of records per request.
	PageSize int

	// InterPageDelay is waited after every successful page, the last one
	// included.
	InterPageDelay time.Duration

	// CountHeader names the response header carrying the total.
	CountHeader string

	// Retry applies to every page request. Its timer also drives the
	// inter-page delay.
	Retry retry.Policy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:       DefaultPageSize,
		InterPageDelay: DefaultInterPageDelay,
		CountHeader:    DefaultCountHeader,
		Retry:          retry.DefaultPolicy(),
	}
}

// PageStore keeps completed pages so a later run can skip them.
// *checkpoint.Manager satisfies it.
type PageStore interface {
	Get(ctx context.Context, key checkpoint.PageKey) ([]byte, error)
	Set(ctx context.Context, key checkpoint.PageKey, payload []byte) error
	Clear(ctx context.Context, key checkpoint.PageKey) (int, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithParams replaces DefaultParams.
func WithParams(fn ParamsFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.params = fn
		}
	}
}

// WithHeader adds fixed headers to every request.
func WithHeader(header http.Header) Option {
	return func(e *Engine) {
		for k, v := range header {
			e.header[k] = append([]string(nil), v...)
		}
	}
}

// WithStore enables page checkpoints.
func WithStore(store PageStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithTracker records rate limit headers seen on page responses.
func WithTracker(tracker *ratelimit.Tracker) Option {
	return func(e *Engine) {
		e.tracker = tracker
	}
}

// Engine retrieves paginated record sets. It holds configuration only, so
// one Engine can serve many runs.
type Engine struct {
	transport transport.Transport
	config    Config
	params    ParamsFunc
	header    http.Header
	store     PageStore
	tracker   *ratelimit.Tracker
	logger    zerolog.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(t transport.Transport, cfg Config, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.InterPageDelay < 0 {
		return nil, fmt.Errorf("inter-page delay must not be negative")
	}
	if cfg.CountHeader == "" {
		cfg.CountHeader = DefaultCountHeader
	}

	e := &Engine{
		transport: t,
		config:    cfg,
		params:    DefaultParams,
		header:    http.Header{},
		logger:    logging.NewLogger("pagination"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) requestHeader(handle session.Handle) http.Header {
	header := e.header.Clone()
	handle.Apply(header)
	return header
}

// ProbeCount issues a single limit=1 request and returns the total from the
// count header. It is not retried.
func (e *Engine) ProbeCount(ctx context.Context, handle session.Handle, endpoint string, q Query) (int, error) {
	resp, err := e.transport.Get(ctx, endpoint, e.params(q, 0, 1), e.requestHeader(handle))
	if err != nil {
		probesTotal.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("%w: %w", ErrCountUnavailable, err)
	}

	if !resp.IsSuccess() {
		probesTotal.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("%w: probe returned HTTP %d", ErrCountUnavailable, resp.StatusCode)
	}

	raw := strings.TrimSpace(resp.Header.Get(e.config.CountHeader))
	if raw == "" {
		probesTotal.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("%w: %s header missing", ErrCountUnavailable, e.config.CountHeader)
	}

	total, err := strconv.Atoi(raw)
	if err != nil || total < 0 {
		probesTotal.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("%w: invalid %s header %q", ErrCountUnavailable, e.config.CountHeader, raw)
	}

	probesTotal.WithLabelValues("success").Inc()
	e.logger.Info().
		Str("endpoint", endpoint).
		Int("total", total).
		Msg("Probed total count")
	return total, nil
}

// FetchAll probes the total and retrieves every page in offset order. On a
// page failure the pages fetched so far are returned with a
// *PageRetrievalError.
func (e *Engine) FetchAll(ctx context.Context, handle session.Handle, endpoint string, q Query) ([]json.RawMessage, error) {
	start := time.Now()

	total, err := e.ProbeCount(ctx, handle, endpoint, q)
	if err != nil {
		return nil, err
	}

	pages := []json.RawMessage{}
	if total == 0 {
		e.logger.Info().Str("endpoint", endpoint).Msg("No records to fetch")
		return pages, nil
	}

	key := checkpoint.PageKey{
		Endpoint: endpoint,
		Filter:   q.Filter,
		Having:   q.Having,
		Total:    total,
		PageSize: e.config.PageSize,
	}
	timer := e.config.Retry.GetTimer()

	e.logger.Info().
		Str("endpoint", endpoint).
		Int("total", total).
		Int("page_size", e.config.PageSize).
		Int("expected_pages", (total+e.config.PageSize-1)/e.config.PageSize).
		Msg("Starting paginated fetch")

	for offset := 0; offset < total; {
		increment := min(e.config.PageSize, total-offset)

		if payload, ok := e.loadCheckpoint(ctx, key.WithOffset(offset)); ok {
			pages = append(pages, payload)
			pagesFetchedTotal.WithLabelValues("checkpoint").Inc()
			e.logger.Info().
				Int("offset", offset).
				Int("limit", increment).
				Msg("Page restored from checkpoint")
			offset += increment
			continue
		}

		payload, err := e.fetchPage(ctx, handle, endpoint, q, offset, increment)
		if err != nil {
			if errors.Is(err, retry.ErrContextCancelled) {
				return pages, err
			}
			pageFailuresTotal.Inc()
			e.logger.Error().
				Err(err).
				Int("offset", offset).
				Int("fetched_pages", len(pages)).
				Int("total", total).
				Msg("Page retrieval failed, returning partial results")
			return pages, &PageRetrievalError{
				Offset:  offset,
				Fetched: len(pages),
				Total:   total,
				Err:     err,
			}
		}

		if isEmptyArray(payload) {
			recordSetDriftTotal.Inc()
			e.logger.Warn().
				Int("offset", offset).
				Int("total", total).
				Int("fetched_pages", len(pages)).
				Msg("Empty page inside probed range, record set shrank; stopping")
			break
		}

		pages = append(pages, payload)
		pagesFetchedTotal.WithLabelValues("remote").Inc()
		e.saveCheckpoint(ctx, key.WithOffset(offset), payload)

		e.logger.Info().
			Int("offset", offset).
			Int("limit", increment).
			Int("fetched", offset+increment).
			Int("total", total).
			Msg("Page fetched")

		offset += increment

		if err := retry.Sleep(ctx, timer, e.config.InterPageDelay); err != nil {
			return pages, err
		}
	}

	e.clearCheckpoints(ctx, key)

	fetchDuration.Observe(time.Since(start).Seconds())
	e.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", len(pages)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return pages, nil
}

// fetchPage requests one page under the retry policy. Transport errors,
// non-2xx statuses and invalid JSON all count as failed attempts.
func (e *Engine) fetchPage(ctx context.Context, handle session.Handle, endpoint string, q Query, offset, limit int) (json.RawMessage, error) {
	params := e.params(q, offset, limit)
	header := e.requestHeader(handle)

	var payload json.RawMessage
	err := retry.Do(ctx, "page", e.config.Retry, func(attempt int) error {
		logger := e.logger.With().Int("offset", offset).Int("limit", limit).Int("attempt", attempt).Logger()

		resp, err := e.transport.Get(ctx, endpoint, params, header)
		if err != nil {
			logger.Warn().Err(err).Msg("Page request failed")
			return err
		}

		e.observeRateLimit(resp.Header)

		if !resp.IsSuccess() {
			logger.Warn().Int("status", resp.StatusCode).Msg("Page request returned error status")
			return &PageStatusError{StatusCode: resp.StatusCode, Offset: offset}
		}

		if !gjson.ValidBytes(resp.Body) {
			logger.Warn().Int("bytes", len(resp.Body)).Msg("Page body is not valid JSON")
			return fmt.Errorf("page at offset %d: invalid JSON body", offset)
		}

		payload = json.RawMessage(resp.Body)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (e *Engine) observeRateLimit(header http.Header) {
	if e.tracker == nil {
		return
	}
	if err := e.tracker.UpdateFromHeaders(header); err != nil {
		e.logger.Debug().Err(err).Msg("Ignoring malformed rate limit headers")
	}
}

func (e *Engine) loadCheckpoint(ctx context.Context, key checkpoint.PageKey) (json.RawMessage, bool) {
	if e.store == nil {
		return nil, false
	}
	data, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrMiss) {
			e.logger.Warn().Err(err).Int("offset", key.Offset).Msg("Checkpoint lookup failed")
		}
		return nil, false
	}
	if !gjson.ValidBytes(data) {
		return nil, false
	}
	return json.RawMessage(data), true
}

func (e *Engine) saveCheckpoint(ctx context.Context, key checkpoint.PageKey, payload []byte) {
	if e.store == nil {
		return
	}
	if err := e.store.Set(ctx, key, payload); err != nil {
		e.logger.Warn().Err(err).Int("offset", key.Offset).Msg("Checkpoint store failed")
	}
}

func (e *Engine) clearCheckpoints(ctx context.Context, key checkpoint.PageKey) {
	if e.store == nil {
		return
	}
	n, err := e.store.Clear(ctx, key)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Checkpoint cleanup failed")
		return
	}
	if n > 0 {
		e.logger.Debug().Int("keys", n).Msg("Checkpoints cleared")
	}
}

func isEmptyArray(payload []byte) bool {
	result := gjson.ParseBytes(payload)
	return result.IsArray() && len(result.Array()) == 0
}
