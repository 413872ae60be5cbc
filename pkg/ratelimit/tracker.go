package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assetview_rate_limit_remaining",
		Help: "Calls remaining in the current AssetView rate limit window",
	})

	rateLimitToWaitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assetview_rate_limit_to_wait_seconds",
		Help: "Wait requested by the AssetView API before the next call",
	})

	concurrencyRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assetview_concurrency_running",
		Help: "Concurrent calls running against the subscription",
	})

	rateLimitWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assetview_rate_limit_warnings_total",
		Help: "Total number of responses observed with a low remaining call budget",
	})
)

// Tracker records the rate limit state seen on responses.
type Tracker struct {
	mu     sync.RWMutex
	state  *RateLimitState
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
	}
}

// GetState returns a copy of the last observed state, or nil if no response
// carried rate limit headers yet.
func (t *Tracker) GetState() *RateLimitState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state == nil {
		return nil
	}
	s := *t.state
	return &s
}

// UpdateFromHeaders parses rate limit headers. Responses without the
// remaining header are ignored.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := parseIntHeader(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	state := &RateLimitState{
		Remaining:  remain,
		LastUpdate: time.Now(),
	}

	// The remaining headers are optional and best effort.
	state.Limit = parseIntOrZero(headers.Get(HeaderLimit))
	state.Window = time.Duration(parseIntOrZero(headers.Get(HeaderWindowSec))) * time.Second
	state.ToWait = time.Duration(parseIntOrZero(headers.Get(HeaderToWaitSec))) * time.Second
	state.ConcurrencyLimit = parseIntOrZero(headers.Get(HeaderConcurrencyLimit))
	state.ConcurrencyRunning = parseIntOrZero(headers.Get(HeaderConcurrencyRunning))
	state.UpdateHealth()

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	rateLimitRemaining.Set(float64(state.Remaining))
	rateLimitToWaitSeconds.Set(state.ToWait.Seconds())
	concurrencyRunning.Set(float64(state.ConcurrencyRunning))

	switch {
	case state.IsCritical():
		rateLimitWarningsTotal.Inc()
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("to_wait", state.ToWait).
			Msg("AssetView rate limit CRITICAL - calls are about to be refused")
	case state.IsWarning() || state.ToWait > 0:
		rateLimitWarningsTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("to_wait", state.ToWait).
			Msg("AssetView rate limit WARNING")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Int("concurrency_running", state.ConcurrencyRunning).
			Msg("AssetView rate limit state updated")
	}

	return nil
}

func parseIntHeader(value string) (int, error) {
	return strconv.Atoi(value)
}

func parseIntOrZero(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
