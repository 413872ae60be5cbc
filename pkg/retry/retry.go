// Package retry implements the exponential backoff policy shared by session
// establishment, session teardown and page retrieval.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	retrygo "github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assetview_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// maxShift caps the backoff exponent so BaseDelay<<n cannot overflow.
const maxShift = 30

// Timer abstracts waiting so tests do not sleep.
type Timer interface {
	After(time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Policy holds the configuration for retry logic.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Total attempts are MaxRetries+1.
	MaxRetries int

	// BaseDelay is the wait before the first retry. Each further retry
	// doubles it: BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
	BaseDelay time.Duration

	// Timer used for backoff waits. Nil uses the wall clock.
	Timer Timer
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
	}
}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the wait before retry number n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	shift := n - 1
	if shift > maxShift {
		shift = maxShift
	}
	return p.BaseDelay << uint(shift)
}

// WithTimer returns a copy of p using timer.
func (p Policy) WithTimer(timer Timer) Policy {
	p.Timer = timer
	return p
}

// GetTimer returns the configured timer or the wall clock.
func (p Policy) GetTimer() Timer {
	if p.Timer == nil {
		return realTimer{}
	}
	return p.Timer
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as non-retryable. Do returns it after the first
// attempt that produces it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Do executes fn until it succeeds, returns a Terminal error, or the policy's
// attempts are used up. fn receives the 0-based attempt number. Every failed
// attempt is logged with the operation name so operators can follow progress.
func Do(ctx context.Context, operation string, policy Policy, fn func(attempt int) error) error {
	logger := logging.NewLogger("retry").With().Str("operation", operation).Logger()
	attempts := policy.Attempts()

	var (
		calls    int
		terminal bool
	)

	err := retrygo.Do(
		func() error {
			attempt := calls
			calls++

			err := fn(attempt)
			var t *terminalError
			if errors.As(err, &t) {
				terminal = true
				return retrygo.Unrecoverable(t.err)
			}
			return err
		},
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return policy.Backoff(int(n))
		}),
		retrygo.WithTimer(policy.GetTimer()),
		retrygo.LastErrorOnly(true),
		retrygo.OnRetry(func(n uint, err error) {
			attempt := int(n)
			if attempt >= attempts-1 {
				logger.Warn().
					Err(err).
					Int("attempt", attempt).
					Int("max_attempts", attempts).
					Msg("Attempt failed")
				return
			}

			backoff := policy.Backoff(attempt + 1)
			retriesTotal.WithLabelValues(operation).Inc()
			retryBackoffSeconds.WithLabelValues(operation).Observe(backoff.Seconds())

			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Dur("backoff", backoff).
				Msg("Attempt failed, retrying after backoff")
		}),
	)
	if err == nil {
		if calls > 1 {
			logger.Info().Int("attempts", calls).Msg("Succeeded after retry")
		}
		return nil
	}

	if terminal {
		logger.Debug().Err(err).Msg("Terminal error, not retrying")
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		logger.Warn().Int("attempts", calls).Msg("Context cancelled during retry")
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
	}

	retryExhaustedTotal.WithLabelValues(operation).Inc()
	logger.Error().
		Err(err).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, calls, err)
}

// Sleep waits d on timer, returning early with ErrContextCancelled when ctx
// is done.
func Sleep(ctx context.Context, timer Timer, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if timer == nil {
		timer = realTimer{}
	}

	select {
	case <-timer.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	}
}
