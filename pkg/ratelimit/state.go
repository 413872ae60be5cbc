// Package ratelimit observes the AssetView API's rate limit and concurrency
// headers. It never delays requests itself: the engine's inter-page delay is
// a fixed constant and this package only reports how close a run is to the
// subscription limits.
package ratelimit

import (
	"time"
)

// Response headers carrying rate limit state.
const (
	HeaderLimit              = "X-RateLimit-Limit"
	HeaderWindowSec          = "X-RateLimit-Window-Sec"
	HeaderRemaining          = "X-RateLimit-Remaining"
	HeaderToWaitSec          = "X-RateLimit-ToWait-Sec"
	HeaderConcurrencyLimit   = "X-Concurrency-Limit-Limit"
	HeaderConcurrencyRunning = "X-Concurrency-Limit-Running"
)

// Thresholds for reporting.
const (
	// RemainingThresholdCritical: calls left in the window below which a run
	// is likely to be refused.
	RemainingThresholdCritical = 5

	// RemainingThresholdWarning: calls left in the window below which the
	// tracker logs warnings.
	RemainingThresholdWarning = 20
)

// RateLimitState is the last observed rate limit state.
type RateLimitState struct {
	// Limit is the number of calls allowed per window (X-RateLimit-Limit).
	Limit int `json:"limit"`

	// Window is the length of the rate limit window.
	Window time.Duration `json:"window"`

	// Remaining is the number of calls left in the window.
	Remaining int `json:"remaining"`

	// ToWait is how long the API asks clients to wait before the next call.
	ToWait time.Duration `json:"to_wait"`

	// ConcurrencyLimit and ConcurrencyRunning describe parallel call usage.
	ConcurrencyLimit   int `json:"concurrency_limit"`
	ConcurrencyRunning int `json:"concurrency_running"`

	// LastUpdate is when the state was observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingThresholdWarning and the
	// API is not asking clients to wait.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsCritical returns true if the remaining call budget is nearly spent.
func (s *RateLimitState) IsCritical() bool {
	return s.Remaining < RemainingThresholdCritical
}

// IsWarning returns true if the remaining call budget is running low.
func (s *RateLimitState) IsWarning() bool {
	return s.Remaining < RemainingThresholdWarning && !s.IsCritical()
}

// UpdateHealth updates IsHealthy from Remaining and ToWait.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdWarning && s.ToWait == 0
}
