// Package metrics documents the Prometheus metrics exported by the
// AssetView client and pushes them to a Pushgateway at the end of a batch
// run. All metrics are defined in their respective packages (transport,
// retry, session, pagination, checkpoint, ratelimit, assetview) to keep
// the packages independent.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source pushed by Push.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// DefaultJob is the Pushgateway job name when none is configured.
const DefaultJob = "qualys_assetview"

// Push sends every gathered metric to the Pushgateway at url, replacing
// the previous push of the same job and grouping labels.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = DefaultJob
	}

	pusher := push.New(url, job).Gatherer(Gatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Metrics Documentation
//
// Transport Metrics (pkg/transport):
//   - assetview_requests_total{method, status} (Counter): Outbound requests by method and HTTP status
//   - assetview_request_duration_seconds{method} (Histogram): Request duration by method
//
// Retry Metrics (pkg/retry):
//   - assetview_retries_total{operation} (Counter): Retries by operation (login, logout, page)
//   - assetview_retry_backoff_seconds{operation} (Histogram): Backoff waited before a retry
//   - assetview_retry_exhausted_total{operation} (Counter): Operations that used up their attempts
//
// Session Metrics (pkg/session):
//   - assetview_session_events_total{action, result} (Counter): Login/logout outcomes
//
// Pagination Metrics (pkg/pagination):
//   - assetview_probes_total{result} (Counter): Count probes by result
//   - assetview_pages_fetched_total{source} (Counter): Pages by source (remote, checkpoint)
//   - assetview_page_failures_total (Counter): Pages that exhausted their retries
//   - assetview_record_set_drift_total (Counter): Runs truncated by a shrinking record set
//   - assetview_fetch_duration_seconds (Histogram): Complete FetchAll duration
//
// Checkpoint Metrics (pkg/checkpoint):
//   - assetview_checkpoint_hits_total (Counter): Pages restored from Redis
//   - assetview_checkpoint_misses_total (Counter): Checkpoint misses
//   - assetview_checkpoint_size_bytes (Counter): Bytes written
//   - assetview_checkpoint_errors_total{operation} (Counter): Redis errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - assetview_rate_limit_remaining (Gauge): Calls remaining in the window
//   - assetview_rate_limit_to_wait_seconds (Gauge): Wait requested by the API
//   - assetview_concurrency_running (Gauge): Concurrent calls running
//   - assetview_rate_limit_warnings_total (Counter): Responses with a low remaining budget
//
// Run Metrics (pkg/assetview):
//   - assetview_runs_total{result} (Counter): Report runs by result
//   - assetview_rows_total{stage} (Counter): Rows flattened and written
//
// Example Prometheus Queries:
//
//   # Retry rate per page
//   rate(assetview_retries_total{operation="page"}[1h]) /
//   rate(assetview_pages_fetched_total{source="remote"}[1h])
//
//   # Failed runs
//   assetview_runs_total{result!="success"}
//
//   # Checkpoint reuse
//   assetview_checkpoint_hits_total /
//   (assetview_checkpoint_hits_total + assetview_checkpoint_misses_total)
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(assetview_request_duration_seconds_bucket[1h]))
