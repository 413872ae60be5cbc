// Package transport provides the HTTP boundary used by the session and
// pagination packages. Callers see status, headers, cookies and the fully
// read body; nothing above this package touches *http.Response.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for outbound requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetview_requests_total",
		Help: "Total outbound requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assetview_request_duration_seconds",
		Help:    "Outbound request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})
)

// Response is a captured HTTP response with the body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
}

// Transport is the HTTP capability the retrieval engine depends on.
type Transport interface {
	// PostForm sends form as an application/x-www-form-urlencoded body.
	PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) (*Response, error)

	// Get sends a GET request with query appended to rawURL.
	Get(ctx context.Context, rawURL string, query url.Values, header http.Header) (*Response, error)
}

// Config holds the HTTP transport configuration.
type Config struct {
	// Timeout per request.
	Timeout time.Duration

	// UserAgent is sent on every request when set.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   60 * time.Second,
		UserAgent: "qualys-assetview/0.1.0",
	}
}

// HTTPTransport implements Transport on net/http.
type HTTPTransport struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg Config) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &HTTPTransport{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logging.NewLogger("transport"),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (t *HTTPTransport) SetHTTPClient(client *http.Client) {
	t.httpClient = client
}

// PostForm implements Transport.
func (t *HTTPTransport) PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	copyHeader(req.Header, header)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return t.do(req)
}

// Get implements Transport.
func (t *HTTPTransport) Get(ctx context.Context, rawURL string, query url.Values, header http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	copyHeader(req.Header, header)

	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	method := req.Method
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	if t.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}

	t.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Msg("Executing request")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(method, "read_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Cookies:    resp.Cookies(),
		Body:       body,
	}, nil
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// IsSuccess reports whether the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
