// Package session establishes and tears down the authenticated session that
// every AssetView request carries.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/Sternrassler/qualys-assetview/pkg/retry"
	"github.com/Sternrassler/qualys-assetview/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var sessionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "assetview_session_events_total",
	Help: "Session login/logout outcomes",
}, []string{"action", "result"})

// DefaultCookieMarker is the substring identifying the session cookie.
const DefaultCookieMarker = "QualysSession"

// Credentials for the login call.
type Credentials struct {
	Username string
	Password string
}

// Handle is an opaque authenticated session. It is owned by one run and
// must be closed when the run ends.
type Handle struct {
	cookie string
}

// NewHandle wraps a raw "name=value" cookie pair.
func NewHandle(cookie string) Handle {
	return Handle{cookie: cookie}
}

// Cookie returns the "name=value" pair sent as the Cookie header.
func (h Handle) Cookie() string {
	return h.cookie
}

// IsZero reports whether the handle is empty.
func (h Handle) IsZero() bool {
	return h.cookie == ""
}

// Apply sets the session cookie on header.
func (h Handle) Apply(header http.Header) {
	if h.cookie != "" {
		header.Set("Cookie", h.cookie)
	}
}

// Config holds the session manager configuration.
type Config struct {
	// AuthURL is the login/logout endpoint.
	AuthURL string

	// CookieMarker is matched as a substring of response cookie names.
	CookieMarker string

	// Retry policy for login and logout.
	Retry retry.Policy
}

// Manager opens and closes sessions.
type Manager struct {
	transport transport.Transport
	config    Config
	logger    zerolog.Logger
}

// NewManager creates a session manager.
func NewManager(t transport.Transport, cfg Config) (*Manager, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("auth url is required")
	}
	if cfg.CookieMarker == "" {
		cfg.CookieMarker = DefaultCookieMarker
	}

	return &Manager{
		transport: t,
		config:    cfg,
		logger:    logging.NewLogger("session"),
	}, nil
}

func baseHeader() http.Header {
	header := http.Header{}
	header.Set("X-Requested-With", "qualys-assetview")
	return header
}

// Open logs in and returns the session handle. 400, 401, 403 and 404 fail
// immediately; every other failure is retried with backoff.
func (m *Manager) Open(ctx context.Context, creds Credentials) (Handle, error) {
	form := url.Values{
		"action":   {"login"},
		"username": {creds.Username},
		"password": {creds.Password},
	}

	var handle Handle
	err := retry.Do(ctx, "login", m.config.Retry, func(attempt int) error {
		resp, err := m.transport.PostForm(ctx, m.config.AuthURL, form, baseHeader())
		if err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Login request failed")
			return err
		}

		class := Classify(resp.StatusCode)
		m.logger.Debug().
			Int("status", resp.StatusCode).
			Str("class", string(class)).
			Int("attempt", attempt).
			Msg("Login response")

		if class == ClassSuccess {
			cookie, ok := findCookie(resp.Cookies, m.config.CookieMarker)
			if !ok {
				return retry.Terminal(ErrNoSessionCookie)
			}
			handle = NewHandle(cookie)
			return nil
		}

		statusErr := &StatusError{StatusCode: resp.StatusCode, Class: class, Action: "login"}
		if !shouldRetry(class) {
			return retry.Terminal(statusErr)
		}
		return statusErr
	})
	if err != nil {
		sessionEventsTotal.WithLabelValues("login", "failure").Inc()
		m.logger.Error().Err(err).Msg("Authentication failed")
		return Handle{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	sessionEventsTotal.WithLabelValues("login", "success").Inc()
	m.logger.Info().Msg("Authentication successful")
	return handle, nil
}

// Close logs out. The error is informational: callers log it and never let
// it change the outcome of a run.
func (m *Manager) Close(ctx context.Context, handle Handle) error {
	if handle.IsZero() {
		return nil
	}

	form := url.Values{"action": {"logout"}}
	header := baseHeader()
	handle.Apply(header)

	err := retry.Do(ctx, "logout", m.config.Retry, func(attempt int) error {
		resp, err := m.transport.PostForm(ctx, m.config.AuthURL, form, header)
		if err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Logout request failed")
			return err
		}

		class := Classify(resp.StatusCode)
		if class == ClassSuccess {
			return nil
		}

		statusErr := &StatusError{StatusCode: resp.StatusCode, Class: class, Action: "logout"}
		if !shouldRetry(class) {
			return retry.Terminal(statusErr)
		}
		return statusErr
	})
	if err != nil {
		sessionEventsTotal.WithLabelValues("logout", "failure").Inc()
		return fmt.Errorf("%w: %w", ErrTeardownFailed, err)
	}

	sessionEventsTotal.WithLabelValues("logout", "success").Inc()
	m.logger.Info().Msg("Logout successful")
	return nil
}

func findCookie(cookies []*http.Cookie, marker string) (string, bool) {
	for _, c := range cookies {
		if strings.Contains(c.Name, marker) {
			return c.Name + "=" + c.Value, true
		}
	}
	return "", false
}
