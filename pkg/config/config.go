// Package config loads the TOML run configuration and the Qualys
// credentials, which come from the environment (optionally via a .env
// file) and never from the TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables holding the credentials.
const (
	EnvUsername = "QUALYS_USERNAME"
	EnvPassword = "QUALYS_PASSWORD"
)

// ErrMissingCredentials indicates the credential variables are unset.
var ErrMissingCredentials = errors.New("missing credentials: set " + EnvUsername + " and " + EnvPassword)

// Duration is a time.Duration written as a string ("5s", "1h30m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Query is one named AssetView query.
type Query struct {
	Name   string `toml:"name" validate:"required"`
	Filter string `toml:"filter" validate:"required"`
	Having string `toml:"having"`
}

// OutputConfig selects where rows go.
type OutputConfig struct {
	Format string `toml:"format" validate:"oneof=csv sqlite"`
	Path   string `toml:"path" validate:"required"`
	Table  string `toml:"table"`
}

// CheckpointConfig enables Redis page checkpoints when RedisAddr is set.
type CheckpointConfig struct {
	RedisAddr string   `toml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisDB   int      `toml:"redis_db" validate:"min=0"`
	TTL       Duration `toml:"ttl"`
}

// Enabled reports whether checkpoints are configured.
func (c CheckpointConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Pretty bool   `toml:"pretty"`
}

// MetricsConfig enables a Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `toml:"job"`
}

// Config is the full run configuration.
type Config struct {
	AuthURL             string   `toml:"auth_url" validate:"required,url"`
	AssetViewURL        string   `toml:"assetview_url" validate:"required,url"`
	PageSize            int      `toml:"page_size" validate:"min=1,max=10000"`
	MaxRetries          int      `toml:"max_retries" validate:"min=0,max=30"`
	BaseDelay           Duration `toml:"base_delay"`
	InterPageDelay      Duration `toml:"inter_page_delay"`
	RequestTimeout      Duration `toml:"request_timeout"`
	CountHeader         string   `toml:"count_header" validate:"required"`
	SessionCookieMarker string   `toml:"session_cookie_marker" validate:"required"`
	LifecycleExemptions []string `toml:"lifecycle_exemptions"`

	Queries    []Query          `toml:"queries" validate:"required,min=1,unique=Name,dive"`
	Output     OutputConfig     `toml:"output"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Logging    LoggingConfig    `toml:"logging"`
	Metrics    MetricsConfig    `toml:"metrics"`

	Username string `toml:"-"`
	Password string `toml:"-"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		AuthURL:             "https://qualysguard.qualys.com/api/2.0/fo/session/",
		AssetViewURL:        "https://qualysguard.qualys.com/portal-front/rest/assetview/1.0/assets",
		PageSize:            150,
		MaxRetries:          5,
		BaseDelay:           Duration{time.Second},
		InterPageDelay:      Duration{5 * time.Second},
		RequestTimeout:      Duration{60 * time.Second},
		CountHeader:         "Total-Count",
		SessionCookieMarker: "QualysSession",
		LifecycleExemptions: []string{"VMware vCenter Server Appliance 6.7.0 build 22509751"},
		Output: OutputConfig{
			Format: "csv",
			Path:   "assets.csv",
			Table:  "assets",
		},
		Checkpoint: CheckpointConfig{
			TTL: Duration{time.Hour},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Job: "qualys_assetview",
		},
	}
}

// Load reads path over the defaults, loads credentials and validates the
// result. envFile is optional; a missing file is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	if err := LoadCredentials(&cfg, envFile); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCredentials fills Username and Password from the environment, after
// loading envFile when it exists. Variables already set take precedence.
func LoadCredentials(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg.Username = os.Getenv(EnvUsername)
	cfg.Password = os.Getenv(EnvPassword)
	if cfg.Username == "" || cfg.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.BaseDelay.Duration < 0 || c.InterPageDelay.Duration < 0 {
		return fmt.Errorf("invalid config: delays must not be negative")
	}
	return nil
}

// SelectQueries returns the queries named in names, or all of them when
// names is empty.
func (c *Config) SelectQueries(names ...string) ([]Query, error) {
	if len(names) == 0 {
		return c.Queries, nil
	}

	byName := make(map[string]Query, len(c.Queries))
	for _, q := range c.Queries {
		byName[q.Name] = q
	}

	selected := make([]Query, 0, len(names))
	for _, name := range names {
		q, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown query %q", name)
		}
		selected = append(selected, q)
	}
	return selected, nil
}
