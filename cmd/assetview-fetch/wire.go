package main

import (
	"context"
	"time"

	"github.com/Sternrassler/qualys-assetview/pkg/assetview"
	"github.com/Sternrassler/qualys-assetview/pkg/checkpoint"
	"github.com/Sternrassler/qualys-assetview/pkg/config"
	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/Sternrassler/qualys-assetview/pkg/pagination"
	"github.com/Sternrassler/qualys-assetview/pkg/ratelimit"
	"github.com/Sternrassler/qualys-assetview/pkg/retry"
	"github.com/Sternrassler/qualys-assetview/pkg/session"
	"github.com/Sternrassler/qualys-assetview/pkg/transport"
	"github.com/redis/go-redis/v9"
)

// app is the wired component graph for one command invocation.
type app struct {
	runner  *assetview.Runner
	tracker *ratelimit.Tracker
	redis   *redis.Client
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("cli")

	tr := transport.NewHTTP(transport.Config{
		Timeout:   cfg.RequestTimeout.Duration,
		UserAgent: "qualys-assetview/" + version,
	})

	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay.Duration,
	}

	sessions, err := session.NewManager(tr, session.Config{
		AuthURL:      cfg.AuthURL,
		CookieMarker: cfg.SessionCookieMarker,
		Retry:        policy,
	})
	if err != nil {
		return nil, err
	}

	a := &app{tracker: ratelimit.NewTracker(logging.NewLogger("ratelimit"))}
	opts := append(assetview.EngineOptions(), pagination.WithTracker(a.tracker))

	if cfg.Checkpoint.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Checkpoint.RedisAddr,
			DB:   cfg.Checkpoint.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Checkpoint.RedisAddr).Msg("Redis unavailable, running without checkpoints")
			_ = client.Close()
		} else {
			a.redis = client
			opts = append(opts, pagination.WithStore(checkpoint.NewManager(client, cfg.Checkpoint.TTL.Duration)))
			logger.Info().Str("addr", cfg.Checkpoint.RedisAddr).Msg("Page checkpoints enabled")
		}
	}

	engine, err := pagination.NewEngine(tr, pagination.Config{
		PageSize:       cfg.PageSize,
		InterPageDelay: cfg.InterPageDelay.Duration,
		CountHeader:    cfg.CountHeader,
		Retry:          policy,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.runner, err = assetview.NewRunner(sessions, engine, assetview.RunnerConfig{
		Endpoint: cfg.AssetViewURL,
		Credentials: session.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		QueryDelay: cfg.InterPageDelay.Duration,
		Flatten: assetview.FlattenOptions{
			LifecycleExemptions: cfg.LifecycleExemptions,
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func namedQueries(qs []config.Query) []assetview.NamedQuery {
	out := make([]assetview.NamedQuery, 0, len(qs))
	for _, q := range qs {
		out = append(out, assetview.NamedQuery{
			Name:  q.Name,
			Query: pagination.Query{Filter: q.Filter, Having: q.Having},
		})
	}
	return out
}
