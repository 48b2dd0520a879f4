package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/soyeahso/chatpulse/internal/config"
	"github.com/soyeahso/chatpulse/internal/hooks"
	"github.com/soyeahso/chatpulse/internal/ingest"
	"github.com/soyeahso/chatpulse/internal/lock"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/pairing"
	"github.com/soyeahso/chatpulse/internal/recorder"
	"github.com/soyeahso/chatpulse/internal/resolver"
	"github.com/soyeahso/chatpulse/internal/retry"
	"github.com/soyeahso/chatpulse/internal/stats"
	"github.com/soyeahso/chatpulse/internal/store"
)

// app is the fully wired pipeline shared by serve, stats, replay and
// status. Every command builds one and closes it on exit.
type app struct {
	cfg        config.Config
	db         *store.DB
	repos      *store.Repositories
	hooks      *hooks.Manager
	processor  *ingest.Processor
	aggregator *stats.Aggregator

	closers []io.Closer
}

// loadConfig reads, defaults and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = paths.Database
	}

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openApp opens storage and the pairing lock and wires the pipeline.
func openApp(ctx context.Context, cfg config.Config, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, hooks: hooks.NewManager(log)}

	db, err := store.Open(store.Options{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	policy := retry.Default()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.Delay = cfg.Retry.Delay
	a.repos = store.NewRepositories(db, policy, log)

	locker, err := a.openLocker(ctx, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	rec := recorder.New(a.repos.Events, cfg.Production(), log)
	res := resolver.New(a.repos, log)
	pair := pairing.New(a.repos, locker, log,
		pairing.WithHooks(a.hooks),
		pairing.WithPreviewLength(cfg.Pairing.ContentPreview),
	)
	a.processor = ingest.New(rec, res, pair, log, ingest.WithHooks(a.hooks))
	a.aggregator = stats.New(a.repos.Pending, log,
		stats.WithLookbackDays(cfg.Stats.LookbackDays),
		stats.WithThresholds(
			time.Duration(cfg.Stats.UrgentMinutes)*time.Minute,
			time.Duration(cfg.Stats.CriticalMinutes)*time.Minute,
		),
	)

	log.Debug().
		Str("driver", db.Driver()).
		Str("lock", cfg.Pairing.Lock).
		Int("retryAttempts", policy.MaxAttempts).
		Msg("pipeline ready")
	return a, nil
}

func (a *app) openLocker(ctx context.Context, log *logging.Logger) (lock.Locker, error) {
	if a.cfg.Pairing.Lock != "redis" {
		return lock.NewLocal(), nil
	}
	client, err := lock.Connect(ctx, a.cfg.Pairing.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connecting pairing lock: %w", err)
	}
	a.closers = append(a.closers, client)
	return lock.NewRedis(client, a.cfg.Pairing.LockTTL, log), nil
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
