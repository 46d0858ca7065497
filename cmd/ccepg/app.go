package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voyagen/ccepg/internal/cache"
	"github.com/voyagen/ccepg/internal/config"
	"github.com/voyagen/ccepg/internal/guide"
	"github.com/voyagen/ccepg/internal/metrics"
	"github.com/voyagen/ccepg/internal/provider"
	"github.com/voyagen/ccepg/internal/service"
	"github.com/voyagen/ccepg/internal/store"
)

// runLockTTL bounds how long a crashed process can hold the Redis run lock.
const runLockTTL = 30 * time.Minute

// app is the wired process: store, cache, pipeline and exporters.
type app struct {
	cfg      *config.Config
	store    store.Store
	rds      *cache.Redis
	settings *service.Settings
	metrics  *metrics.Collectors
	pipeline *service.Orchestrator
	runner   *service.Runner
	exporter *guide.Exporter

	closers []func()
}

func openApp(ctx context.Context, cfg *config.Config, memory bool) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	if memory {
		a.store = store.NewMemory()
		log.Warn().Msg("using in-memory store; nothing is persisted")
	} else {
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	}

	var locker service.Locker
	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		if err := rds.Ping(ctx); err != nil {
			_ = rds.Close()
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.rds = rds
		a.closers = append(a.closers, func() { _ = rds.Close() })
		a.store = store.NewCachedStore(a.store, rds)
		locker = cache.NewLocker(rds, cache.RunLockKey, runLockTTL)
		log.Info().Msg("redis connected (caching enabled)")
	} else {
		locker = service.NewFileLocker(cfg.LockFile)
		log.Info().Str("lock_file", cfg.LockFile).Msg("redis disabled (REDIS_URL not set)")
	}

	loc := cfg.Location()
	a.settings = service.NewSettings(a.store)
	a.pipeline = service.NewOrchestrator(service.OrchestratorDeps{
		Store:    a.store,
		Settings: a.settings,
		Providers: provider.Defaults(provider.Options{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
			Location:  loc,
		}),
		Metrics: a.metrics,
	})
	a.runner = service.NewRunner(a.pipeline, locker, cfg.ScheduleInterval, cfg.TokenRefreshInterval)
	a.exporter = guide.NewExporter(a.store, a.settings, loc)
	return a, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*store.Postgres, error) {
	if err := store.CheckDatabase(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := store.RunMigrations(cfg.DatabaseURL, migrationsURL(cfg.MigrationsPath)); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return pg, nil
}

// migrationsURL resolves dir against the working directory, then next to
// the executable, and returns it as a file:// source URL.
func migrationsURL(dir string) string {
	if strings.Contains(dir, "://") {
		return dir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	if _, err := os.Stat(abs); err != nil && !filepath.IsAbs(dir) {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), dir)
		}
	}
	return "file://" + abs
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
