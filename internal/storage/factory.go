package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/romanbabin/convogate/internal/config"
	"github.com/romanbabin/convogate/internal/storage/memory"
	"github.com/romanbabin/convogate/internal/storage/postgres"
	"github.com/romanbabin/convogate/internal/storage/sqlite"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// New selects and initializes the storage backend for cfg.Profile: SQLite
// for the lite profile, Postgres for the standard profile. pgPool is
// ignored (and may be nil) for the lite profile.
func New(ctx context.Context, cfg *config.Config, pgPool *pgxpool.Pool, logger *slog.Logger, m *metrics.StorageMetrics) (Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	var repo Repository
	var err error
	var backend string

	switch cfg.Profile {
	case config.ProfileLite:
		backend = "sqlite"
		repo, err = sqlite.New(ctx, cfg.Storage.FilesystemPath, logger)
	case config.ProfileStandard:
		backend = "postgres"
		repo, err = initPostgres(ctx, cfg, pgPool, logger)
	default:
		return nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: fmt.Errorf("unrecognized deployment profile")}
	}
	if err != nil {
		if m != nil {
			m.OperationsTotal.WithLabelValues("repository", "init", "error").Inc()
		}
		return nil, &ErrStorageInitFailed{Backend: backend, Profile: string(cfg.Profile), Cause: err}
	}

	if m != nil {
		m.OperationsTotal.WithLabelValues("repository", "init", "success").Inc()
		m.OperationDuration.WithLabelValues("repository", "init").Observe(time.Since(start).Seconds())
		m.BackendType.WithLabelValues(backend).Set(1)
	}
	logger.Info("storage backend initialized", "profile", cfg.Profile, "backend", backend, "duration_ms", time.Since(start).Milliseconds())
	return repo, nil
}

func initPostgres(ctx context.Context, cfg *config.Config, pgPool *pgxpool.Pool, logger *slog.Logger) (Repository, error) {
	if pgPool == nil {
		return nil, fmt.Errorf("standard profile requires a postgres pool")
	}
	if err := pgPool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres connection check failed: %w", err)
	}
	return postgres.New(pgPool, logger), nil
}

// NewFallback returns an in-memory Repository for graceful degradation when
// the configured backend fails to initialize. Data held by the fallback is
// lost on restart and is never suitable for production traffic.
func NewFallback(logger *slog.Logger, m *metrics.StorageMetrics) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("storage degraded: serving in-memory repository, data will not persist")
	if m != nil {
		m.BackendType.WithLabelValues("memory").Set(1)
	}
	return memory.New(logger)
}
