package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/donasdosas/ledger/internal/costing"
	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/observability"
	"github.com/donasdosas/ledger/internal/platform/cache"
	"github.com/donasdosas/ledger/internal/platform/db"
	"github.com/donasdosas/ledger/internal/sales"
	"github.com/donasdosas/ledger/internal/scenario"
	"github.com/donasdosas/ledger/internal/shared"
)

// Services bundles the domain services shared by the server, worker and CLI.
type Services struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Reports  *cache.Reports
	Ledger   *ledger.Service
	Costing  *costing.Service
	Sales    *sales.Service
	Scenario *scenario.Service

	// Businesses lists every business with ledger data for the batch jobs.
	Businesses interface {
		ListBusinesses(ctx context.Context) ([]int64, error)
	}
}

// BuildServices opens the configured storage and wires the services on top of it. Redis is
// optional: when it cannot be reached reports are served uncached. The returned Services must
// be closed.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := &Services{}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
	} else {
		out.Redis = redisClient
	}
	out.Reports = cache.NewReports(out.Redis, cfg.CacheTTL)

	var ledgerMetrics ledger.Recorder
	if metrics != nil {
		ledgerMetrics = metrics.Ledger()
	}

	var (
		ledgerRepo  ledger.Repository
		costingRepo costing.Repository
		salesRepo   sales.Repository
		audit       shared.AuditRecorder
		idem        sales.IdempotencyStore
	)
	switch cfg.StorageDriver {
	case StoragePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			out.Close()
			return nil, err
		}
		out.Pool = pool
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				out.Close()
				return nil, err
			}
		}
		pgLedger := ledger.NewRepository(pool)
		ledgerRepo = pgLedger
		out.Businesses = pgLedger
		costingRepo = costing.NewRepository(pool)
		salesRepo = sales.NewRepository(pool)
		audit = shared.NewAuditLogger(pool)
		idem = shared.NewIdempotencyStore(pool)
	case StorageMemory:
		memLedger := ledger.NewMemoryRepository()
		ledgerRepo = memLedger
		out.Businesses = memLedger
		costingRepo = costing.NewMemoryRepository()
		salesRepo = sales.NewMemoryRepository()
		audit = &shared.MemoryAuditLog{}
		idem = shared.NewMemoryIdempotencyStore()
	default:
		out.Close()
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	out.Ledger = ledger.NewService(ledgerRepo, ledger.Options{
		Audit:          audit,
		Cache:          out.Reports,
		Metrics:        ledgerMetrics,
		Logger:         logger.With(slog.String("module", "ledger")),
		DriftThreshold: cfg.DriftThreshold,
	})
	out.Costing = costing.NewService(costingRepo, logger.With(slog.String("module", "costing")))
	out.Sales = sales.NewService(salesRepo, out.Costing, out.Ledger.Locks(), sales.Options{
		Idempotency: idem,
		Cache:       out.Reports,
		Audit:       audit,
		Logger:      logger.With(slog.String("module", "sales")),
	})
	out.Scenario = scenario.NewService(out.Ledger, logger.With(slog.String("module", "scenario")))
	return out, nil
}

// Checks returns a health check for each backing store in use.
func (s *Services) Checks() map[string]HealthCheck {
	checks := make(map[string]HealthCheck)
	if s == nil {
		return checks
	}
	if s.Pool != nil {
		checks["postgres"] = s.Pool.Ping
	}
	if s.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return s.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases the pool and the Redis client.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
