package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/davonroy/oddsmesh/internal/blob/s3"
	"github.com/davonroy/oddsmesh/internal/cache/redis"
	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
	"github.com/davonroy/oddsmesh/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	AliasStore     domain.AliasStore
	SignalStore    domain.SignalStore
	ClusterStore   domain.ClusterStore
	RejectionStore domain.RejectionStore
	EpochStore     domain.EpochStore

	// Caches
	ProjectionCache domain.ProjectionCache
	DecisionCache   domain.DecisionCache
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage
	Archiver domain.Archiver
}

// needsRedis returns true for modes that run epochs and therefore need the
// shared caches, the scan lock and the signal bus. Audit mode reads only the
// durable record.
func needsRedis(mode string) bool {
	switch mode {
	case "scan", "resolve":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode either writes or audits the durable record) ---
	pgClient, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.AliasStore = postgres.NewAliasStore(pool)
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.ClusterStore = postgres.NewClusterStore(pool)
	deps.RejectionStore = postgres.NewRejectionStore(pool)
	deps.EpochStore = postgres.NewEpochStore(pool)

	// --- Redis (epoch-running modes only) ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.ProjectionCache = redis.NewProjectionCache(redisClient, cfg.Project.CacheTTL.Duration)
		deps.DecisionCache = redis.NewDecisionCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 epoch archive (optional; audit mode replays from it) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), logger)
	}

	return deps, cleanup, nil
}
