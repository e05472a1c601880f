package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/dexsniper/internal/blob/s3"
	"github.com/alanyoungcy/dexsniper/internal/cache/redis"
	"github.com/alanyoungcy/dexsniper/internal/config"
	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/executor"
	"github.com/alanyoungcy/dexsniper/internal/metrics"
	"github.com/alanyoungcy/dexsniper/internal/notify"
	"github.com/alanyoungcy/dexsniper/internal/server/handler"
	"github.com/alanyoungcy/dexsniper/internal/store/memory"
	"github.com/alanyoungcy/dexsniper/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine runs on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore  domain.PositionStore
	AccountStore   domain.AccountStore
	AuditStore     domain.AuditStore
	PolicyStore    domain.PolicyStore
	BlacklistStore domain.BlacklistStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter // nil without Redis
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// Checks are reported by GET /api/health.
	Checks map[string]handler.Pinger
}

// needsS3 returns true for modes that run the archiver.
func needsS3(mode string) bool {
	return mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
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
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AccountStore = postgres.NewAccountStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.PolicyStore = postgres.NewPolicyStore(pool)
		deps.BlacklistStore = postgres.NewBlacklistStore(pool)
		deps.Checks["postgres"] = pool
	} else {
		logger.WarnContext(ctx, "wire: postgres disabled, state is kept in memory and lost on restart")
		deps.PositionStore = memory.NewPositionStore()
		deps.AccountStore = memory.NewAccountStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.PolicyStore = memory.NewPolicyStore()
		deps.BlacklistStore = memory.NewBlacklistStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		// Prices older than a few monitor ticks are not worth serving.
		deps.PriceCache = redis.NewPriceCache(redisClient, 4*cfg.Monitor.Interval.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Chain.RPCRateLimit, cfg.Chain.RPCRateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient
	} else {
		logger.WarnContext(ctx, "wire: redis disabled, using in-process cache, locks and bus")
		deps.PriceCache = memory.NewPriceCache()
		deps.LockManager = executor.NewLocalLocks()
		deps.SignalBus = memory.NewBus(0)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) && cfg.Archive.Enabled {
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
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.PositionStore,
			deps.AuditStore,
			logger,
		)
		deps.Checks["s3"] = handler.PingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
