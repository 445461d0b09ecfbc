package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/roundbet/internal/blob/s3"
	cachemem "github.com/alanyoungcy/roundbet/internal/cache/memory"
	"github.com/alanyoungcy/roundbet/internal/cache/redis"
	"github.com/alanyoungcy/roundbet/internal/config"
	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/notify"
	"github.com/alanyoungcy/roundbet/internal/server/handler"
	"github.com/alanyoungcy/roundbet/internal/store/memory"
	"github.com/alanyoungcy/roundbet/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Rounds    domain.RoundStore
	Bets      domain.BetStore
	Wallets   domain.WalletStore
	Audit     domain.AuditStore
	Directory domain.UserDirectory

	// Caches
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Totals  domain.TotalsCache
	Limiter domain.RateLimiter

	// Blob storage, nil unless the archive is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Notifications
	Notifier *notify.Notifier

	// Checks are the readiness probes of every external dependency.
	Checks map[string]handler.Check
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

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Persistence ---
	switch cfg.Storage.Driver {
	case "postgres":
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
		deps.Rounds = postgres.NewRoundStore(pool)
		deps.Bets = postgres.NewBetStore(pool)
		deps.Wallets = postgres.NewWalletStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		dir := postgres.NewDirectory(pool)
		for _, u := range cfg.Game.PremiumUsers {
			if err := dir.SetPremium(ctx, u, true); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: grant premium %s: %w", u, err)
			}
		}
		deps.Directory = dir
		deps.Checks["postgres"] = pgClient.Ping
	default:
		logger.WarnContext(ctx, "using in-memory storage; state is lost on restart")
		deps.Rounds = memory.NewRoundStore()
		deps.Bets = memory.NewBetStore()
		deps.Wallets = memory.NewWalletStore()
		deps.Audit = memory.NewAuditStore()
		deps.Directory = memory.NewDirectory(cfg.Game.PremiumUsers...)
	}

	// --- Redis, or in-process fallbacks for a single instance ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Totals = redis.NewTotalsCache(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Locks = cachemem.NewLockManager()
		deps.Bus = cachemem.NewSignalBus()
		deps.Totals = cachemem.NewTotalsCache()
		deps.Limiter = cachemem.NewRateLimiter()
	}

	// --- S3 blob storage (archive only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
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
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	if len(senders) == 0 {
		senders = append(senders, notify.NewLogSender(logger))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Options{
		Events:   cfg.Notify.Events,
		Cooldown: cfg.Notify.Cooldown.Duration,
		Prefix:   cfg.Notify.Prefix,
	}, logger)

	return deps, cleanup, nil
}
