package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/tradekit/snipebot/internal/blob/s3"
	"github.com/tradekit/snipebot/internal/cache/redis"
	"github.com/tradekit/snipebot/internal/config"
	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/notify"
	"github.com/tradekit/snipebot/internal/platform/dexscan"
	"github.com/tradekit/snipebot/internal/resilience"
	"github.com/tradekit/snipebot/internal/store/postgres"
)

// errorCapacity bounds the error handler's active list.
const errorCapacity = 100

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	ErrorStore    domain.ErrorStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Resilience and fault handling
	Breakers *resilience.Registry
	Faults   *faults.Handler

	// Pool indexer
	Dexscan *dexscan.Client

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.ErrorStore = postgres.NewErrorStore(pool)

	// --- Redis ---
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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
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
	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, logger)

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

	// --- Fault handling ---
	deps.Faults = faults.NewHandler(nil, errorCapacity, logger)
	alertHook := deps.Notifier.FaultHook(ctx)
	errorStore := deps.ErrorStore
	deps.Faults.SetNotify(func(e faults.EnrichedError) {
		rec := domain.CapturedError{
			ID:          e.ID,
			Component:   e.Context.Component,
			Operation:   e.Context.Operation,
			Message:     e.Message(),
			Severity:    string(e.Severity),
			Recoverable: e.Recoverable,
			Tags:        e.Tags,
			OccurredAt:  e.Timestamp,
		}
		if err := errorStore.Insert(ctx, rec); err != nil {
			logger.Warn("captured error not persisted",
				slog.String("component", rec.Component),
				slog.String("error", err.Error()),
			)
		}
		alertHook(e)
	})

	// --- Circuit breakers ---
	deps.Breakers = resilience.NewRegistry(logger)
	trading := deps.Breakers.GetOrCreate("trading", resilience.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout.Duration,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod.Duration,
	})
	trading.OnStateChange(deps.Notifier.BreakerHook(ctx))

	// --- Pool indexer ---
	deps.Dexscan = dexscan.NewClient(cfg.Dexscan.GraphqlURL, cfg.Dexscan.ApiKey)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("mode", strings.ToLower(cfg.Mode)),
		slog.Int("notify_senders", len(senders)),
	)

	return deps, cleanup, nil
}
