package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/flowbot/internal/blob/s3"
	"github.com/alanyoungcy/flowbot/internal/cache/redis"
	"github.com/alanyoungcy/flowbot/internal/config"
	"github.com/alanyoungcy/flowbot/internal/crypto"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/journal"
	"github.com/alanyoungcy/flowbot/internal/metrics"
	"github.com/alanyoungcy/flowbot/internal/notify"
	"github.com/alanyoungcy/flowbot/internal/platform/flowalpha"
	"github.com/alanyoungcy/flowbot/internal/store/postgres"
	"github.com/alanyoungcy/flowbot/internal/weights"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	OutcomeStore  domain.OutcomeStore
	SymbolStore   domain.SymbolStore
	AuditStore    domain.AuditStore

	// Caches
	Enrichment  domain.EnrichmentCache
	MarkCache   domain.MarkCache
	RegimeCache domain.RegimeCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage and archival
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Attribution and learning state
	Journal     *journal.Writer
	WeightStore domain.WeightStore
	Weights     *weights.Table

	// Intel provider
	FlowClient *flowalpha.Client
	FlowAuth   *crypto.HMACAuth

	// Observability
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.OutcomeStore = postgres.NewOutcomeStore(pool)
	deps.SymbolStore = postgres.NewSymbolStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

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

	deps.Enrichment = redis.NewEnrichmentCache(redisClient, cfg.Intel.CacheTTL.Duration)
	deps.MarkCache = redis.NewMarkCache(redisClient)
	deps.RegimeCache = redis.NewRegimeCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Journal ---
	jrnl, err := journal.NewWriter(journal.Config{
		Dir:            cfg.Journal.Dir,
		Prefix:         cfg.Journal.Prefix,
		FsyncEachWrite: cfg.Journal.FsyncEachWrite,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: journal: %w", err)
	}
	closers = append(closers, func() { _ = jrnl.Close() })
	deps.Journal = jrnl

	// --- Weight-band table ---
	switch cfg.Weights.Backend {
	case "postgres":
		deps.WeightStore = postgres.NewWeightStore(pool, logger)
	default:
		deps.WeightStore = weights.NewFileStore(cfg.Weights.FilePath, logger)
	}
	bands, err := deps.WeightStore.Load(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load weights: %w", err)
	}
	deps.Weights = weights.NewTable(bands)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = metrics.New(deps.Registry)

	// --- Intel provider ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:        cfg.FlowAlpha.ApiSecret,
		EncryptedKeyPath: cfg.FlowAlpha.EncryptedKeyPath,
		KeyPassword:      cfg.FlowAlpha.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: intel credentials: %w", err)
	}
	deps.FlowAuth = &crypto.HMACAuth{Key: cfg.FlowAlpha.ApiKey, Secret: secret}
	deps.FlowClient = flowalpha.NewClient(flowalpha.ClientConfig{
		BaseURL:         cfg.FlowAlpha.BaseURL,
		Auth:            deps.FlowAuth,
		Timeout:         cfg.FlowAlpha.Timeout.Duration,
		BreakerFailures: cfg.FlowAlpha.BreakerMaxFailures,
		BreakerTimeout:  cfg.FlowAlpha.BreakerCooldown.Duration,
	})

	// --- S3 blob storage (only when archival runs) ---
	if cfg.S3.ArchiveEnabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.OutcomeStore,
			jrnl,
			deps.AuditStore,
			logger,
		)
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
