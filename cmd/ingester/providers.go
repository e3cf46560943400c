package main

import (
	"context"

	"github.com/septivank/linky-feed-ingester/internal/backup"
	"github.com/septivank/linky-feed-ingester/internal/config"
	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/internal/logging"
	"github.com/septivank/linky-feed-ingester/internal/mq"
	"github.com/septivank/linky-feed-ingester/internal/notify"
	"github.com/septivank/linky-feed-ingester/internal/repository"
	"github.com/septivank/linky-feed-ingester/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

// ProvideDBPool creates the long-lived pool used by the API and backups
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a repository on the long-lived pool
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideFeedClient creates the throttled feed client
func ProvideFeedClient(cfg *config.Config, logger *zap.Logger) *feed.Client {
	return feed.NewClient(feed.ClientConfig{
		Timeout:           cfg.Feed.Timeout,
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
		MaxRetries:        cfg.Feed.MaxRetries,
		RetryBaseDelay:    cfg.Feed.RetryBaseDelay,
	}, logger)
}

// ProvideMQConnection dials RabbitMQ; it returns nil when no broker is configured
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("RABBITMQ_URL not set, notifications go to the log only")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideNotifier always logs notifications and publishes them when a broker is configured
func ProvideNotifier(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	if conn == nil {
		return notifiers, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.NotifyExchange, mq.RoutingKeys{
		Alert:    cfg.RabbitMQ.AlertRoutingKey,
		Progress: cfg.RabbitMQ.ProgressRoutingKey,
		Run:      cfg.RabbitMQ.RunRoutingKey,
	}, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(publisher.Close))

	return append(notifiers, publisher), nil
}

// ProvideStoreOpener opens a fresh pool per ingestion run, migrating it first when enabled
func ProvideStoreOpener(cfg *config.Config, logger *zap.Logger) service.StoreOpener {
	return func(ctx context.Context) (service.Store, error) {
		pool, err := db.Open(ctx, logger, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, logger, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repository.NewRepository(pool), nil
	}
}

// ProvideRunner creates the ingestion runner shared by every trigger of the process
func ProvideRunner(
	opener service.StoreOpener,
	client *feed.Client,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *service.IngestionRunner {
	return service.NewIngestionRunner(opener, client, notifier, service.RunnerConfig{
		FallbackFeedURL: cfg.Feed.DefaultURL,
		RecentWindow:    cfg.Ingest.RecentWindow,
	}, logger)
}

// ProvideBackupStore opens the backup bucket
func ProvideBackupStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*backup.Store, error) {
	store, err := backup.Open(context.Background(), cfg.Backup.BucketURL, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(store.Close))
	return store, nil
}
