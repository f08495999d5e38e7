// Package app assembles the ledger from configuration. Both the HTTP server and
// creditctl build through here so they see the same store, directory and
// event wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"credits/internal/credit/events"
	creditmetrics "credits/internal/credit/metrics"
	"credits/internal/credit/models"
	"credits/internal/credit/ports"
	"credits/internal/credit/service"
	"credits/internal/credit/store"
	"credits/internal/credit/userdir"
	"credits/internal/credit/worker"
	"credits/internal/platform/config"
	"credits/internal/platform/kafka"
	"credits/internal/platform/postgres"
	"credits/internal/platform/redis"
)

// App holds the assembled ledger and the connections it owns.
type App struct {
	Service *service.Service
	Worker  *worker.Worker

	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

// Build connects to every configured backend and assembles the service.
// Backends left unconfigured fall back to in-process implementations.
// reg may be nil, in which case no metrics are registered.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	ledgerStore, err := a.openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	a.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	directory, err := a.userDirectory(cfg.UserDirectory, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := a.publisher(ctx, cfg.Kafka, logger, reg)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithEventPublisher(publisher),
		service.WithSubscriptionFallbackDays(cfg.Credits.DefaultSubscriptionDays),
		service.WithExpirationBatchSize(cfg.Credits.ExpirationBatchSize),
	}
	if reg != nil {
		opts = append(opts, service.WithMetrics(creditmetrics.New(reg)))
	}
	if directory != nil {
		opts = append(opts,
			service.WithUserDirectory(directory),
			service.WithEligibilityChecker(service.NewRuleEligibility(directory)),
		)
	}
	a.Service, err = service.New(ledgerStore, opts...)
	if err != nil {
		return nil, err
	}

	workerOpts := []worker.Option{
		worker.WithInterval(cfg.Credits.ExpirationInterval.Duration),
		worker.WithWarningDays(cfg.Credits.ExpiringSoonDays),
		worker.WithLogger(logger),
	}
	if a.redis != nil {
		locker, err := redis.NewLocker(a.redis.Client, redis.WithLockTTL(cfg.Credits.LockTTL.Duration))
		if err != nil {
			return nil, err
		}
		workerOpts = append(workerOpts, worker.WithLocker(locker))
	}
	a.Worker, err = worker.New(a.Service, workerOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (ports.Store, error) {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		logger.WarnContext(ctx, "DATABASE_URL not set, ledger is kept in memory")
		return store.NewInMemory(), nil
	}
	a.db = db
	if cfg.AutoMigrate {
		if err := postgres.Migrate(db, store.Migrations, store.MigrationsDir); err != nil {
			return nil, err
		}
	}
	return store.NewPostgres(db), nil
}

func (a *App) userDirectory(cfg config.UserDirectoryConfig, logger *slog.Logger) (ports.UserDirectory, error) {
	if cfg.BaseURL == "" {
		return nil, nil
	}
	client, err := userdir.NewClient(cfg.BaseURL, cfg.Timeout.Duration, userdir.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if a.redis == nil {
		return client, nil
	}
	return userdir.NewCachedDirectory(client, a.redis.Client, cfg.CacheTTL.Duration, logger)
}

func (a *App) publisher(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger, reg prometheus.Registerer) (ports.EventPublisher, error) {
	client, err := kafka.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return events.NewLogPublisher(logger), nil
	}
	a.kafka = client

	if cfg.CreateTopics {
		if err := events.EnsureTopics(ctx, kafka.Admin(client), cfg.TopicPrefix, cfg.Partitions, cfg.ReplicationFactor, models.AllTopics...); err != nil {
			return nil, fmt.Errorf("ensure topics: %w", err)
		}
	}
	opts := []events.Option{
		events.WithTopicPrefix(cfg.TopicPrefix),
		events.WithPublishTimeout(cfg.PublishTimeout.Duration),
		events.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, events.WithMetrics(events.NewMetrics(reg)))
	}
	return events.NewKafkaPublisher(client, opts...)
}

// Health pings every owned backend.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.kafka != nil {
		if err := a.kafka.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every owned connection.
func (a *App) Close() error {
	var errs []error
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
