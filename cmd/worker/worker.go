package main

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/gps-tracking-worker/internal/api"
	"github.com/septivank/gps-tracking-worker/internal/artifacts"
	"github.com/septivank/gps-tracking-worker/internal/config"
	"github.com/septivank/gps-tracking-worker/internal/db"
	"github.com/septivank/gps-tracking-worker/internal/imeisource"
	"github.com/septivank/gps-tracking-worker/internal/mq"
	"github.com/septivank/gps-tracking-worker/internal/pipeline"
	"github.com/septivank/gps-tracking-worker/internal/protrack"
	"github.com/septivank/gps-tracking-worker/internal/repository"
	"github.com/septivank/gps-tracking-worker/internal/service"
	"github.com/septivank/gps-tracking-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingest *service.IngestService,
	scheduler *service.Scheduler,
	handler *api.Handler,
) error {
	api.NewServer(lc, cfg.ServicePort, api.NewRouter(handler, cfg.HTTP), logger)
	scheduler.RegisterLifecycle(lc)
	ingest.RegisterLifecycle(lc)

	if conn == nil {
		logger.Info("RabbitMQ not configured, queue triggers disabled")
		return nil
	}

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.TriggerQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.TriggerExchange,
		RoutingKey:    cfg.RabbitMQ.TriggerRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       ingest.HandleTrigger,
	})
	if err != nil {
		return err
	}
	logger.Info("starting trigger consumer",
		zap.String("queue", cfg.RabbitMQ.TriggerQueue),
		zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
	consumer.RegisterLifecycle(lc)
	return nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideHTTPClient creates the pooled upstream HTTP client
func ProvideHTTPClient(cfg *config.Config) *http.Client {
	return protrack.NewHTTPClient(cfg.Fetch.MaxConcurrent, cfg.Fetch.MaxPerHost)
}

// ProvideProTrackClient creates the upstream API client
func ProvideProTrackClient(cfg *config.Config, httpClient *http.Client, logger *zap.Logger) *protrack.Client {
	return protrack.NewClient(cfg.ProTrack, httpClient, logger)
}

// ProvideFetcher creates the concurrent batch fetcher
func ProvideFetcher(client *protrack.Client, cfg *config.Config, logger *zap.Logger) *pipeline.Fetcher {
	return pipeline.NewFetcher(client, cfg.Fetch, logger)
}

// ProvideNormalizer creates the record normalizer
func ProvideNormalizer() *pipeline.Normalizer {
	return pipeline.NewNormalizer(nil)
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideLoader creates the upsert loader
func ProvideLoader(repo *repository.Repository, v *validator.Validator, cfg *config.Config, logger *zap.Logger) *service.Loader {
	return service.NewLoader(repo, v, cfg.Load.BatchSize, logger)
}

// ProvideArtifactStore creates the run artifact store
func ProvideArtifactStore(cfg *config.Config, logger *zap.Logger) *artifacts.Store {
	return artifacts.NewStore(cfg.Artifacts.Dir, logger)
}

// ProvideMQConnection creates a RabbitMQ connection when one is configured
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the run event publisher, a no-op without RabbitMQ
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (mq.EventPublisher, error) {
	if conn == nil {
		return mq.NopPublisher{}, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingKey, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideIngestService creates the run controller
func ProvideIngestService(
	cfg *config.Config,
	client *protrack.Client,
	fetcher *pipeline.Fetcher,
	normalizer *pipeline.Normalizer,
	loader *service.Loader,
	store *artifacts.Store,
	repo *repository.Repository,
	publisher mq.EventPublisher,
	logger *zap.Logger,
) *service.IngestService {
	imeiFile := cfg.Artifacts.IMEIFile
	return service.NewIngestService(service.IngestDeps{
		IMEIs:      func() ([]string, error) { return imeisource.LoadFile(imeiFile) },
		Auth:       client,
		Fetcher:    fetcher,
		Normalizer: normalizer,
		Loader:     loader,
		Artifacts:  store,
		Devices:    repo,
		Publisher:  publisher,
		BatchSize:  cfg.Fetch.BatchSize,
		Logger:     logger,
	})
}

// ProvideScheduler creates the periodic run scheduler
func ProvideScheduler(ingest *service.IngestService, cfg *config.Config, logger *zap.Logger) *service.Scheduler {
	return service.NewScheduler(ingest, cfg.Schedule.Interval, logger)
}

// ProvideHandler creates the HTTP API handler
func ProvideHandler(repo *repository.Repository, ingest *service.IngestService, store *artifacts.Store, logger *zap.Logger) *api.Handler {
	return api.NewHandler(repo, ingest, store, logger)
}
