// Command trackctl runs one-shot maintenance tasks against the device store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/artifacts"
	"github.com/septivank/gps-tracking-worker/internal/config"
	"github.com/septivank/gps-tracking-worker/internal/db"
	"github.com/septivank/gps-tracking-worker/internal/imeisource"
	"github.com/septivank/gps-tracking-worker/internal/logging"
	"github.com/septivank/gps-tracking-worker/internal/mq"
	"github.com/septivank/gps-tracking-worker/internal/pipeline"
	"github.com/septivank/gps-tracking-worker/internal/protrack"
	"github.com/septivank/gps-tracking-worker/internal/repository"
	"github.com/septivank/gps-tracking-worker/internal/service"
	"github.com/septivank/gps-tracking-worker/internal/validator"
)

const usage = `usage: trackctl <command> [flags]

commands:
  fetch                    run one ingestion pass now
  load [-clear] <file>     upsert a stored all_records.json artifact
  clear                    delete every stored device
  reset-ranking            delete every stored device and restart ranking ids at 1
  trigger [-request-id id] ask a running worker to start a run over RabbitMQ
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := godotenv.Load(); err == nil {
		fmt.Println("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.ServiceName + "-ctl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, cmd string, args []string) error {
	switch cmd {
	case "trigger":
		return runTrigger(ctx, cfg, logger, args)
	case "fetch", "load", "clear", "reset-ranking":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	pool, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	switch cmd {
	case "fetch":
		summary, err := newIngestService(cfg, pool, logger).Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("fetch finished",
			zap.String("run_id", summary.RunID),
			zap.String("json_file", summary.JSONFile),
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Int("errored", summary.Errored),
		)
	case "load":
		fs := flag.NewFlagSet("load", flag.ExitOnError)
		clearExisting := fs.Bool("clear", false, "delete every stored device before loading")
		fs.Parse(args)
		if fs.NArg() != 1 {
			return fmt.Errorf("load expects exactly one artifact path")
		}
		summary, err := newIngestService(cfg, pool, logger).LoadArtifact(ctx, fs.Arg(0), *clearExisting)
		if err != nil {
			return err
		}
		logger.Info("load finished",
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Int("errored", summary.Errored),
			zap.Int64("cleared", summary.Cleared),
			zap.Int("total_records", summary.TotalRecords),
		)
	case "clear":
		deleted, err := repo.DeleteAll(ctx)
		if err != nil {
			return err
		}
		logger.Info("cleared stored devices", zap.Int64("deleted", deleted))
	case "reset-ranking":
		if err := repo.ResetRanking(ctx); err != nil {
			return err
		}
		logger.Info("device table truncated and ranking restarted")
	}
	return nil
}

func newIngestService(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) *service.IngestService {
	repo := repository.NewRepository(pool)
	client := protrack.NewClient(cfg.ProTrack, protrack.NewHTTPClient(cfg.Fetch.MaxConcurrent, cfg.Fetch.MaxPerHost), logger)
	imeiFile := cfg.Artifacts.IMEIFile

	return service.NewIngestService(service.IngestDeps{
		IMEIs:      func() ([]string, error) { return imeisource.LoadFile(imeiFile) },
		Auth:       client,
		Fetcher:    pipeline.NewFetcher(client, cfg.Fetch, logger),
		Normalizer: pipeline.NewNormalizer(nil),
		Loader:     service.NewLoader(repo, validator.NewValidator(), cfg.Load.BatchSize, logger),
		Artifacts:  artifacts.NewStore(cfg.Artifacts.Dir, logger),
		Devices:    repo,
		BatchSize:  cfg.Fetch.BatchSize,
		Logger:     logger,
	})
}

func runTrigger(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	requestID := fs.String("request-id", uuid.NewString(), "correlation id carried by the trigger")
	fs.Parse(args)

	if !cfg.RabbitMQ.Enabled() {
		return fmt.Errorf("RABBITMQ_URL is not set")
	}

	conn, err := mq.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer conn.Close(logger)

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.TriggerExchange, cfg.RabbitMQ.TriggerRoutingKey, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	return publisher.PublishTrigger(ctx, mq.TriggerMessage{
		RequestID:   *requestID,
		RequestedAt: time.Now().UTC(),
	})
}
