package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/gps-tracking-worker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
)

func main() {
	if path, ok := loadEnv(); ok {
		fmt.Printf("Loaded environment from: %s\n", path)
	} else {
		fmt.Println("No .env file found, using process environment")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideHTTPClient,
			ProvideProTrackClient,
			ProvideFetcher,
			ProvideNormalizer,
			ProvideValidator,
			ProvideLoader,
			ProvideArtifactStore,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideIngestService,
			ProvideScheduler,
			ProvideHandler,
		),
		fx.Invoke(startWorker),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bootLogger, _ := newLogger(&config.Config{ServiceName: "gps-tracking-worker"})
	bootLogger.Info("starting gps tracking worker", zap.Duration("start_timeout", startTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			bootLogger.Error("worker did not start in time; check database, RabbitMQ and SERVICE_PORT availability",
				zap.Duration("start_timeout", startTimeout))
		}
		panic(err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

// loadEnv loads the first .env found in the working directory or one of its
// two parents. Deployments without a file use the process environment.
func loadEnv() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}

	for i := 0; i < 3; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			if err := godotenv.Load(candidate); err == nil {
				return candidate, true
			}
		}
		dir = filepath.Dir(dir)
	}
	return "", false
}
