package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/artifacts"
	"github.com/septivank/gps-tracking-worker/internal/logging"
	"github.com/septivank/gps-tracking-worker/internal/metrics"
	"github.com/septivank/gps-tracking-worker/internal/mq"
	"github.com/septivank/gps-tracking-worker/internal/pipeline"
	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

// ErrRunInProgress is returned when a run or load is triggered while another
// one holds the controller
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Authorizer obtains an upstream access token
type Authorizer interface {
	Authorize(ctx context.Context) (string, error)
}

// ArtifactStore persists and locates run artifacts
type ArtifactStore interface {
	Save(runAt time.Time, records []tracking.DeviceRecord) (*artifacts.Run, error)
	ResolvePath(p string) (string, error)
}

// DeviceMaintainer clears and counts stored devices
type DeviceMaintainer interface {
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
}

// IMEISource returns the IMEIs a run requests
type IMEISource func() ([]string, error)

// RunSummary reports a completed run
type RunSummary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Requested      int       `json:"requested"`
	Reported       int       `json:"reported"`
	BatchFailed    int       `json:"batch_failed"`
	Missing        int       `json:"missing"`
	Skipped        int       `json:"skipped"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Errored        int       `json:"errored"`
	ArtifactFolder string    `json:"folder"`
	JSONFile       string    `json:"json_file"`
	CSVFile        string    `json:"csv_file"`
}

// LoadSummary reports a load of a stored artifact
type LoadSummary struct {
	LoadResult
	Cleared      int64 `json:"cleared"`
	TotalRecords int   `json:"total_records"`
}

// IngestService is the run controller. It allows one run or artifact load
// at a time.
type IngestService struct {
	mu         sync.Mutex
	imeis      IMEISource
	auth       Authorizer
	fetcher    *pipeline.Fetcher
	normalizer *pipeline.Normalizer
	loader     *Loader
	artifacts  ArtifactStore
	devices    DeviceMaintainer
	publisher  mq.EventPublisher
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time

	// lifetime bounds every run and load; only Shutdown cancels it
	lifetime context.Context
	shutdown context.CancelFunc
}

// IngestDeps groups the collaborators of IngestService
type IngestDeps struct {
	IMEIs      IMEISource
	Auth       Authorizer
	Fetcher    *pipeline.Fetcher
	Normalizer *pipeline.Normalizer
	Loader     *Loader
	Artifacts  ArtifactStore
	Devices    DeviceMaintainer
	Publisher  mq.EventPublisher
	BatchSize  int
	Logger     *zap.Logger
}

// NewIngestService creates a new run controller
func NewIngestService(deps IngestDeps) *IngestService {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	return &IngestService{
		imeis:      deps.IMEIs,
		auth:       deps.Auth,
		fetcher:    deps.Fetcher,
		normalizer: deps.Normalizer,
		loader:     deps.Loader,
		artifacts:  deps.Artifacts,
		devices:    deps.Devices,
		publisher:  publisher,
		batchSize:  deps.BatchSize,
		logger:     deps.Logger,
		now:        time.Now,
		lifetime:   lifetime,
		shutdown:   shutdown,
	}
}

// detach keeps the values of the caller's context but ties cancellation to
// the service lifetime, so a disconnected HTTP client or an acked trigger
// cannot cut a run short
func (s *IngestService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.lifetime, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Shutdown cancels in-flight runs and loads. Records of a run that already
// reached its artifacts are still stored.
func (s *IngestService) Shutdown() {
	s.shutdown()
}

// RegisterLifecycle cancels in-flight work when the fx app stops
func (s *IngestService) RegisterLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.Shutdown()
			return nil
		},
	})
}

// Run executes one ingestion run: load the IMEI list, authorize, fetch every
// batch, reconcile, normalize, save artifacts and upsert. Batch and record
// failures are reported in the summary; only fatal failures return an error.
func (s *IngestService) Run(ctx context.Context) (*RunSummary, error) {
	if !s.mu.TryLock() {
		metrics.RecordRun("rejected", 0)
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	ctx, cancel := s.detach(ctx)
	defer cancel()

	startedAt := s.now()
	runID := uuid.NewString()
	runLogger := logging.WithRunID(s.logger, runID)
	runLogger.Info("ingestion run started")

	summary, err := s.run(ctx, runID, startedAt, runLogger)
	if err != nil {
		metrics.RecordRun("failed", time.Since(startedAt))
		runLogger.Error("ingestion run failed", zap.Error(err))
		return nil, err
	}
	metrics.RecordRun("success", time.Since(startedAt))

	// Events go out after the data is stored; a publish failure does not
	// fail the run
	event := mq.RunCompletedEvent{
		RunID:          summary.RunID,
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		Requested:      summary.Requested,
		Reported:       summary.Reported,
		BatchFailed:    summary.BatchFailed,
		Missing:        summary.Missing,
		Created:        summary.Created,
		Updated:        summary.Updated,
		Errored:        summary.Errored,
		ArtifactFolder: summary.ArtifactFolder,
	}
	err = s.publisher.PublishRunCompleted(ctx, event)
	metrics.RecordEventPublish(err)
	if err != nil {
		runLogger.Error("failed to publish run completed event", zap.Error(err))
	}

	runLogger.Info("ingestion run completed",
		zap.Int("requested", summary.Requested),
		zap.Int("reported", summary.Reported),
		zap.Int("batch_failed", summary.BatchFailed),
		zap.Int("missing", summary.Missing),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}

func (s *IngestService) run(ctx context.Context, runID string, startedAt time.Time, logger *zap.Logger) (*RunSummary, error) {
	imeis, err := s.imeis()
	if err != nil {
		return nil, fmt.Errorf("failed to load imei list: %w", err)
	}
	if len(imeis) == 0 {
		logger.Warn("imei list is empty")
	}

	token, err := s.auth.Authorize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize: %w", err)
	}

	chunks := pipeline.Partition(imeis, s.batchSize)
	logger.Info("fetching tracking data",
		zap.Int("imeis", len(imeis)),
		zap.Int("batches", len(chunks)),
	)

	fetched := s.fetcher.Fetch(ctx, chunks, token)
	reconciled := pipeline.Reconcile(imeis, fetched, logger)
	records := s.normalizer.Normalize(reconciled.Entries)
	metrics.RecordReconciled(reconciled.Reported, reconciled.BatchFailed, reconciled.Missing)

	run, err := s.artifacts.Save(startedAt, records)
	if err != nil {
		return nil, fmt.Errorf("failed to save run artifacts: %w", err)
	}

	// Artifacts are on disk from here; the store must match them even when
	// the run is being cancelled
	loaded, err := s.loader.Load(context.WithoutCancel(ctx), records)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	return &RunSummary{
		RunID:          runID,
		StartedAt:      startedAt,
		FinishedAt:     s.now(),
		Requested:      len(reconciled.Entries),
		Reported:       reconciled.Reported,
		BatchFailed:    reconciled.BatchFailed,
		Missing:        reconciled.Missing,
		Skipped:        reconciled.Skipped,
		Created:        loaded.Created,
		Updated:        loaded.Updated,
		Errored:        loaded.Errored,
		ArtifactFolder: run.Folder,
		JSONFile:       run.JSONFile,
		CSVFile:        run.CSVFile,
	}, nil
}

// LoadArtifact upserts the records of a stored JSON artifact, optionally
// deleting every stored device first
func (s *IngestService) LoadArtifact(ctx context.Context, path string, clearExisting bool) (*LoadSummary, error) {
	resolved, err := s.artifacts.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	ctx, cancel := s.detach(ctx)
	defer cancel()

	records, err := artifacts.ReadRecords(resolved)
	if err != nil {
		return nil, err
	}

	summary := &LoadSummary{}
	if clearExisting {
		summary.Cleared, err = s.devices.DeleteAll(ctx)
		if err != nil {
			return nil, err
		}
		s.logger.Info("cleared stored devices", zap.Int64("deleted", summary.Cleared))
	}

	summary.LoadResult, err = s.loader.Load(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	summary.TotalRecords, err = s.devices.Count(ctx)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// HandleTrigger runs the pipeline for a queued trigger. Any body is
// accepted; a JSON body may carry a request id for correlation.
func (s *IngestService) HandleTrigger(ctx context.Context, body []byte) error {
	var msg mq.TriggerMessage
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		if err := json.Unmarshal(body, &msg); err != nil {
			s.logger.Warn("ignoring malformed trigger body", zap.Error(err))
		}
	}

	summary, err := s.Run(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("triggered run finished",
		zap.String("request_id", msg.RequestID),
		zap.String("run_id", summary.RunID),
	)
	return nil
}
