package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/artifacts"
	"github.com/septivank/gps-tracking-worker/internal/config"
	"github.com/septivank/gps-tracking-worker/internal/pipeline"
	"github.com/septivank/gps-tracking-worker/internal/protrack"
	"github.com/septivank/gps-tracking-worker/internal/tracking"
	"github.com/septivank/gps-tracking-worker/internal/validator"
)

type fakeAuth struct {
	token string
	err   error
}

func (a fakeAuth) Authorize(ctx context.Context) (string, error) {
	return a.token, a.err
}

type scriptedTracker struct {
	failFirst string
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func (s *scriptedTracker) Track(ctx context.Context, imeis []string, token string) (protrack.Records, error) {
	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
		<-s.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if imeis[0] == s.failFirst {
		return nil, fmt.Errorf("request failed with status 502: bad gateway")
	}
	records := make(protrack.Records, 0, len(imeis))
	for _, imei := range imeis {
		records = append(records, protrack.Device{
			IMEI:       tracking.NewRawString(imei),
			Latitude:   tracking.NewRawString("11.5"),
			Longitude:  tracking.NewRawString("104.9"),
			DataStatus: tracking.NewRawNumber("2"),
			HeartTime:  tracking.NewRawNumber("1700000000"),
		})
	}
	return records, nil
}

type ingestFixture struct {
	svc       *IngestService
	store     *memoryStore
	publisher *recordingPublisher
	artifacts *artifacts.Store
}

func newIngestFixture(t *testing.T, auth Authorizer, tracker pipeline.Tracker) *ingestFixture {
	t.Helper()
	logger := zap.NewNop()
	store := newMemoryStore()
	publisher := &recordingPublisher{}
	artifactStore := artifacts.NewStore(t.TempDir(), logger)

	fetcher := pipeline.NewFetcher(tracker, config.FetchConfig{
		BatchSize:      2,
		MaxConcurrent:  2,
		MaxPerHost:     2,
		RequestTimeout: time.Second,
		SessionTimeout: 5 * time.Second,
	}, logger)

	svc := NewIngestService(IngestDeps{
		IMEIs:      func() ([]string, error) { return []string{"a", "b", "c", "d", "e", "f"}, nil },
		Auth:       auth,
		Fetcher:    fetcher,
		Normalizer: pipeline.NewNormalizer(func() time.Time { return time.Unix(1700003600, 0) }),
		Loader:     NewLoader(store, validator.NewValidator(), 100, logger),
		Artifacts:  artifactStore,
		Devices:    store,
		Publisher:  publisher,
		BatchSize:  2,
		Logger:     logger,
	})

	return &ingestFixture{svc: svc, store: store, publisher: publisher, artifacts: artifactStore}
}

func TestIngest_RunWithFailedBatch(t *testing.T) {
	f := newIngestFixture(t, fakeAuth{token: "tok"}, &scriptedTracker{failFirst: "c"})

	summary, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Requested != 6 || summary.Reported != 4 || summary.BatchFailed != 2 || summary.Missing != 0 {
		t.Errorf("Unexpected reconcile counts %+v", summary)
	}
	if summary.Created != 6 || summary.Errored != 0 {
		t.Errorf("Unexpected load counts %+v", summary)
	}
	if summary.RunID == "" {
		t.Error("Expected run id")
	}

	records, err := artifacts.ReadRecords(summary.JSONFile)
	if err != nil {
		t.Fatalf("Failed to read artifact: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("Expected 6 records in artifact, got %d", len(records))
	}
	if records[2].Status != "API error: request failed with status 502: bad gateway" {
		t.Errorf("Unexpected failed status %q", records[2].Status)
	}
	if _, err := os.Stat(summary.CSVFile); err != nil {
		t.Errorf("Expected csv artifact: %v", err)
	}

	if len(f.publisher.events) != 1 || f.publisher.events[0].RunID != summary.RunID {
		t.Errorf("Expected one run completed event, got %+v", f.publisher.events)
	}
}

func TestIngest_AuthorizationFailureIsFatal(t *testing.T) {
	authErr := fmt.Errorf("%w: code 10001", protrack.ErrAuthorization)
	f := newIngestFixture(t, fakeAuth{err: authErr}, &scriptedTracker{})

	summary, err := f.svc.Run(context.Background())
	if !errors.Is(err, protrack.ErrAuthorization) {
		t.Fatalf("Expected ErrAuthorization, got %v", err)
	}
	if summary != nil {
		t.Errorf("Expected no summary, got %+v", summary)
	}

	runs, _ := f.artifacts.Recent(artifacts.RecentLimit)
	if len(runs) != 0 {
		t.Errorf("Expected no artifacts, got %d", len(runs))
	}
	if len(f.publisher.events) != 0 {
		t.Error("Expected no event for a failed run")
	}
}

func TestIngest_IMEISourceFailureIsFatal(t *testing.T) {
	f := newIngestFixture(t, fakeAuth{token: "tok"}, &scriptedTracker{})
	f.svc.imeis = func() ([]string, error) { return nil, os.ErrNotExist }

	if _, err := f.svc.Run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestIngest_SecondRunRejectedWhileInProgress(t *testing.T) {
	tracker := &scriptedTracker{entered: make(chan struct{}), release: make(chan struct{})}
	f := newIngestFixture(t, fakeAuth{token: "tok"}, tracker)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Run(context.Background())
		done <- err
	}()

	<-tracker.entered
	if _, err := f.svc.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	if err := f.svc.HandleTrigger(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Expected trigger to be rejected, got %v", err)
	}
	close(tracker.release)

	if err := <-done; err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if _, err := f.svc.Run(context.Background()); err != nil {
		t.Errorf("Expected a new run to start after the first finished, got %v", err)
	}
}

func TestIngest_PublishFailureDoesNotFailRun(t *testing.T) {
	f := newIngestFixture(t, fakeAuth{token: "tok"}, &scriptedTracker{})
	f.publisher.err = errors.New("channel closed")

	if _, err := f.svc.Run(context.Background()); err != nil {
		t.Errorf("Expected run to succeed, got %v", err)
	}
}

func TestIngest_LoadArtifact(t *testing.T) {
	f := newIngestFixture(t, fakeAuth{token: "tok"}, &scriptedTracker{})

	summary, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	loaded, err := f.svc.LoadArtifact(context.Background(), summary.JSONFile, false)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if loaded.Created != 0 || loaded.Updated != 6 || loaded.TotalRecords != 6 {
		t.Errorf("Unexpected load summary %+v", loaded)
	}

	loaded, err = f.svc.LoadArtifact(context.Background(), summary.JSONFile, true)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if loaded.Cleared != 6 || loaded.Created != 6 || loaded.TotalRecords != 6 {
		t.Errorf("Unexpected load summary after clear %+v", loaded)
	}

	if _, err := f.svc.LoadArtifact(context.Background(), "/etc/passwd.json", false); !errors.Is(err, artifacts.ErrInvalidArtifactPath) {
		t.Errorf("Expected ErrInvalidArtifactPath, got %v", err)
	}
}

func TestIngest_HandleTriggerAcceptsAnyBody(t *testing.T) {
	f := newIngestFixture(t, fakeAuth{token: "tok"}, &scriptedTracker{})

	for _, body := range [][]byte{nil, []byte(`{"request_id":"abc"}`), []byte(`not json`)} {
		if err := f.svc.HandleTrigger(context.Background(), body); err != nil {
			t.Errorf("HandleTrigger(%q) failed: %v", body, err)
		}
	}
}

func TestIngest_CallerCancellationDoesNotAbortRun(t *testing.T) {
	tracker := &scriptedTracker{entered: make(chan struct{}), release: make(chan struct{})}
	f := newIngestFixture(t, fakeAuth{token: "tok"}, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		summary *RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := f.svc.Run(ctx)
		done <- result{summary, err}
	}()

	<-tracker.entered
	cancel()
	close(tracker.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("Expected run to complete after caller cancellation, got %v", res.err)
	}
	if res.summary.Reported != 6 || res.summary.BatchFailed != 0 {
		t.Errorf("Expected every batch reported, got %+v", res.summary)
	}
	if res.summary.Created != 6 {
		t.Errorf("Expected 6 stored devices, got %+v", res.summary)
	}
	if n, _ := f.store.Count(context.Background()); n != 6 {
		t.Errorf("Expected 6 rows stored, got %d", n)
	}
}

func TestIngest_ShutdownCancelsFetchButStoresArtifacts(t *testing.T) {
	tracker := &scriptedTracker{entered: make(chan struct{}), release: make(chan struct{})}
	f := newIngestFixture(t, fakeAuth{token: "tok"}, tracker)

	done := make(chan *RunSummary, 1)
	go func() {
		summary, err := f.svc.Run(context.Background())
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
		done <- summary
	}()

	<-tracker.entered
	f.svc.Shutdown()
	close(tracker.release)

	summary := <-done
	if summary == nil {
		t.Fatal("Expected a summary")
	}
	if summary.BatchFailed != 6 {
		t.Errorf("Expected every batch failed after shutdown, got %+v", summary)
	}

	records, err := artifacts.ReadRecords(summary.JSONFile)
	if err != nil {
		t.Fatalf("Failed to read artifact: %v", err)
	}
	if n, _ := f.store.Count(context.Background()); n != len(records) {
		t.Errorf("Expected stored rows to match %d artifact records, got %d", len(records), n)
	}
}
