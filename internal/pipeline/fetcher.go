package pipeline

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/septivank/gps-tracking-worker/internal/config"
	"github.com/septivank/gps-tracking-worker/internal/logging"
	"github.com/septivank/gps-tracking-worker/internal/metrics"
	"github.com/septivank/gps-tracking-worker/internal/protrack"
)

// Tracker issues one batch track request
type Tracker interface {
	Track(ctx context.Context, imeis []string, token string) (protrack.Records, error)
}

// BatchPayload is the decoded answer to one chunk
type BatchPayload struct {
	Index   int
	IMEIs   []string
	Records protrack.Records
}

// FailedBatch is a chunk whose request failed
type FailedBatch struct {
	Index int
	IMEIs []string
	Err   error
}

// MaxDetailLength bounds a failure detail in runes. Upstream error bodies
// end up in the detail and the detail ends up in every record status.
const MaxDetailLength = 160

// Detail describes the failure without the request URL, which carries the
// access token
func (b FailedBatch) Detail() string {
	if b.Err == nil {
		return ""
	}
	if errors.Is(b.Err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(b.Err, context.Canceled) {
		return "request canceled"
	}
	var uerr *url.Error
	if errors.As(b.Err, &uerr) {
		return truncate(uerr.Err.Error(), MaxDetailLength)
	}
	return truncate(b.Err.Error(), MaxDetailLength)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// FetchResult holds every chunk outcome of a fan-out, each list ordered by
// chunk index
type FetchResult struct {
	Payloads []BatchPayload
	Failed   []FailedBatch
}

// Fetcher runs the track requests of a run with bounded concurrency
type Fetcher struct {
	tracker Tracker
	cfg     config.FetchConfig
	logger  *zap.Logger
}

// NewFetcher creates a new fetcher
func NewFetcher(tracker Tracker, cfg config.FetchConfig, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}
}

type chunkOutcome struct {
	payload *BatchPayload
	failed  *FailedBatch
}

// Fetch requests every chunk and waits for all of them. A failing chunk
// never cancels its siblings; it is reported in FetchResult.Failed.
func (f *Fetcher) Fetch(ctx context.Context, chunks [][]string, token string) FetchResult {
	sessionCtx, cancel := context.WithTimeout(ctx, f.cfg.SessionTimeout)
	defer cancel()

	outcomes := make([]chunkOutcome, len(chunks))

	var g errgroup.Group
	g.SetLimit(max(f.cfg.MaxConcurrent, 1))
	for i, chunk := range chunks {
		g.Go(func() error {
			outcomes[i] = f.fetchChunk(sessionCtx, i, chunk, token)
			return nil
		})
	}
	_ = g.Wait()

	var result FetchResult
	for _, o := range outcomes {
		if o.payload != nil {
			result.Payloads = append(result.Payloads, *o.payload)
		}
		if o.failed != nil {
			result.Failed = append(result.Failed, *o.failed)
		}
	}

	f.logger.Info("fetch completed",
		zap.Int("batches", len(chunks)),
		zap.Int("succeeded", len(result.Payloads)),
		zap.Int("failed", len(result.Failed)),
	)

	return result
}

func (f *Fetcher) fetchChunk(ctx context.Context, index int, imeis []string, token string) chunkOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	logger := logging.WithBatch(f.logger, index, len(imeis))

	start := time.Now()
	records, err := f.tracker.Track(reqCtx, imeis, token)
	metrics.RecordBatch(time.Since(start), err)

	if err != nil {
		failed := FailedBatch{Index: index, IMEIs: imeis, Err: err}
		logger.Warn("batch request failed", zap.String("detail", failed.Detail()))
		return chunkOutcome{failed: &failed}
	}

	logger.Debug("batch fetched",
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return chunkOutcome{payload: &BatchPayload{Index: index, IMEIs: imeis, Records: records}}
}
