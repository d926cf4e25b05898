package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/metrics"
	"github.com/septivank/gps-tracking-worker/internal/repository"
	"github.com/septivank/gps-tracking-worker/internal/tracking"
	"github.com/septivank/gps-tracking-worker/internal/validator"
)

// DeviceStore runs batch transactions of device upserts
type DeviceStore interface {
	RunInTx(ctx context.Context, fn func(repository.DeviceTx) error) error
}

// LoadResult counts the outcome of a load
type LoadResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errored int `json:"errored"`
}

func (r *LoadResult) add(o LoadResult) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Errored += o.Errored
}

// Loader upserts device records in fixed-size transactional batches
type Loader struct {
	store     DeviceStore
	validator *validator.Validator
	batchSize int
	logger    *zap.Logger
}

// NewLoader creates a new loader
func NewLoader(store DeviceStore, v *validator.Validator, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Loader{
		store:     store,
		validator: v,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Load upserts every record. Invalid records and failing rows are counted as
// errored and do not affect the rest of their batch. A batch whose
// transaction fails counts all of its records as errored. Only a cancelled
// context aborts the load.
func (l *Loader) Load(ctx context.Context, records []tracking.DeviceRecord) (LoadResult, error) {
	var total LoadResult

	for start := 0; start < len(records); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		end := min(start+l.batchSize, len(records))
		batch := records[start:end]

		began := time.Now()
		result, err := l.loadBatch(ctx, batch)
		if err != nil {
			l.logger.Error("batch transaction failed",
				zap.Error(err),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
			)
			result = LoadResult{Errored: len(batch)}
		}
		metrics.RecordLoad(time.Since(began), result.Created, result.Updated, result.Errored)
		total.add(result)
	}

	l.logger.Info("load completed",
		zap.Int("records", len(records)),
		zap.Int("created", total.Created),
		zap.Int("updated", total.Updated),
		zap.Int("errored", total.Errored),
	)
	return total, nil
}

func (l *Loader) loadBatch(ctx context.Context, batch []tracking.DeviceRecord) (LoadResult, error) {
	var result LoadResult

	err := l.store.RunInTx(ctx, func(tx repository.DeviceTx) error {
		result = LoadResult{}
		for _, rec := range batch {
			row, check := l.validator.ToRow(rec)
			if !check.IsValid {
				result.Errored++
				l.logger.Warn("skipping invalid record",
					zap.String("imei", rec.IMEI),
					zap.String("reason", check.Reason),
				)
				continue
			}

			created, err := tx.UpsertDevice(ctx, row)
			if err != nil {
				result.Errored++
				l.logger.Warn("failed to upsert device",
					zap.String("imei", row.IMEI),
					zap.Error(err),
				)
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}
		return nil
	})

	return result, err
}
