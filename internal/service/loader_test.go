package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/tracking"
	"github.com/septivank/gps-tracking-worker/internal/validator"
)

func makeRecords(n int) []tracking.DeviceRecord {
	records := make([]tracking.DeviceRecord, n)
	for i := range records {
		status := 2
		records[i] = tracking.DeviceRecord{
			IMEI:                  fmt.Sprintf("86%013d", i),
			Latitude:              11.5,
			Longitude:             104.9,
			Coordinates:           "11.5,104.9",
			DataStatus:            &status,
			DataStatusDescription: "Online",
			HeartTimeUnix:         tracking.EpochSeconds(1700000000),
			Status:                tracking.StatusSuccess,
		}
	}
	return records
}

func TestLoader_IdempotentUpsert(t *testing.T) {
	store := newMemoryStore()
	loader := NewLoader(store, validator.NewValidator(), 100, zap.NewNop())
	records := makeRecords(250)

	first, err := loader.Load(context.Background(), records)
	if err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	if first.Created != 250 || first.Updated != 0 || first.Errored != 0 {
		t.Errorf("First load: unexpected result %+v", first)
	}

	second, err := loader.Load(context.Background(), records)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if second.Created != 0 || second.Updated != 250 || second.Errored != 0 {
		t.Errorf("Second load: unexpected result %+v", second)
	}

	if n, _ := store.Count(context.Background()); n != 250 {
		t.Errorf("Expected 250 rows, got %d", n)
	}
	if store.txCount != 6 {
		t.Errorf("Expected 3 transactions per load, got %d total", store.txCount)
	}
}

func TestLoader_RecordErrorsAreIsolated(t *testing.T) {
	store := newMemoryStore()
	records := makeRecords(5)
	records[1].IMEI = ""
	records[3].HeartTimeUnix = tracking.NewEpoch("not-a-time")
	store.failIMEI = records[4].IMEI

	loader := NewLoader(store, validator.NewValidator(), 10, zap.NewNop())
	result, err := loader.Load(context.Background(), records)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if result.Created != 2 || result.Errored != 3 {
		t.Errorf("Unexpected result %+v", result)
	}
	if n, _ := store.Count(context.Background()); n != 2 {
		t.Errorf("Expected 2 rows stored, got %d", n)
	}
}

func TestLoader_CommitFailureCountsBatchAsErrored(t *testing.T) {
	store := newMemoryStore()
	store.commitErr = errors.New("connection reset")

	loader := NewLoader(store, validator.NewValidator(), 2, zap.NewNop())
	result, err := loader.Load(context.Background(), makeRecords(5))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if result.Created != 0 || result.Updated != 0 || result.Errored != 5 {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestLoader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := NewLoader(newMemoryStore(), validator.NewValidator(), 2, zap.NewNop())
	if _, err := loader.Load(ctx, makeRecords(3)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
