package service

import (
	"context"
	"errors"
	"sync"

	"github.com/septivank/gps-tracking-worker/internal/db"
	"github.com/septivank/gps-tracking-worker/internal/mq"
	"github.com/septivank/gps-tracking-worker/internal/repository"
)

// memoryStore is an in-memory DeviceStore and DeviceMaintainer. A batch is
// applied only when fn returns nil and commitErr is unset.
type memoryStore struct {
	mu        sync.Mutex
	rows      map[string]db.DeviceRow
	txCount   int
	failIMEI  string
	commitErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]db.DeviceRow)}
}

type memoryTx struct {
	store   *memoryStore
	pending map[string]db.DeviceRow
}

func (t *memoryTx) UpsertDevice(ctx context.Context, row *db.DeviceRow) (bool, error) {
	if row.IMEI == t.store.failIMEI {
		return false, errors.New("constraint violation")
	}
	_, inStore := t.store.rows[row.IMEI]
	_, inTx := t.pending[row.IMEI]
	t.pending[row.IMEI] = *row
	return !inStore && !inTx, nil
}

func (s *memoryStore) RunInTx(ctx context.Context, fn func(repository.DeviceTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	tx := &memoryTx{store: s, pending: make(map[string]db.DeviceRow)}
	if err := fn(tx); err != nil {
		return err
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	for imei, row := range tx.pending {
		s.rows[imei] = row
	}
	return nil
}

func (s *memoryStore) DeleteAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rows))
	s.rows = make(map[string]db.DeviceRow)
	return n, nil
}

func (s *memoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.RunCompletedEvent
	err    error
}

func (p *recordingPublisher) PublishRunCompleted(ctx context.Context, event mq.RunCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}
