package main

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/service_layer/internal/saga"
	"github.com/R3E-Network/service_layer/internal/usecase/bulkpayments"
	"github.com/R3E-Network/service_layer/internal/usecase/fx"
)

// In-memory Repository adapters for the use-case services and saga
// orchestrator, in the same spirit as internal/projector.MemoryStore: the
// package doc there sanctions an in-memory store as "sufficient for tests
// and single-process deployments," and these demo routes never reach a
// point where durability across restarts matters. A production deployment
// swaps these for Postgres-backed repositories following the explicit-SQL
// style of internal/eventstore and internal/secretstore.PostgresRepository.

type memoryBulkRepository struct {
	mu    sync.Mutex
	files map[string]*bulkpayments.BulkFile
}

func newMemoryBulkRepository() *memoryBulkRepository {
	return &memoryBulkRepository{files: make(map[string]*bulkpayments.BulkFile)}
}

func (r *memoryBulkRepository) Save(ctx context.Context, file *bulkpayments.BulkFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *file
	r.files[file.FileID] = &cp
	return nil
}

func (r *memoryBulkRepository) Get(ctx context.Context, fileID string) (*bulkpayments.BulkFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[fileID], nil
}

type memoryFXRepository struct {
	mu     sync.Mutex
	quotes map[string]*fx.Quote
	deals  map[string]*fx.Deal
}

func newMemoryFXRepository() *memoryFXRepository {
	return &memoryFXRepository{quotes: make(map[string]*fx.Quote), deals: make(map[string]*fx.Deal)}
}

func (r *memoryFXRepository) SaveQuote(ctx context.Context, q *fx.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *q
	r.quotes[q.QuoteID] = &cp
	return nil
}

func (r *memoryFXRepository) GetQuote(ctx context.Context, quoteID string) (*fx.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quotes[quoteID], nil
}

func (r *memoryFXRepository) SaveDeal(ctx context.Context, d *fx.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deals[d.DealID] = &cp
	return nil
}

type memorySagaRepository struct {
	mu    sync.Mutex
	sagas map[string]*saga.State
}

func newMemorySagaRepository() *memorySagaRepository {
	return &memorySagaRepository{sagas: make(map[string]*saga.State)}
}

func (r *memorySagaRepository) Save(ctx context.Context, s *saga.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sagas[s.SagaID] = &cp
	return nil
}

func (r *memorySagaRepository) Get(ctx context.Context, sagaID string) (*saga.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sagas[sagaID], nil
}

func (r *memorySagaRepository) ListTimedOut(ctx context.Context, now time.Time) ([]*saga.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*saga.State
	for _, s := range r.sagas {
		if s.Status == saga.StatusInProgress && !now.Before(s.TimeoutAt) {
			out = append(out, s)
		}
	}
	return out, nil
}
