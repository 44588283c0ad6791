// Package projector implements the Read-Model Projector (C6): consumes
// domain events from the outbox dispatcher's bus and maintains query views
// (active consent lookup, usage analytics) that cross-aggregate queries go
// through, never the aggregates' object graphs (§9 "cyclic relations"
// design note).
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/R3E-Network/service_layer/internal/domain/consent"
	"github.com/R3E-Network/service_layer/internal/outbox"
)

// ConsentView is a denormalized read-model row for a single consent.
type ConsentView struct {
	ConsentID     string
	CustomerID    string
	ParticipantID string
	Status        string
	Scopes        []string
	UsageCount    int
	LastUsedAt    string
}

// Store persists read-model views. The in-memory implementation below is
// sufficient for tests and single-process deployments; a Postgres-backed
// implementation would satisfy the same interface in the composition root.
type Store interface {
	Upsert(view ConsentView)
	Get(consentID string) (ConsentView, bool)
	ListByParticipant(participantID string) []ConsentView
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	views map[string]ConsentView
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: make(map[string]ConsentView)}
}

func (m *MemoryStore) Upsert(view ConsentView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[view.ConsentID] = view
}

func (m *MemoryStore) Get(consentID string) (ConsentView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[consentID]
	return v, ok
}

func (m *MemoryStore) ListByParticipant(participantID string) []ConsentView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConsentView
	for _, v := range m.views {
		if v.ParticipantID == participantID {
			out = append(out, v)
		}
	}
	return out
}

// Projector applies consent domain events onto a Store. Cross-aggregate
// ordering is not guaranteed (§5); the projector is written to be
// idempotent per (aggregateId, sequenceNumber), tolerating redelivery from
// the outbox dispatcher.
type Projector struct {
	store Store
	seen  map[string]int // aggregateID -> highest applied sequence
	mu    sync.Mutex
}

// New constructs a Projector writing into store.
func New(store Store) *Projector {
	return &Projector{store: store, seen: make(map[string]int)}
}

// Apply consumes a single envelope published by the outbox dispatcher.
func (p *Projector) Apply(_ context.Context, env outbox.Envelope) error {
	p.mu.Lock()
	if env.SequenceNumber <= p.seen[env.AggregateID] {
		p.mu.Unlock()
		return nil // already applied; redelivery is a no-op
	}
	p.seen[env.AggregateID] = env.SequenceNumber
	p.mu.Unlock()

	view, ok := p.store.Get(env.AggregateID)
	if !ok {
		view = ConsentView{ConsentID: env.AggregateID}
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("projector: remarshal payload: %w", err)
	}

	switch consent.EventType(env.EventType) {
	case consent.EventCreated:
		var created consent.CreatedPayload
		if err := json.Unmarshal(payload, &created); err != nil {
			return fmt.Errorf("projector: decode ConsentCreated: %w", err)
		}
		view.CustomerID = created.CustomerID
		view.ParticipantID = created.ParticipantID
		view.Scopes = created.Scopes
		view.Status = "PENDING"
	case consent.EventAuthorized:
		view.Status = "AUTHORIZED"
	case consent.EventRejected:
		view.Status = "REJECTED"
	case consent.EventUsed:
		var used consent.UsedPayload
		if err := json.Unmarshal(payload, &used); err != nil {
			return fmt.Errorf("projector: decode ConsentUsed: %w", err)
		}
		view.UsageCount++
		view.LastUsedAt = used.AccessedAt.Format("2006-01-02T15:04:05Z07:00")
	case consent.EventRevoked:
		view.Status = "REVOKED"
	case consent.EventExpired:
		view.Status = "EXPIRED"
	default:
		return fmt.Errorf("projector: unknown event type %q", env.EventType)
	}

	p.store.Upsert(view)
	return nil
}
