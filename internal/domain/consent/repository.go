package consent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/R3E-Network/service_layer/internal/eventstore"
)

// EventStore is the subset of eventstore.Store the repository depends on.
type EventStore interface {
	Append(ctx context.Context, tx *sql.Tx, aggregateID string, expectedSequence int, events []eventstore.StoredEvent) error
	Load(ctx context.Context, aggregateID string, afterSequence int) ([]eventstore.StoredEvent, error)
	LatestSnapshot(ctx context.Context, aggregateID string) (*eventstore.StoredSnapshot, error)
	SaveSnapshot(ctx context.Context, snap eventstore.StoredSnapshot) error
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

// snapshotInterval events between persisted snapshots; callers may override
// via settings.SnapshotInterval (N in [50,200]).
const defaultSnapshotInterval = 100

// Repository loads and persists Consent aggregates against an EventStore,
// translating between the aggregate's typed events and the store's
// JSON-payload rows.
type Repository struct {
	store             EventStore
	snapshotInterval  int
}

// NewRepository constructs a Repository. snapshotInterval <= 0 uses the
// default of 100.
func NewRepository(store EventStore, snapshotInterval int) *Repository {
	if snapshotInterval <= 0 {
		snapshotInterval = defaultSnapshotInterval
	}
	return &Repository{store: store, snapshotInterval: snapshotInterval}
}

// Load rehydrates a Consent from its latest snapshot plus any events after
// it (§4.3 persistence contract).
func (r *Repository) Load(ctx context.Context, consentID string) (*Consent, error) {
	var snapshot *Snapshot
	after := 0

	stored, err := r.store.LatestSnapshot(ctx, consentID)
	switch {
	case err == nil:
		snap, decodeErr := decodeSnapshot(stored)
		if decodeErr != nil {
			return nil, decodeErr
		}
		snapshot = snap
		after = stored.SequenceNumber
	case errors.Is(err, eventstore.ErrNotFound):
		// no snapshot yet; replay the full event stream
	default:
		return nil, err
	}

	rows, err := r.store.Load(ctx, consentID, after)
	if err != nil {
		return nil, err
	}

	events, err := decodeEvents(rows)
	if err != nil {
		return nil, err
	}

	return Rehydrate(snapshot, events)
}

// Save appends the aggregate's pending events within a single transaction
// and, when the resulting sequence crosses a snapshot boundary, persists a
// new snapshot. It commits that transaction before returning the appended
// rows, so outbox rows written from them go in a separate transaction: the
// event append and the outbox write are not atomic.
func (r *Repository) Save(ctx context.Context, c *Consent) ([]eventstore.StoredEvent, error) {
	pending := c.PendingEvents()
	if len(pending) == 0 {
		return nil, nil
	}

	expected := c.Sequence() - len(pending)

	rows := make([]eventstore.StoredEvent, 0, len(pending))
	for _, raw := range pending {
		e := raw.(Event)
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("consent: marshal event payload: %w", err)
		}
		rows = append(rows, eventstore.StoredEvent{
			AggregateID:    e.AggregateID,
			SequenceNumber: e.SequenceNumber,
			EventType:      string(e.EventType),
			EventVersion:   e.EventVersion,
			Payload:        payload,
			OccurredAt:     e.OccurredAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
			CorrelationID:  e.CorrelationID,
			CausationID:    e.CausationID,
		})
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("consent: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := r.store.Append(ctx, tx, c.ConsentID, expected, rows); err != nil {
		return nil, err
	}

	if c.Sequence()/r.snapshotInterval > expected/r.snapshotInterval {
		snap := c.ToSnapshot()
		payload, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("consent: marshal snapshot: %w", err)
		}
		if err := r.store.SaveSnapshot(ctx, eventstore.StoredSnapshot{
			AggregateID:    c.ConsentID,
			SequenceNumber: c.Sequence(),
			Payload:        payload,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consent: commit tx: %w", err)
	}
	committed = true
	c.MarkCommitted()

	return rows, nil
}

func decodeSnapshot(stored *eventstore.StoredSnapshot) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(stored.Payload, &snap); err != nil {
		return nil, fmt.Errorf("consent: decode snapshot: %w", err)
	}
	return &snap, nil
}

func decodeEvents(rows []eventstore.StoredEvent) ([]Event, error) {
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		payload, err := decodePayload(EventType(row.EventType), row.Payload)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			AggregateID:    row.AggregateID,
			AggregateType:  "Consent",
			SequenceNumber: row.SequenceNumber,
			EventType:      EventType(row.EventType),
			EventVersion:   row.EventVersion,
			Payload:        payload,
			CorrelationID:  row.CorrelationID,
			CausationID:    row.CausationID,
		})
	}
	return events, nil
}

func decodePayload(eventType EventType, raw json.RawMessage) (any, error) {
	var target any
	switch eventType {
	case EventCreated:
		target = &CreatedPayload{}
	case EventAuthorized:
		target = &AuthorizedPayload{}
	case EventRejected:
		target = &RejectedPayload{}
	case EventUsed:
		target = &UsedPayload{}
	case EventRevoked:
		target = &RevokedPayload{}
	case EventExpired:
		target = &ExpiredPayload{}
	default:
		return nil, fmt.Errorf("consent: unknown event type %q", eventType)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("consent: decode %s payload: %w", eventType, err)
	}

	switch v := target.(type) {
	case *CreatedPayload:
		return *v, nil
	case *AuthorizedPayload:
		return *v, nil
	case *RejectedPayload:
		return *v, nil
	case *UsedPayload:
		return *v, nil
	case *RevokedPayload:
		return *v, nil
	case *ExpiredPayload:
		return *v, nil
	}
	return nil, fmt.Errorf("consent: unreachable payload decode for %s", eventType)
}
