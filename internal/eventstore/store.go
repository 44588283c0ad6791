// Package eventstore implements the Event Store (C5): an append-only
// per-aggregate event log with optimistic version control and periodic
// snapshots, backed directly by PostgreSQL via database/sql and
// github.com/lib/pq. The query-construction style (explicit SQL per
// operation, sentinel errors wrapped with fmt.Errorf) follows the teacher's
// infrastructure/database.Repository, with the Supabase REST layer replaced
// by direct SQL since this core talks to Postgres directly (see DESIGN.md).
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// ErrNotFound indicates no events exist for the given aggregate.
var ErrNotFound = errors.New("eventstore: aggregate not found")

// StoredEvent is the row shape of the events(...) table (§6.4).
type StoredEvent struct {
	AggregateID    string
	SequenceNumber int
	EventType      string
	EventVersion   int
	Payload        json.RawMessage
	Metadata       json.RawMessage
	OccurredAt     string
	CorrelationID  string
	CausationID    string
}

// StoredSnapshot is the row shape of the snapshots(...) table.
type StoredSnapshot struct {
	AggregateID    string
	SequenceNumber int
	Payload        json.RawMessage
	CreatedAt      string
}

// Store is a Postgres-backed implementation of the append-only event log.
type Store struct {
	db *sql.DB
}

// New constructs a Store over an already-opened *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes events for aggregateID within tx, enforcing the optimistic
// concurrency check: expectedSequence must equal the last persisted
// sequence number for the aggregate (§4.3). A violation returns a
// CONCURRENCY ServiceError; the caller is expected to re-read and retry.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, aggregateID string, expectedSequence int, events []StoredEvent) error {
	var current int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("eventstore: read current sequence: %w", err)
	}
	if current != expectedSequence {
		return platformerrors.Concurrency(fmt.Sprintf("expected sequence %d but aggregate is at %d", expectedSequence, current))
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("events",
		"aggregate_id", "sequence_number", "event_type", "event_version",
		"payload", "metadata", "occurred_at", "correlation_id", "causation_id"))
	if err != nil {
		return fmt.Errorf("eventstore: prepare copy-in: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.AggregateID, e.SequenceNumber, e.EventType, e.EventVersion,
			string(e.Payload), string(e.Metadata), e.OccurredAt, e.CorrelationID, e.CausationID); err != nil {
			return fmt.Errorf("eventstore: append event seq=%d: %w", e.SequenceNumber, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("eventstore: flush copy-in: %w", err)
	}

	return nil
}

// Load returns events for aggregateID with sequence_number > afterSequence,
// ordered ascending (§4.3 persistence contract: snapshot + tail of events).
func (s *Store) Load(ctx context.Context, aggregateID string, afterSequence int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, sequence_number, event_type, event_version, payload, metadata, occurred_at, correlation_id, causation_id
		 FROM events WHERE aggregate_id = $1 AND sequence_number > $2 ORDER BY sequence_number ASC`,
		aggregateID, afterSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("eventstore: load events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.AggregateID, &e.SequenceNumber, &e.EventType, &e.EventVersion,
			&e.Payload, &e.Metadata, &e.OccurredAt, &e.CorrelationID, &e.CausationID); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSnapshot returns the most recent snapshot for aggregateID, or
// ErrNotFound if none exists.
func (s *Store) LatestSnapshot(ctx context.Context, aggregateID string) (*StoredSnapshot, error) {
	var snap StoredSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate_id, sequence_number, payload, created_at FROM snapshots
		 WHERE aggregate_id = $1 ORDER BY sequence_number DESC LIMIT 1`,
		aggregateID,
	).Scan(&snap.AggregateID, &snap.SequenceNumber, &snap.Payload, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eventstore: load snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot persists a new snapshot row. Callers decide cadence
// (settings.SnapshotInterval events, N in [50,200]).
func (s *Store) SaveSnapshot(ctx context.Context, snap StoredSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, sequence_number, payload, created_at) VALUES ($1, $2, $3, now())`,
		snap.AggregateID, snap.SequenceNumber, snap.Payload,
	)
	if err != nil {
		return fmt.Errorf("eventstore: save snapshot: %w", err)
	}
	return nil
}

// BeginTx starts a transaction for a single aggregate command, within which
// the caller appends its events (consent.Repository.Save writes no outbox
// row in it).
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
