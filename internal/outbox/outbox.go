// Package outbox implements the Domain Event Publisher (C12): a
// transactional outbox whose dispatcher drains undelivered rows in
// (aggregate_id, sequence_number) order and republishes them over the
// teacher's pkg/pgnotify Postgres NOTIFY/LISTEN bus, repointed at domain
// events instead of raw table-change rows (SPEC_FULL §4.4).
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Status of an outbox row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
)

// Envelope is the §6.3 event envelope published to the bus.
type Envelope struct {
	EventID        string    `json:"eventId"`
	AggregateID    string    `json:"aggregateId"`
	AggregateType  string    `json:"aggregateType"`
	SequenceNumber int       `json:"sequenceNumber"`
	EventType      string    `json:"eventType"`
	EventVersion   int       `json:"eventVersion"`
	OccurredAt     time.Time `json:"occurredAt"`
	CorrelationID  string    `json:"correlationId"`
	CausationID    string    `json:"causationId"`
	Payload        any       `json:"payload"`
}

// Row is one outbox(...) table record (§6.4).
type Row struct {
	ID             int64
	AggregateID    string
	SequenceNumber int
	Payload        json.RawMessage
	Status         Status
}

// Writer appends outbox rows within the *sql.Tx the caller passes to Append.
// It does not open a transaction itself.
type Writer struct {
	db *sql.DB
}

// NewWriter constructs a Writer over db.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Append writes an outbox row for each envelope within tx. Callers must
// call this in the same transaction used to append the corresponding
// events.
func (w *Writer) Append(ctx context.Context, tx *sql.Tx, envelopes []Envelope) error {
	for _, env := range envelopes {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("outbox: marshal envelope: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outbox (aggregate_id, sequence_number, payload, status) VALUES ($1, $2, $3, $4)`,
			env.AggregateID, env.SequenceNumber, payload, StatusPending,
		); err != nil {
			return fmt.Errorf("outbox: insert row: %w", err)
		}
	}
	return nil
}

// Bus is the subset of pkg/pgnotify.Bus the dispatcher depends on.
type Bus interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// DomainEventsChannel is the NOTIFY channel domain events are published on.
const DomainEventsChannel = "domain_events"

// Dispatcher drains undelivered outbox rows, in (aggregate_id,
// sequence_number) order per aggregate partition, and publishes them to Bus,
// marking them delivered. Redelivery on crash is permitted; subscribers
// MUST be idempotent on (aggregateId, sequenceNumber) per §4.4.
type Dispatcher struct {
	db        *sql.DB
	bus       Bus
	batchSize int
}

// NewDispatcher constructs a Dispatcher. batchSize <= 0 defaults to 100.
func NewDispatcher(db *sql.DB, bus Bus, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{db: db, bus: bus, batchSize: batchSize}
}

// DispatchOnce drains up to one batch of pending rows and returns how many
// were delivered. Intended to be called on a ticker by the composition
// root, mirroring the teacher's StartCleanup ticker idiom.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, aggregate_id, sequence_number, payload FROM outbox
		 WHERE status = $1 ORDER BY aggregate_id, sequence_number ASC LIMIT $2`,
		StatusPending, d.batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("outbox: query pending: %w", err)
	}

	var pending []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.AggregateID, &r.SequenceNumber, &r.Payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan row: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	delivered := 0
	for _, r := range pending {
		var env Envelope
		if err := json.Unmarshal(r.Payload, &env); err != nil {
			return delivered, fmt.Errorf("outbox: decode envelope id=%d: %w", r.ID, err)
		}
		if err := d.bus.Publish(ctx, DomainEventsChannel, env); err != nil {
			return delivered, fmt.Errorf("outbox: publish id=%d: %w", r.ID, err)
		}
		if _, err := d.db.ExecContext(ctx, `UPDATE outbox SET status = $1, dispatched_at = now() WHERE id = $2`,
			StatusDelivered, r.ID); err != nil {
			return delivered, fmt.Errorf("outbox: mark delivered id=%d: %w", r.ID, err)
		}
		delivered++
	}

	return delivered, nil
}

// Lag returns the number of undelivered rows. The use-case services do not
// call it; no write path back-pressures on outbox lag.
func (d *Dispatcher) Lag(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox WHERE status = $1`, StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("outbox: lag query: %w", err)
	}
	return count, nil
}

// Run polls DispatchOnce on interval until ctx is cancelled, mirroring the
// teacher's ticker-driven background loops (infrastructure/middleware
// RateLimiter.StartCleanup).
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
