// Package idempotency implements the Idempotency Store (C3): a durable
// (key, participantId, requestHash) -> (resourceId, status, expiry)
// mapping with TTL, providing atomic set-if-absent via a Postgres unique
// constraint (`INSERT ... ON CONFLICT DO NOTHING`), per §4.8.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// Record is the persisted (key, participantId) -> (requestHash, resourceId,
// status, expiresAt) mapping (§3 IdempotencyRecord).
type Record struct {
	Key           string
	ParticipantID string
	RequestHash   string
	ResourceID    string
	Status        string
	ExpiresAt     time.Time
}

// DefaultTTL is the §4.8 default idempotency record lifetime.
const DefaultTTL = 24 * time.Hour

// Store is a Postgres-backed idempotency store.
type Store struct {
	db *sql.DB
}

// New constructs a Store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the existing record for (key, participantID), or
// (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, key, participantID string) (*Record, error) {
	var r Record
	err := s.db.QueryRowContext(ctx,
		`SELECT key, participant_id, request_hash, resource_id, status, expires_at
		 FROM idempotency WHERE key = $1 AND participant_id = $2`,
		key, participantID,
	).Scan(&r.Key, &r.ParticipantID, &r.RequestHash, &r.ResourceID, &r.Status, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: get: %w", err)
	}
	return &r, nil
}

// Put atomically inserts a new record, returning false if a record for
// (key, participantID) already exists (set-if-absent, §4.8).
func (s *Store) Put(ctx context.Context, r Record) (inserted bool, err error) {
	if r.ExpiresAt.IsZero() {
		r.ExpiresAt = time.Now().Add(DefaultTTL)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency (key, participant_id, request_hash, resource_id, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (key, participant_id) DO NOTHING`,
		r.Key, r.ParticipantID, r.RequestHash, r.ResourceID, r.Status, r.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("idempotency: put: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotency: rows affected: %w", err)
	}
	return affected > 0, nil
}

// CheckOrReserve implements the §4.5 common-skeleton step 3: if a record
// exists with a matching requestHash, it is returned with replay=true; if it
// exists with a different hash, IDEMPOTENCY_CONFLICT (invariant 3 of §8); if
// absent, a new record is reserved with the given resourceID/status.
func (s *Store) CheckOrReserve(ctx context.Context, key, participantID, requestHash, resourceID, status string) (record *Record, replay bool, err error) {
	existing, err := s.Get(ctx, key, participantID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.RequestHash != requestHash {
			return nil, false, platformerrors.IdempotencyConflict("idempotency key reused with a different request")
		}
		return existing, true, nil
	}

	candidate := Record{
		Key:           key,
		ParticipantID: participantID,
		RequestHash:   requestHash,
		ResourceID:    resourceID,
		Status:        status,
	}
	inserted, err := s.Put(ctx, candidate)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// lost a race with a concurrent request carrying the same key;
		// re-read and treat as a replay check.
		existing, err = s.Get(ctx, key, participantID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("idempotency: lost insert race but record still absent")
		}
		if existing.RequestHash != requestHash {
			return nil, false, platformerrors.IdempotencyConflict("idempotency key reused with a different request")
		}
		return existing, true, nil
	}

	return &candidate, false, nil
}
