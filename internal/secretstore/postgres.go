package secretstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// PostgresRepository is the Postgres-backed Repository the package doc
// promises, grounded on the same explicit-SQL-per-operation style as
// internal/eventstore and internal/idempotency.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository constructs a PostgresRepository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetRecord(ctx context.Context, participantID, name string) (*Record, error) {
	var rec Record
	var salt, hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT participant_id, name, salt, hash, version, created_at, rotated_at
		 FROM secret_records WHERE participant_id = $1 AND name = $2`,
		participantID, name,
	).Scan(&rec.ParticipantID, &rec.Name, &salt, &hash, &rec.Version, &rec.CreatedAt, &rec.RotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secretstore: get record: %w", err)
	}
	rec.Salt, err = hex.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("secretstore: decode salt: %w", err)
	}
	rec.Hash, err = hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("secretstore: decode hash: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) PutRecord(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO secret_records (participant_id, name, salt, hash, version, created_at, rotated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (participant_id, name) DO UPDATE SET
		   salt = EXCLUDED.salt, hash = EXCLUDED.hash, version = EXCLUDED.version, rotated_at = EXCLUDED.rotated_at`,
		rec.ParticipantID, rec.Name, hex.EncodeToString(rec.Salt), hex.EncodeToString(rec.Hash),
		rec.Version, rec.CreatedAt, rec.RotatedAt,
	)
	if err != nil {
		return fmt.Errorf("secretstore: put record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO secret_audit_log (participant_id, name, action, success, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ParticipantID, entry.Name, entry.Action, entry.Success, entry.ErrorMessage, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("secretstore: append audit: %w", err)
	}
	return nil
}
