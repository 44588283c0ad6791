// Package secretstore implements the Key Material Store (C13): salted-hash
// storage for participant key material (client secrets, signing key
// fingerprints) with no plaintext retrieval path. Every verification and
// rotation is recorded to an audit log, mirroring the teacher's
// infrastructure/secrets.Manager audit-on-every-access pattern.
package secretstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates no key material is registered under the given name.
	ErrNotFound = errors.New("secretstore: key material not found")
	// ErrMismatch indicates the supplied plaintext does not match the stored hash.
	ErrMismatch = errors.New("secretstore: verification failed")
)

// Record is the persisted representation of a single piece of hashed key
// material. PlaintextValue is NEVER stored; only Salt and Hash are.
type Record struct {
	ParticipantID string
	Name          string
	Salt          []byte
	Hash          []byte
	Version       int
	CreatedAt     time.Time
	RotatedAt     time.Time
}

// AuditEntry records a single access/rotation attempt, modeled on the
// teacher's secretssupabase.AuditLog shape.
type AuditEntry struct {
	ParticipantID string
	Name          string
	Action        string // "verify", "rotate", "register"
	Success       bool
	ErrorMessage  string
	CreatedAt     time.Time
}

// Repository persists hashed key-material records and audit entries.
// PostgresRepository (postgres.go) is the Postgres-backed implementation;
// tests use an in-memory fake.
type Repository interface {
	GetRecord(ctx context.Context, participantID, name string) (*Record, error)
	PutRecord(ctx context.Context, rec *Record) error
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// Store is the Key Material Store (C13). It never returns plaintext key
// material once registered — callers verify a candidate value against the
// stored salted hash instead of reading the original back.
type Store struct {
	repo Repository
	now  func() time.Time
}

// New constructs a Store backed by repo.
func New(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Register hashes plaintext with a fresh random salt and persists the
// resulting Record, discarding the plaintext immediately afterward.
func (s *Store) Register(ctx context.Context, participantID, name, plaintext string) error {
	if participantID == "" || name == "" {
		return fmt.Errorf("secretstore: participantID and name are required")
	}
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("secretstore: generate salt: %w", err)
	}
	now := s.clock()
	rec := &Record{
		ParticipantID: participantID,
		Name:          name,
		Salt:          salt,
		Hash:          hashValue(salt, plaintext),
		Version:       1,
		CreatedAt:     now,
		RotatedAt:     now,
	}
	if existing, err := s.repo.GetRecord(ctx, participantID, name); err == nil && existing != nil {
		rec.Version = existing.Version + 1
		rec.CreatedAt = existing.CreatedAt
	}

	err := s.repo.PutRecord(ctx, rec)
	s.audit(ctx, participantID, name, "register", err)
	return err
}

// Verify checks candidate against the stored salted hash in constant time.
// It never exposes the original plaintext.
func (s *Store) Verify(ctx context.Context, participantID, name, candidate string) error {
	rec, err := s.repo.GetRecord(ctx, participantID, name)
	if err != nil {
		s.audit(ctx, participantID, name, "verify", err)
		return err
	}
	if rec == nil {
		s.audit(ctx, participantID, name, "verify", ErrNotFound)
		return ErrNotFound
	}

	candidateHash := hashValue(rec.Salt, candidate)
	if subtle.ConstantTimeCompare(candidateHash, rec.Hash) != 1 {
		s.audit(ctx, participantID, name, "verify", ErrMismatch)
		return ErrMismatch
	}

	s.audit(ctx, participantID, name, "verify", nil)
	return nil
}

// Rotate replaces the stored hash for (participantID, name) with a hash of
// newValue, bumping Version. Used for client-secret and signing-key rotation
// (§4.7 certificate rotation, §4.9).
func (s *Store) Rotate(ctx context.Context, participantID, name, newValue string) error {
	err := s.Register(ctx, participantID, name, newValue)
	s.audit(ctx, participantID, name, "rotate", err)
	return err
}

func (s *Store) audit(ctx context.Context, participantID, name, action string, err error) {
	entry := &AuditEntry{
		ParticipantID: participantID,
		Name:          name,
		Action:        action,
		Success:       err == nil,
		CreatedAt:     s.clock(),
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	_ = s.repo.AppendAudit(ctx, entry)
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func hashValue(salt []byte, value string) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

// HashHex returns the hex-encoded salted hash for display/comparison in logs
// and tests, never the plaintext.
func HashHex(salt []byte, value string) string {
	return hex.EncodeToString(hashValue(salt, value))
}
