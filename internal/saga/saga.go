// Package saga implements the Saga Orchestrator (C11): deterministic
// multi-step coordination with per-step compensation, timeouts, and
// persistent state (spec.md §4.6). Step retry/backoff for TRANSIENT
// failures is grounded on the teacher's infrastructure/resilience.Retry;
// the timeout monitor is a time.Ticker-driven scan matching the teacher's
// infrastructure/middleware.RateLimiter.StartCleanup ticker idiom.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/R3E-Network/service_layer/infrastructure/resilience"
)

// Status is a saga instance's overall state (§4.6 state machine).
type Status string

const (
	StatusInProgress        Status = "IN_PROGRESS"
	StatusCompleted         Status = "COMPLETED"
	StatusCompensating      Status = "COMPENSATING"
	StatusCompensated       Status = "COMPENSATED"
	StatusCompensationFailed Status = "COMPENSATION_FAILED"
	StatusTimedOut          Status = "TIMED_OUT"
)

// StepStatus is a single step's state.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepRunning     StepStatus = "RUNNING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// FailureKind classifies a step's returned error (§4.6 failure taxonomy).
type FailureKind string

const (
	FailureTransient FailureKind = "TRANSIENT"
	FailurePermanent FailureKind = "PERMANENT"
	FailureTimeout   FailureKind = "TIMEOUT"
)

// StepError carries a FailureKind alongside the underlying cause.
type StepError struct {
	Kind  FailureKind
	Code  string
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("[%s/%s] %v", e.Kind, e.Code, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// StepState is the persisted record of one step's execution (§4.6).
type StepState struct {
	StepID      string
	StepName    string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time
	ErrorCode   string
	Metadata    map[string]string
}

// State is the persisted record of one saga instance.
type State struct {
	SagaID    string
	Status    Status
	Steps     []StepState
	CreatedAt time.Time
	TimeoutAt time.Time
}

// StepFunc executes a step's forward action; returning a *StepError
// classifies the failure for the orchestrator. A TRANSIENT *StepError makes
// the orchestrator call the StepFunc again, up to the step's
// Retry.MaxAttempts.
type StepFunc func(ctx context.Context, s *State) error

// CompensateFunc undoes a previously-completed step's effects. Replays
// (on a step already COMPENSATED) MUST be no-ops — implementations should
// check their own side-effect state before acting.
type CompensateFunc func(ctx context.Context, s *State) error

// Step is one named, compensable unit of saga work.
type Step struct {
	Name       string
	Execute    StepFunc
	Compensate CompensateFunc
	Retry      resilience.RetryConfig
}

// Repository persists saga state. Every transition is saved before the
// orchestrator invokes the next effect (§4.6 durability).
type Repository interface {
	Save(ctx context.Context, s *State) error
	Get(ctx context.Context, sagaID string) (*State, error)
	ListTimedOut(ctx context.Context, now time.Time) ([]*State, error)
}

// Orchestrator runs sagas composed of Steps.
type Orchestrator struct {
	repo Repository
}

// New constructs an Orchestrator over repo.
func New(repo Repository) *Orchestrator {
	return &Orchestrator{repo: repo}
}

func stepID(sagaID, stepName string) string {
	return sagaID + ":" + stepName
}

// Start runs a brand-new saga's steps forward in order, persisting state
// before and after each step, compensating on any permanent failure.
func (o *Orchestrator) Start(ctx context.Context, sagaID string, steps []Step, timeout time.Duration, now time.Time) (*State, error) {
	s := &State{
		SagaID:    sagaID,
		Status:    StatusInProgress,
		CreatedAt: now,
		TimeoutAt: now.Add(timeout),
	}
	for _, step := range steps {
		s.Steps = append(s.Steps, StepState{
			StepID:   stepID(sagaID, step.Name),
			StepName: step.Name,
			Status:   StepPending,
			Metadata: map[string]string{},
		})
	}
	if err := o.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saga: save initial state: %w", err)
	}

	return o.run(ctx, s, steps, now)
}

func (o *Orchestrator) run(ctx context.Context, s *State, steps []Step, now time.Time) (*State, error) {
	for i, step := range steps {
		st := &s.Steps[i]
		if st.Status == StepCompleted {
			continue // idempotent replay: already ran forward.
		}

		st.Status = StepRunning
		st.StartedAt = now
		if err := o.repo.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("saga: save step running: %w", err)
		}

		err := o.executeWithRetry(ctx, step, s)
		if err == nil {
			st.Status = StepCompleted
			st.CompletedAt = now
			if err := o.repo.Save(ctx, s); err != nil {
				return nil, fmt.Errorf("saga: save step completed: %w", err)
			}
			continue
		}

		st.Status = StepFailed
		st.FailedAt = now
		st.ErrorCode = errorCode(err)
		if err := o.repo.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("saga: save step failed: %w", err)
		}

		return o.compensate(ctx, s, steps, i, now)
	}

	s.Status = StatusCompleted
	if err := o.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saga: save completed: %w", err)
	}
	return s, nil
}

func (o *Orchestrator) executeWithRetry(ctx context.Context, step Step, s *State) error {
	cfg := step.Retry
	if cfg.MaxAttempts <= 0 {
		cfg = resilience.DefaultRetryConfig()
	}

	// backoff.Retry unwraps a *backoff.PermanentError back to its cause
	// before returning, so the caller always sees the original *StepError.
	return resilience.Retry(ctx, cfg, func() error {
		stepErr := step.Execute(ctx, s)
		if stepErr == nil {
			return nil
		}
		var se *StepError
		if errors.As(stepErr, &se) && se.Kind == FailureTransient {
			return stepErr // retried by resilience.Retry
		}
		return backoff.Permanent(stepErr)
	})
}

// compensate walks the already-COMPLETED steps before failedIndex in
// reverse, invoking each Compensate. A compensation
// failure marks that step COMPENSATION_FAILED but does not stop the
// walk — the orchestrator continues compensating earlier steps
// (SPEC_FULL Open Question #3).
func (o *Orchestrator) compensate(ctx context.Context, s *State, steps []Step, failedIndex int, now time.Time) (*State, error) {
	s.Status = StatusCompensating
	if err := o.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saga: save compensating: %w", err)
	}

	anyCompensationFailed := false
	for i := failedIndex - 1; i >= 0; i-- {
		st := &s.Steps[i]
		if st.Status != StepCompleted {
			continue
		}
		if err := steps[i].Compensate(ctx, s); err != nil {
			anyCompensationFailed = true
			st.ErrorCode = "COMPENSATION_FAILED"
			if err := o.repo.Save(ctx, s); err != nil {
				return nil, fmt.Errorf("saga: save compensation failure: %w", err)
			}
			continue
		}
		st.Status = StepCompensated
		st.CompletedAt = now
		if err := o.repo.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("saga: save compensated step: %w", err)
		}
	}

	if anyCompensationFailed {
		s.Status = StatusCompensationFailed
	} else {
		s.Status = StatusCompensated
	}
	if err := o.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saga: save final compensation status: %w", err)
	}
	return s, nil
}

func errorCode(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code
	}
	return "UNKNOWN"
}
