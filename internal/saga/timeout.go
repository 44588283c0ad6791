package saga

import (
	"context"
	"time"
)

// TimeoutMonitor scans for sagas whose timeoutAt has elapsed while still
// IN_PROGRESS, transitioning them to TIMED_OUT and beginning compensation
// (§4.6 semantic 4), on a ticker cadence matching the teacher's
// RateLimiter.StartCleanup idiom.
type TimeoutMonitor struct {
	orchestrator *Orchestrator
	repo         Repository
	registry     map[string][]Step
}

// NewTimeoutMonitor constructs a TimeoutMonitor. registry maps a sagaID to
// the Step slice needed to resume/compensate it — the orchestrator has no
// other way to recover step closures across a process restart.
func NewTimeoutMonitor(o *Orchestrator, repo Repository, registry map[string][]Step) *TimeoutMonitor {
	return &TimeoutMonitor{orchestrator: o, repo: repo, registry: registry}
}

// ScanOnce performs a single timeout sweep, returning the number of sagas
// transitioned to TIMED_OUT and compensated.
func (m *TimeoutMonitor) ScanOnce(ctx context.Context, now time.Time) (int, error) {
	timedOut, err := m.repo.ListTimedOut(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, s := range timedOut {
		steps, ok := m.registry[s.SagaID]
		if !ok {
			continue
		}
		s.Status = StatusTimedOut
		if err := m.repo.Save(ctx, s); err != nil {
			return count, err
		}

		lastCompleted := -1
		for i, st := range s.Steps {
			if st.Status == StepCompleted {
				lastCompleted = i
			}
		}
		if _, err := m.orchestrator.compensate(ctx, s, steps, lastCompleted+1, now); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Run drives ScanOnce on a fixed cadence (<=30s per §4.6 semantic 4) until
// ctx is canceled.
func (m *TimeoutMonitor) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 || interval > 30*time.Second {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ScanOnce(ctx, time.Now()); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
