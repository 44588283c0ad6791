package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/resilience"
)

type memRepo struct {
	mu    sync.Mutex
	sagas map[string]*State
}

func newMemRepo() *memRepo { return &memRepo{sagas: make(map[string]*State)} }

func (r *memRepo) Save(ctx context.Context, s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Steps = append([]StepState(nil), s.Steps...)
	r.sagas[s.SagaID] = &cp
	return nil
}

func (r *memRepo) Get(ctx context.Context, sagaID string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sagas[sagaID], nil
}

func (r *memRepo) ListTimedOut(ctx context.Context, now time.Time) ([]*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*State
	for _, s := range r.sagas {
		if s.Status == StatusInProgress && !now.Before(s.TimeoutAt) {
			out = append(out, s)
		}
	}
	return out, nil
}

func noRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1}
}

func okStep(name string, order *[]string, mu *sync.Mutex) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, s *State) error {
			mu.Lock()
			*order = append(*order, "exec:"+name)
			mu.Unlock()
			return nil
		},
		Compensate: func(ctx context.Context, s *State) error {
			mu.Lock()
			*order = append(*order, "comp:"+name)
			mu.Unlock()
			return nil
		},
		Retry: noRetry(),
	}
}

func TestOrchestrator_HappyPathCompletesAllSteps(t *testing.T) {
	repo := newMemRepo()
	o := New(repo)
	var order []string
	var mu sync.Mutex

	steps := []Step{okStep("validate", &order, &mu), okStep("reserve", &order, &mu), okStep("settle", &order, &mu)}
	s, err := o.Start(context.Background(), "saga-1", steps, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", s.Status)
	}
	want := []string{"exec:validate", "exec:reserve", "exec:settle"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

// S5 — saga compensation: a permanent failure on the third step
// compensates the first two in reverse order.
func TestOrchestrator_PermanentFailureCompensatesInReverse(t *testing.T) {
	repo := newMemRepo()
	o := New(repo)
	var order []string
	var mu sync.Mutex

	failing := Step{
		Name: "settle",
		Execute: func(ctx context.Context, s *State) error {
			return &StepError{Kind: FailurePermanent, Code: "SETTLEMENT_REJECTED", Cause: errors.New("rejected")}
		},
		Compensate: func(ctx context.Context, s *State) error { return nil },
		Retry:      noRetry(),
	}

	steps := []Step{okStep("validate", &order, &mu), okStep("reserve", &order, &mu), failing}
	s, err := o.Start(context.Background(), "saga-2", steps, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s", s.Status)
	}
	want := []string{"exec:validate", "exec:reserve", "comp:reserve", "comp:validate"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("unexpected compensation order: %v", order)
	}
}

// A COMPENSATION_FAILED step does not stop the walk: earlier steps are
// still compensated (SPEC_FULL Open Question #3).
func TestOrchestrator_ContinuesCompensatingAfterCompensationFailure(t *testing.T) {
	repo := newMemRepo()
	o := New(repo)
	var order []string
	var mu sync.Mutex

	failingCompensation := Step{
		Name: "reserve",
		Execute: func(ctx context.Context, s *State) error {
			mu.Lock()
			order = append(order, "exec:reserve")
			mu.Unlock()
			return nil
		},
		Compensate: func(ctx context.Context, s *State) error {
			return errors.New("compensation unavailable")
		},
		Retry: noRetry(),
	}
	failingStep := Step{
		Name: "settle",
		Execute: func(ctx context.Context, s *State) error {
			return &StepError{Kind: FailurePermanent, Code: "SETTLEMENT_REJECTED", Cause: errors.New("rejected")}
		},
		Compensate: func(ctx context.Context, s *State) error { return nil },
		Retry:      noRetry(),
	}

	steps := []Step{okStep("validate", &order, &mu), failingCompensation, failingStep}
	s, err := o.Start(context.Background(), "saga-3", steps, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status != StatusCompensationFailed {
		t.Fatalf("expected COMPENSATION_FAILED, got %s", s.Status)
	}
	want := []string{"exec:validate", "exec:reserve", "comp:validate"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected compensation to continue past the failed step to earlier steps: %v", order)
	}
	if s.Steps[1].ErrorCode != "COMPENSATION_FAILED" {
		t.Fatalf("expected the failed compensation step to be flagged, got %+v", s.Steps[1])
	}
}

func TestOrchestrator_TransientFailureRetriesBeforeSucceeding(t *testing.T) {
	repo := newMemRepo()
	o := New(repo)
	attempts := 0

	flaky := Step{
		Name: "call-directory",
		Execute: func(ctx context.Context, s *State) error {
			attempts++
			if attempts < 2 {
				return &StepError{Kind: FailureTransient, Code: "DIRECTORY_UNAVAILABLE", Cause: errors.New("timeout")}
			}
			return nil
		},
		Compensate: func(ctx context.Context, s *State) error { return nil },
		Retry:      resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}

	s, err := o.Start(context.Background(), "saga-4", []Step{flaky}, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED after a transient retry, got %s", s.Status)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestTimeoutMonitor_TransitionsAndCompensates(t *testing.T) {
	repo := newMemRepo()
	o := New(repo)
	var order []string
	var mu sync.Mutex

	blocking := Step{
		Name: "await-external",
		Execute: func(ctx context.Context, s *State) error {
			return nil
		},
		Compensate: func(ctx context.Context, s *State) error {
			mu.Lock()
			order = append(order, "comp:await-external")
			mu.Unlock()
			return nil
		},
		Retry: noRetry(),
	}
	completedStep := okStep("validate", &order, &mu)

	steps := []Step{completedStep, blocking}
	now := time.Now()
	s, err := o.Start(context.Background(), "saga-5", steps, -time.Minute, now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status != StatusCompleted {
		t.Fatalf("expected a same-process Start to complete normally, got %s", s.Status)
	}

	// Force the saga back into IN_PROGRESS with an elapsed timeout, as if
	// the process had crashed mid-flight with only the first step done.
	s.Status = StatusInProgress
	s.Steps[1].Status = StepPending
	if err := repo.Save(context.Background(), s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	monitor := NewTimeoutMonitor(o, repo, map[string][]Step{"saga-5": steps})
	n, err := monitor.ScanOnce(context.Background(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 saga to be timed out, got %d", n)
	}

	final, _ := repo.Get(context.Background(), "saga-5")
	if final.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED after timeout, got %s", final.Status)
	}
}
