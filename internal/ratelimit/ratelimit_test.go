package ratelimit

import (
	"testing"
	"time"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

func TestLimiter_AllowsUpToBurstThenDenies(t *testing.T) {
	// A tiny RPM budget so the burst (10% of RPM, floor 1) is reached fast.
	l := New(10, nil)

	var lastErr error
	admitted := 0
	for i := 0; i < 10; i++ {
		if err := l.Allow("BANK-TPP-001", "ais"); err != nil {
			lastErr = err
			continue
		}
		admitted++
	}

	if admitted == 0 {
		t.Fatalf("expected at least one admitted request")
	}
	if lastErr == nil {
		t.Fatalf("expected the burst to eventually be exhausted")
	}
	if !platformerrors.Is(lastErr, platformerrors.KindServiceUnavailable) {
		t.Fatalf("expected a SERVICE_UNAVAILABLE error, got %v", lastErr)
	}
}

func TestLimiter_ScopesAreIndependent(t *testing.T) {
	l := New(10, map[string]int{"ais": 10, "bulk-payments": 10})

	// Exhaust the ais burst for this participant.
	for i := 0; i < 10; i++ {
		_ = l.Allow("BANK-TPP-001", "ais")
	}

	if err := l.Allow("BANK-TPP-001", "bulk-payments"); err != nil {
		t.Fatalf("a different scope should have its own independent budget: %v", err)
	}
}

func TestBulkConcurrencyGate_RejectsAboveCap(t *testing.T) {
	g := NewBulkConcurrencyGate(2)

	release1, err := g.Acquire("BANK-TPP-001")
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	release2, err := g.Acquire("BANK-TPP-001")
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}

	if _, err := g.Acquire("BANK-TPP-001"); err == nil {
		t.Fatalf("expected the third concurrent submission to be rejected")
	}

	release1()
	if _, err := g.Acquire("BANK-TPP-001"); err != nil {
		t.Fatalf("expected a slot to free up after release: %v", err)
	}
	release2()
}

func TestDPoPReplayCache_RejectsSecondUseWithinWindow(t *testing.T) {
	c := NewDPoPReplayCache(time.Minute, 0)

	if !c.ValidateAndMark("https://tpp.example.com", "jti-1") {
		t.Fatalf("first use of a jti should be accepted")
	}
	if c.ValidateAndMark("https://tpp.example.com", "jti-1") {
		t.Fatalf("replaying the same jti within the window should be rejected")
	}
	if !c.ValidateAndMark("https://tpp.example.com", "jti-2") {
		t.Fatalf("a distinct jti should be accepted")
	}
}

func TestDPoPReplayCache_DistinctIssuersDoNotCollide(t *testing.T) {
	c := NewDPoPReplayCache(time.Minute, 0)

	if !c.ValidateAndMark("https://issuer-a.example.com", "jti-1") {
		t.Fatalf("first use should be accepted")
	}
	if !c.ValidateAndMark("https://issuer-b.example.com", "jti-1") {
		t.Fatalf("same jti from a distinct issuer must not be treated as a replay")
	}
}
