// Package ratelimit implements the Rate Limiter & Admission Control (C9):
// a per-(participant, scope) sliding window grounded directly on the
// teacher's infrastructure/middleware.RateLimiter (per-key
// golang.org/x/time/rate.Limiter map with a windowed construction helper).
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// Defaults from §4.2: 500 rpm for AIS scopes, 1000 rpm general, 10%
// token-bucket burst.
const (
	DefaultAISRPM     = 500
	DefaultGeneralRPM = 1000
	DefaultBurstRatio = 0.10
	BulkConcurrentCap = 10
)

// Limiter is a per-(participantId, scope) sliding-window rate limiter.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	window   time.Duration
	rpmByScope map[string]int
	defaultRPM int
}

// New constructs a Limiter. rpmByScope maps a scope name to its requests-
// per-minute budget; scopes absent from the map use defaultRPM.
func New(defaultRPM int, rpmByScope map[string]int) *Limiter {
	if defaultRPM <= 0 {
		defaultRPM = DefaultGeneralRPM
	}
	return &Limiter{
		limiters:   make(map[string]*rate.Limiter),
		window:     time.Minute,
		rpmByScope: rpmByScope,
		defaultRPM: defaultRPM,
	}
}

func (l *Limiter) rpmFor(scope string) int {
	if rpm, ok := l.rpmByScope[scope]; ok {
		return rpm
	}
	return l.defaultRPM
}

func (l *Limiter) limiterFor(participantID, scope string) *rate.Limiter {
	key := fmt.Sprintf("%s:%s", participantID, scope)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		rpm := l.rpmFor(scope)
		perSecond := float64(rpm) / l.window.Seconds()
		burst := int(float64(rpm) * DefaultBurstRatio)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether a request for (participantID, scope) is admitted,
// returning a SERVICE_UNAVAILABLE-mapped §7 error carrying a suggested
// Retry-After duration when denied.
func (l *Limiter) Allow(participantID, scope string) error {
	lim := l.limiterFor(participantID, scope)
	if lim.Allow() {
		return nil
	}

	retryAfter := l.window / time.Duration(l.rpmFor(scope)+1)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return platformerrors.ServiceUnavailable("RATE_LIMIT_EXCEEDED", "rate limit exceeded").
		WithDetails("retryAfterSeconds", int(retryAfter.Seconds()))
}

// Cleanup bounds unbounded map growth, mirroring the teacher's
// RateLimiter.Cleanup.
func (l *Limiter) Cleanup(maxEntries int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if len(l.limiters) > maxEntries {
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// BulkConcurrencyGate caps concurrent bulk-file submissions per participant
// (§4.2: "10 concurrent bulk-file submissions per participant").
type BulkConcurrencyGate struct {
	mu      sync.Mutex
	inFlight map[string]int
	cap     int
}

// NewBulkConcurrencyGate constructs a gate with the given per-participant
// cap (0 uses BulkConcurrentCap).
func NewBulkConcurrencyGate(cap int) *BulkConcurrencyGate {
	if cap <= 0 {
		cap = BulkConcurrentCap
	}
	return &BulkConcurrencyGate{inFlight: make(map[string]int), cap: cap}
}

// Acquire reserves a submission slot for participantID, returning a release
// function, or an error if the participant is at capacity.
func (g *BulkConcurrencyGate) Acquire(participantID string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[participantID] >= g.cap {
		return nil, platformerrors.ServiceUnavailable("BULK_CONCURRENCY_LIMIT", "too many concurrent bulk-file submissions")
	}
	g.inFlight[participantID]++

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.inFlight[participantID]--
		if g.inFlight[participantID] <= 0 {
			delete(g.inFlight, participantID)
		}
	}, nil
}
