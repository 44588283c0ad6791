package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// DPoPReplayCache tracks seen (issuer, jti) pairs within a time window,
// adapted verbatim in technique from the teacher's
// infrastructure/security.ReplayProtection, but keyed on the DPoP proof's
// issuer+jti rather than a bare request ID (§4.2).
type DPoPReplayCache struct {
	window  time.Duration
	maxSize int

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDPoPReplayCache constructs a cache remembering jtis for window
// (defaulting to 5 minutes when window <= 0).
func NewDPoPReplayCache(window time.Duration, maxSize int) *DPoPReplayCache {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &DPoPReplayCache{
		window:  window,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
	}
}

func key(issuer, jti string) string {
	return fmt.Sprintf("%s|%s", issuer, jti)
}

// ValidateAndMark reports whether (issuer, jti) is fresh, marking it seen.
// A false return means the proof is a replay and must be rejected.
func (c *DPoPReplayCache) ValidateAndMark(issuer, jti string) bool {
	if jti == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(issuer, jti)

	if len(c.seen)%100 == 0 {
		c.cleanupExpired()
	}

	if seenAt, ok := c.seen[k]; ok {
		if time.Since(seenAt) < c.window {
			return false
		}
		delete(c.seen, k)
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.cleanupExpired()
		if len(c.seen) >= c.maxSize {
			return false
		}
	}

	c.seen[k] = time.Now()
	return true
}

func (c *DPoPReplayCache) cleanupExpired() {
	now := time.Now()
	for k, seenAt := range c.seen {
		if now.Sub(seenAt) > c.window {
			delete(c.seen, k)
		}
	}
}

// Size returns the number of tracked (issuer, jti) pairs.
func (c *DPoPReplayCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
