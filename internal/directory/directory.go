// Package directory implements the Participant Directory Client (C2):
// cached lookup/validation of a TPP's legal identity and certificate
// against the external trust framework, grounded on the teacher's
// infrastructure/resilience.CircuitBreaker (wraps the external HTTP call)
// and infrastructure/cache.Cache (TTL-bounded validation cache).
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/cache"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
	"github.com/R3E-Network/service_layer/infrastructure/resilience"
)

// Status of a participant, per §3.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusRevoked   Status = "REVOKED"
)

// ValidationResult is the outcome of validating a participant against the
// trust framework (§4.7).
type ValidationResult struct {
	ParticipantID           string
	Status                  Status
	CertificateThumbprints  []string
	ValidUntil              time.Time
}

// SuspendedHandler is invoked when a participant transitions to SUSPENDED
// or REVOKED, emitting the §4.7 ParticipantSuspendedEvent.
type SuspendedHandler func(ctx context.Context, participantID string, status Status)

// Client validates participants against the external trust framework,
// caching results for min(validUntil-now, maxTTL).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *resilience.CircuitBreaker
	cache      *cache.Cache
	maxTTL     time.Duration
	negativeTTL time.Duration
	logger     *logging.Logger
	onSuspended SuspendedHandler
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	MaxTTL      time.Duration
	NegativeTTL time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
	OnSuspended SuspendedHandler
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 15 * time.Minute
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	breakerCfg := resilience.DefaultConfig()
	if cfg.Logger != nil {
		breakerCfg.OnStateChange = func(from, to resilience.State) {
			cfg.Logger.WithFields(map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("directory client circuit breaker state changed")
		}
	}

	return &Client{
		httpClient:  cfg.HTTPClient,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		breaker:     resilience.New(breakerCfg),
		cache:       cache.NewCache(cache.CacheConfig{DefaultTTL: cfg.MaxTTL}),
		maxTTL:      cfg.MaxTTL,
		negativeTTL: cfg.NegativeTTL,
		logger:      cfg.Logger,
		onSuspended: cfg.OnSuspended,
	}
}

// Validate returns the cached ValidationResult for participantID, or calls
// the trust framework on a cache miss (§4.7). Certificate rotation is
// observed on the next call since the cache entry expires and is refetched.
func (c *Client) Validate(ctx context.Context, participantID string, now time.Time) (*ValidationResult, error) {
	if cached, ok := c.cache.Get(participantID); ok {
		result := cached.(ValidationResult)
		return &result, nil
	}

	var result ValidationResult
	err := c.breaker.Execute(ctx, func() error {
		fetched, fetchErr := c.fetch(ctx, participantID)
		if fetchErr != nil {
			return fetchErr
		}
		result = *fetched
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: validate %s: %w", participantID, err)
	}

	ttl := c.negativeTTL
	wasActive := result.Status == StatusActive
	if wasActive {
		ttl = result.ValidUntil.Sub(now)
		if ttl <= 0 || ttl > c.maxTTL {
			ttl = c.maxTTL
		}
	}
	c.cache.Set(participantID, result, ttl)

	if !wasActive && c.onSuspended != nil {
		c.onSuspended(ctx, participantID, result.Status)
	}

	return &result, nil
}

func (c *Client) fetch(ctx context.Context, participantID string) (*ValidationResult, error) {
	url := fmt.Sprintf("%s/participants/%s/validate", c.baseURL, participantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trust framework returned status %d", resp.StatusCode)
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode validation response: %w", err)
	}
	result.ParticipantID = participantID
	return &result, nil
}

// IsActive reports whether the result's status is ACTIVE and now is before
// its ValidUntil.
func (r *ValidationResult) IsActive(now time.Time) bool {
	return r.Status == StatusActive && now.Before(r.ValidUntil)
}
