package fapi

import (
	"sync"
	"time"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// MaxPARTTL is the §4.1 step 5 maximum lifetime of a pushed authorization
// request: 60 seconds.
const MaxPARTTL = 60 * time.Second

// PARRequest is a pushed authorization request's registered parameters.
type PARRequest struct {
	RequestURI string
	Params     map[string]string
	ExpiresAt  time.Time
	consumed   bool
}

// PARStore registers and single-use-consumes PAR request URIs (§4.1 step
// 5), atomically guarding against double-consumption.
type PARStore struct {
	mu       sync.Mutex
	requests map[string]*PARRequest
}

// NewPARStore constructs an empty PARStore.
func NewPARStore() *PARStore {
	return &PARStore{requests: make(map[string]*PARRequest)}
}

// Push registers a new request_uri with a TTL capped at MaxPARTTL.
func (s *PARStore) Push(requestURI string, params map[string]string, now time.Time, ttl time.Duration) *PARRequest {
	if ttl <= 0 || ttl > MaxPARTTL {
		ttl = MaxPARTTL
	}
	req := &PARRequest{
		RequestURI: requestURI,
		Params:     params,
		ExpiresAt:  now.Add(ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[requestURI] = req
	return req
}

// Consume atomically consumes a request_uri: it must exist, be unexpired,
// and not have been consumed before. Re-consumption (or consuming an
// unknown/expired URI) is a SECURITY error.
func (s *PARStore) Consume(requestURI string, now time.Time) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestURI]
	if !ok {
		return nil, platformerrors.Security("PAR_NOT_FOUND", "request_uri was not issued by this server")
	}
	if req.consumed {
		return nil, platformerrors.Security("PAR_ALREADY_CONSUMED", "request_uri has already been used")
	}
	if now.After(req.ExpiresAt) {
		return nil, platformerrors.Security("PAR_EXPIRED", "request_uri has expired")
	}

	req.consumed = true
	return req.Params, nil
}
