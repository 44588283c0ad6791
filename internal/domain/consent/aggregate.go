// Package consent implements the Consent Aggregate (C7): the event-sourced
// domain object that authorizes, uses, revokes, and expires TPP consents
// under strict scope/participant/PSU binding (spec.md §3–§4.3).
package consent

import (
	"fmt"
	"time"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/eventsourcing"
)

// Status is a Consent lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusUsed       Status = "USED"
	StatusRevoked    Status = "REVOKED"
	StatusExpired    Status = "EXPIRED"
	StatusRejected   Status = "REJECTED"
)

// Usage is one entry in the append-only usageHistory list.
type Usage struct {
	AccessedAt time.Time
	AccountID  string
	Operation  string
}

// CreateRequest carries the fields needed to construct a new Consent.
type CreateRequest struct {
	ConsentID     string
	CustomerID    string
	ParticipantID string
	Scopes        []string
	Purpose       string
	ValidityDays  int
}

// AuthContext carries the fields produced by the authorization flow.
type AuthContext struct {
	AccountIDs []string
}

// Consent is the aggregate root (§3). Account whitelist population follows
// SPEC_FULL Open Question #4: populated at authorize-time from the auth
// context and immutable thereafter.
type Consent struct {
	eventsourcing.Base

	ConsentID     string
	CustomerID    string
	ParticipantID string
	Scopes        map[string]bool
	Purpose       string
	Status        Status
	CreatedAt     time.Time
	AuthorizedAt  time.Time
	ExpiresAt     time.Time
	RevokedAt     time.Time
	AccountIDs    map[string]bool
	UsageHistory  []Usage
}

// Create constructs a brand-new PENDING Consent and records its
// ConsentCreated event (§4.3 create).
func Create(req CreateRequest, now time.Time) (*Consent, error) {
	if req.ConsentID == "" || req.CustomerID == "" || req.ParticipantID == "" {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "consentId, customerId and participantId are required")
	}
	if len(req.Scopes) == 0 {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "at least one scope is required")
	}
	days := req.ValidityDays
	if days <= 0 {
		days = 90
	}

	c := &Consent{
		Base:          eventsourcing.NewBase(req.ConsentID, 0),
		ConsentID:     req.ConsentID,
		CustomerID:    req.CustomerID,
		ParticipantID: req.ParticipantID,
		Scopes:        toSet(req.Scopes),
		Purpose:       req.Purpose,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.AddDate(0, 0, days),
		AccountIDs:    map[string]bool{},
	}

	payload := CreatedPayload{
		CustomerID:    req.CustomerID,
		ParticipantID: req.ParticipantID,
		Scopes:        req.Scopes,
		Purpose:       req.Purpose,
		ExpiresAt:     c.ExpiresAt,
	}
	c.recordEvent(EventCreated, payload, now)
	return c, nil
}

// Authorize transitions PENDING -> AUTHORIZED (§4.3 authorize).
func (c *Consent) Authorize(ctx AuthContext, now time.Time) error {
	if c.Status != StatusPending {
		return platformerrors.BusinessRule("INVALID_STATE_TRANSITION", fmt.Sprintf("cannot authorize a consent in status %s", c.Status))
	}

	c.Status = StatusAuthorized
	c.AuthorizedAt = now
	for _, id := range ctx.AccountIDs {
		c.AccountIDs[id] = true
	}

	c.recordEvent(EventAuthorized, AuthorizedPayload{AuthorizedAt: now, AccountIDs: ctx.AccountIDs}, now)
	return nil
}

// Reject transitions PENDING -> REJECTED.
func (c *Consent) Reject(reason string, now time.Time) error {
	if c.Status != StatusPending {
		return platformerrors.BusinessRule("INVALID_STATE_TRANSITION", fmt.Sprintf("cannot reject a consent in status %s", c.Status))
	}
	c.Status = StatusRejected
	c.recordEvent(EventRejected, RejectedPayload{Reason: reason}, now)
	return nil
}

// RecordUsage appends to usageHistory only while AUTHORIZED and unexpired
// (§4.3 recordUsage, invariant 2 of §8).
func (c *Consent) RecordUsage(accountID, operation string, now time.Time) error {
	if c.Status != StatusAuthorized || !now.Before(c.ExpiresAt) {
		return platformerrors.Authorization("CONSENT_NOT_USABLE", "consent is not authorized or has expired")
	}
	if accountID != "" && len(c.AccountIDs) > 0 && !c.AccountIDs[accountID] {
		return platformerrors.Authorization("ACCOUNT_NOT_IN_CONSENT", "account is not part of the consent's whitelist")
	}

	usage := Usage{AccessedAt: now, AccountID: accountID, Operation: operation}
	c.UsageHistory = append(c.UsageHistory, usage)
	c.recordEvent(EventUsed, UsedPayload{AccessedAt: now, AccountID: accountID, Operation: operation}, now)
	return nil
}

// Revoke transitions AUTHORIZED -> REVOKED (§4.3 revoke).
func (c *Consent) Revoke(actor, reason string, now time.Time) error {
	if c.Status != StatusAuthorized {
		return platformerrors.BusinessRule("INVALID_STATE_TRANSITION", fmt.Sprintf("cannot revoke a consent in status %s", c.Status))
	}
	c.Status = StatusRevoked
	c.RevokedAt = now
	c.recordEvent(EventRevoked, RevokedPayload{RevokedAt: now, Actor: actor, Reason: reason}, now)
	return nil
}

// Expire transitions any non-terminal status to EXPIRED once now >= expiresAt
// (§4.3 expire).
func (c *Consent) Expire(now time.Time) error {
	if c.isTerminal() {
		return nil
	}
	if now.Before(c.ExpiresAt) {
		return platformerrors.BusinessRule("NOT_YET_EXPIRED", "consent has not reached its expiry time")
	}
	c.Status = StatusExpired
	c.recordEvent(EventExpired, ExpiredPayload{ExpiredAt: now}, now)
	return nil
}

// HasScope reports whether scope is part of the consent's immutable scope set.
func (c *Consent) HasScope(scope string) bool {
	return c.Scopes[scope]
}

// AllowsAccount reports whether accountID is part of the consent's account
// whitelist, or true if the whitelist is empty (not yet populated).
func (c *Consent) AllowsAccount(accountID string) bool {
	if len(c.AccountIDs) == 0 {
		return true
	}
	return c.AccountIDs[accountID]
}

// IsUsable reports whether the consent may currently back a use-case call:
// AUTHORIZED and not expired, belonging to the given participant.
func (c *Consent) IsUsable(participantID string, now time.Time) bool {
	return c.Status == StatusAuthorized && now.Before(c.ExpiresAt) && c.ParticipantID == participantID
}

func (c *Consent) isTerminal() bool {
	switch c.Status {
	case StatusRevoked, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

func (c *Consent) recordEvent(eventType EventType, payload any, now time.Time) {
	event := Event{
		AggregateID:    c.ConsentID,
		AggregateType:  "Consent",
		SequenceNumber: c.NextSequence(),
		EventType:      eventType,
		EventVersion:   1,
		Payload:        payload,
		OccurredAt:     now,
	}
	c.Record(event)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
