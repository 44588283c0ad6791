package consent

import (
	"fmt"
	"time"

	"github.com/R3E-Network/service_layer/internal/eventsourcing"
)

// Rehydrate folds a snapshot (may be nil) plus a tail of events onto a fresh
// Consent, in sequence order, reproducing the §4.3 persistence contract:
// "rehydrated from the latest snapshot plus events with sequence >
// snapshot.sequence". The result is structurally equal to an aggregate built
// by replaying its full event stream (§8 round-trip law).
func Rehydrate(snapshot *Snapshot, events []Event) (*Consent, error) {
	var c *Consent
	if snapshot != nil {
		c = snapshot.toConsent()
	}

	for _, e := range events {
		if c == nil {
			if e.EventType != EventCreated {
				return nil, fmt.Errorf("consent: first event must be ConsentCreated, got %s", e.EventType)
			}
			payload, ok := e.Payload.(CreatedPayload)
			if !ok {
				return nil, fmt.Errorf("consent: malformed ConsentCreated payload")
			}
			c = newFromCreated(e.AggregateID, payload, e.OccurredAt)
			continue
		}
		if err := c.apply(e); err != nil {
			return nil, err
		}
	}

	if c != nil {
		c.MarkCommitted()
	}
	return c, nil
}

func newFromCreated(id string, p CreatedPayload, occurredAt time.Time) *Consent {
	c := &Consent{
		Base:          eventsourcing.NewBase(id, 1),
		ConsentID:     id,
		CustomerID:    p.CustomerID,
		ParticipantID: p.ParticipantID,
		Scopes:        toSet(p.Scopes),
		Purpose:       p.Purpose,
		Status:        StatusPending,
		CreatedAt:     occurredAt,
		ExpiresAt:     p.ExpiresAt,
		AccountIDs:    map[string]bool{},
	}
	return c
}

// apply folds a single already-appended event onto the aggregate's fields
// without re-validating preconditions (those were checked at command time);
// it is used purely for replay/rehydration.
func (c *Consent) apply(e Event) error {
	switch e.EventType {
	case EventAuthorized:
		p := e.Payload.(AuthorizedPayload)
		c.Status = StatusAuthorized
		c.AuthorizedAt = p.AuthorizedAt
		for _, id := range p.AccountIDs {
			c.AccountIDs[id] = true
		}
	case EventRejected:
		c.Status = StatusRejected
	case EventUsed:
		p := e.Payload.(UsedPayload)
		c.UsageHistory = append(c.UsageHistory, Usage{AccessedAt: p.AccessedAt, AccountID: p.AccountID, Operation: p.Operation})
	case EventRevoked:
		p := e.Payload.(RevokedPayload)
		c.Status = StatusRevoked
		c.RevokedAt = p.RevokedAt
	case EventExpired:
		c.Status = StatusExpired
	default:
		return fmt.Errorf("consent: unknown event type %s", e.EventType)
	}
	c.Base.Record(e)
	return nil
}
