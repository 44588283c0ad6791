package consent

import (
	"time"

	"github.com/R3E-Network/service_layer/internal/eventsourcing"
)

// Snapshot is a point-in-time capture of a Consent's fields, persisted every
// settings.SnapshotInterval events (N in [50,200], §4.3) so that rehydration
// need not replay the full event stream.
type Snapshot struct {
	ConsentID      string
	SequenceNumber int
	CustomerID     string
	ParticipantID  string
	Scopes         []string
	Purpose        string
	Status         Status
	CreatedAt      time.Time
	AuthorizedAt   time.Time
	ExpiresAt      time.Time
	RevokedAt      time.Time
	AccountIDs     []string
	UsageHistory   []Usage
	CreatedAtWall  time.Time
}

// ToSnapshot captures the current state of the aggregate for persistence.
func (c *Consent) ToSnapshot() Snapshot {
	return Snapshot{
		ConsentID:      c.ConsentID,
		SequenceNumber: c.Sequence(),
		CustomerID:     c.CustomerID,
		ParticipantID:  c.ParticipantID,
		Scopes:         fromSet(c.Scopes),
		Purpose:        c.Purpose,
		Status:         c.Status,
		CreatedAt:      c.CreatedAt,
		AuthorizedAt:   c.AuthorizedAt,
		ExpiresAt:      c.ExpiresAt,
		RevokedAt:      c.RevokedAt,
		AccountIDs:     fromSet(c.AccountIDs),
		UsageHistory:   append([]Usage(nil), c.UsageHistory...),
	}
}

func (s *Snapshot) toConsent() *Consent {
	c := &Consent{
		Base:          eventsourcing.NewBase(s.ConsentID, s.SequenceNumber),
		ConsentID:     s.ConsentID,
		CustomerID:    s.CustomerID,
		ParticipantID: s.ParticipantID,
		Scopes:        toSet(s.Scopes),
		Purpose:       s.Purpose,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		AuthorizedAt:  s.AuthorizedAt,
		ExpiresAt:     s.ExpiresAt,
		RevokedAt:     s.RevokedAt,
		AccountIDs:    toSet(s.AccountIDs),
		UsageHistory:  append([]Usage(nil), s.UsageHistory...),
	}
	return c
}

func fromSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
