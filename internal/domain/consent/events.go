package consent

import "time"

// EventType enumerates the domain events a Consent aggregate can emit.
type EventType string

const (
	EventCreated    EventType = "ConsentCreated"
	EventAuthorized EventType = "ConsentAuthorized"
	EventRejected   EventType = "ConsentRejected"
	EventUsed       EventType = "ConsentUsed"
	EventRevoked    EventType = "ConsentRevoked"
	EventExpired    EventType = "ConsentExpired"
)

// Event is the immutable, versioned record appended to the event store for
// a single Consent aggregate (§3 ConsentEvent, §6.3 event envelope).
type Event struct {
	EventID        string
	AggregateID    string
	AggregateType  string
	SequenceNumber int
	EventType      EventType
	EventVersion   int
	Payload        any
	OccurredAt     time.Time
	CorrelationID  string
	CausationID    string
}

// CreatedPayload is carried by a ConsentCreated event.
type CreatedPayload struct {
	CustomerID    string
	ParticipantID string
	Scopes        []string
	Purpose       string
	ExpiresAt     time.Time
}

// AuthorizedPayload is carried by a ConsentAuthorized event. AccountIDs
// populates the immutable account whitelist (SPEC_FULL Open Question #4).
type AuthorizedPayload struct {
	AuthorizedAt time.Time
	AccountIDs   []string
}

// RejectedPayload is carried by a ConsentRejected event.
type RejectedPayload struct {
	Reason string
}

// UsedPayload is carried by a ConsentUsed event.
type UsedPayload struct {
	AccessedAt time.Time
	AccountID  string
	Operation  string
}

// RevokedPayload is carried by a ConsentRevoked event.
type RevokedPayload struct {
	RevokedAt time.Time
	Actor     string
	Reason    string
}

// ExpiredPayload is carried by a ConsentExpired event.
type ExpiredPayload struct {
	ExpiredAt time.Time
}
