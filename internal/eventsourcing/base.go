// Package eventsourcing provides the small embedded aggregate base that
// every event-sourced aggregate (currently just Consent) composes rather
// than inherits from, per §9's "replace deep inheritance" design note: a
// struct exposing Record, PendingEvents, and MarkCommitted. Folding an event
// into aggregate fields is each aggregate's own apply, not part of Base.
package eventsourcing

// Base tracks uncommitted events and the last-known sequence number for an
// aggregate. Aggregates embed Base, update their own fields for a command,
// and call Record for every event that command produces. The Base itself
// carries no domain knowledge.
type Base struct {
	id       string
	sequence int
	pending  []any
}

// NewBase constructs a Base for an aggregate identified by id, rehydrated
// at the given sequence number (0 for a brand-new aggregate).
func NewBase(id string, sequence int) Base {
	return Base{id: id, sequence: sequence}
}

// ID returns the aggregate's identifier.
func (b *Base) ID() string { return b.id }

// Sequence returns the last applied sequence number.
func (b *Base) Sequence() int { return b.sequence }

// NextSequence returns the sequence number the next recorded event will
// receive.
func (b *Base) NextSequence() int { return b.sequence + 1 }

// Record advances the sequence counter and appends event to the pending
// buffer. Callers pass the already-constructed domain event (with its
// SequenceNumber already set to NextSequence()).
func (b *Base) Record(event any) {
	b.sequence++
	b.pending = append(b.pending, event)
}

// PendingEvents returns the events recorded since the last MarkCommitted.
func (b *Base) PendingEvents() []any {
	return b.pending
}

// MarkCommitted clears the pending-events buffer after the caller has
// durably persisted them (consent.Repository.Save calls it once its
// event-store transaction commits).
func (b *Base) MarkCommitted() {
	b.pending = nil
}
