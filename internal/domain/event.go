package domain

import "strings"

// EventKind identifies a provider webhook event about a previously sent
// message.
type EventKind string

const (
	EventSent            EventKind = "sent"
	EventDelivered       EventKind = "delivered"
	EventBounced         EventKind = "bounced"
	EventComplained      EventKind = "complained"
	EventOpened          EventKind = "opened"
	EventClicked         EventKind = "clicked"
	EventFailed          EventKind = "failed"
	EventDeliveryDelayed EventKind = "delivery_delayed"
	EventScheduled       EventKind = "scheduled"
	EventReceived        EventKind = "received"
)

// ParseEventKind maps a wire event type to an EventKind. The provider
// prefixes types with "email." (email.delivered, email.bounced, ...);
// bare kinds are accepted too.
func ParseEventKind(s string) (EventKind, bool) {
	k := EventKind(strings.TrimPrefix(s, "email."))
	switch k {
	case EventSent, EventDelivered, EventBounced, EventComplained,
		EventOpened, EventClicked, EventFailed,
		EventDeliveryDelayed, EventScheduled, EventReceived:
		return k, true
	}
	return "", false
}

// IsDeliveryFailure reports whether the event counts against the parent
// communication's aggregate counters.
func (k EventKind) IsDeliveryFailure() bool {
	return k == EventBounced || k == EventComplained || k == EventFailed
}

// IsInformational reports whether the event is logged without any state
// mutation. The system manages its own scheduling and does not process
// inbound mail.
func (k EventKind) IsInformational() bool {
	return k == EventDeliveryDelayed || k == EventScheduled || k == EventReceived
}

// statusTarget returns the recipient status the event implies, if any.
// Opens and clicks imply no status: they are milestones.
func (k EventKind) statusTarget() (RecipientStatus, bool) {
	switch k {
	case EventSent:
		return RecipientSent, true
	case EventDelivered:
		return RecipientDelivered, true
	case EventBounced, EventComplained:
		return RecipientBounced, true
	case EventFailed:
		return RecipientFailed, true
	}
	return "", false
}

// ApplyEvent resolves the forward-only status lattice: it returns the
// recipient status after applying the event, and whether the event made
// forward progress. An event implying a state at or below the current one
// is ignored (applied=false, next=current), which makes duplicate and
// out-of-order deliveries idempotent for status transitions.
func ApplyEvent(current RecipientStatus, kind EventKind) (next RecipientStatus, applied bool) {
	target, ok := kind.statusTarget()
	if !ok {
		return current, false
	}
	if target.Rank() <= current.Rank() {
		return current, false
	}
	return target, true
}
