package domain

import "time"

// RecipientStatus enumerates the delivery lifecycle of a single recipient.
// Transitions follow a forward-only lattice:
//
//	pending -> sent -> delivered | bounced | failed
//
// bounced and failed are terminal. delivered is not terminal: opens and
// clicks may still arrive for a delivered recipient. Opens and clicks are
// milestones, not statuses; they never move a recipient along the lattice.
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientBounced   RecipientStatus = "bounced"
	RecipientFailed    RecipientStatus = "failed"
)

// statusRank orders the lattice. An event may only move a recipient to a
// strictly higher rank; anything else is ignored, not applied.
var statusRank = map[RecipientStatus]int{
	RecipientPending:   0,
	RecipientSent:      1,
	RecipientDelivered: 2,
	RecipientBounced:   3,
	RecipientFailed:    3,
}

// Rank returns the lattice position for a status. Unknown statuses rank
// below pending so a corrupt row never blocks a legitimate transition.
func (s RecipientStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal returns true if no further status transition is possible.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientBounced || s == RecipientFailed
}

// ClickEvent records one link click. Clicks accumulate; they are never
// deduplicated or overwritten.
type ClickEvent struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Recipient is the per-contact delivery record for one communication.
// Rows are created in bulk at communication-creation time with status
// pending, mutated by the dispatcher (pending -> sent/failed) and by the
// webhook ingestor, and deleted only by cascade from the parent
// communication.
type Recipient struct {
	ID              string          `json:"id" db:"id"`
	CommunicationID string          `json:"communication_id" db:"communication_id"`
	ContactID       string          `json:"contact_id" db:"contact_id"`
	Status          RecipientStatus `json:"status" db:"status"`

	// Contact join fields, populated when recipients are fetched for
	// dispatch. Not written back to the recipient row.
	Email        string `json:"email" db:"email"`
	FirstName    string `json:"first_name" db:"first_name"`
	LastName     string `json:"last_name" db:"last_name"`
	Organization string `json:"organization" db:"organization"`

	// UnsubscribeToken is the recipient's unique token used to build the
	// unsubscribe URL injected into the rendered message.
	UnsubscribeToken string `json:"unsubscribe_token" db:"unsubscribe_token"`

	// ProviderMessageID is assigned once the transport accepts the item
	// and is the join key for all later webhook events. Until assigned,
	// the recipient cannot receive async events.
	ProviderMessageID string `json:"provider_message_id" db:"provider_message_id"`

	OpenCount   int          `json:"open_count" db:"open_count"`
	ClickCount  int          `json:"click_count" db:"click_count"`
	ClickEvents []ClickEvent `json:"click_events" db:"click_events"`

	OpenedAt    *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at" db:"clicked_at"`
	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at" db:"delivered_at"`

	ErrorMessage string    `json:"error_message" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FullName joins the contact name fields for template substitution.
func (r *Recipient) FullName() string {
	switch {
	case r.FirstName != "" && r.LastName != "":
		return r.FirstName + " " + r.LastName
	case r.FirstName != "":
		return r.FirstName
	default:
		return r.LastName
	}
}
