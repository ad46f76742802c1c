package webhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/pkg/logger"
)

// ErrRecipientNotFound means no recipient matches the event's message id.
var ErrRecipientNotFound = errors.New("webhook: recipient not found")

// Event is the provider's webhook payload: one event per delivery.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData carries the per-event detail fields. Only the fields relevant
// to the event type are populated.
type EventData struct {
	EmailID string       `json:"email_id"`
	To      []string     `json:"to"`
	Subject string       `json:"subject,omitempty"`
	Bounce  *BounceInfo  `json:"bounce,omitempty"`
	Failed  *FailureInfo `json:"failed,omitempty"`
	Click   *ClickInfo   `json:"click,omitempty"`
}

// BounceInfo describes a bounce. Type "Permanent" means the address is
// dead and the contact should not receive future sends.
type BounceInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	SubType string `json:"subType"`
}

// FailureInfo describes a provider-side send failure.
type FailureInfo struct {
	Reason string `json:"reason"`
}

// ClickInfo describes one link click.
type ClickInfo struct {
	Link      string    `json:"link"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
}

// RecipientStore is the recipient persistence surface the ingestor needs.
// Implementations must keep the milestone writes idempotent-friendly:
// opened_at/clicked_at are first-write-wins, the counters always add.
type RecipientStore interface {
	GetByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error)
	MarkSentAt(ctx context.Context, id string, at time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id string, status domain.RecipientStatus, reason string) error
	RecordOpen(ctx context.Context, id string, at time.Time) error
	RecordClick(ctx context.Context, id string, click domain.ClickEvent) error
}

// CommunicationStore adjusts parent aggregates when a recipient's delivery
// fails after the send was counted.
type CommunicationStore interface {
	// ApplyDeliveryFailure moves one recipient from the sent tally to the
	// failed tally (sent_count floored at zero) and recomputes the
	// aggregate status in the same write.
	ApplyDeliveryFailure(ctx context.Context, id string) error
}

// ContactStore deactivates contacts that must not receive future sends.
type ContactStore interface {
	Deactivate(ctx context.Context, id string) error
}

// Ingestor applies verified provider events to recipient and communication
// state. Status transitions go through the forward-only lattice, so
// duplicate and out-of-order deliveries cannot revert state or double-count
// the aggregate counters.
type Ingestor struct {
	recipients RecipientStore
	comms      CommunicationStore
	contacts   ContactStore
}

// NewIngestor creates a webhook event ingestor.
func NewIngestor(recipients RecipientStore, comms CommunicationStore, contacts ContactStore) *Ingestor {
	return &Ingestor{recipients: recipients, comms: comms, contacts: contacts}
}

// ProcessEvent applies one event. processed=false with a nil error means
// the event was acknowledged but did not match anything this system sent;
// the caller should still respond success so the provider stops retrying.
func (in *Ingestor) ProcessEvent(ctx context.Context, ev Event) (processed bool, err error) {
	kind, ok := domain.ParseEventKind(ev.Type)
	if !ok {
		logger.Warn("ignoring unrecognized webhook event", "type", ev.Type)
		return false, nil
	}

	if kind.IsInformational() {
		logger.Info("informational webhook event", "kind", kind, "message_id", ev.Data.EmailID)
		return true, nil
	}

	rec, err := in.recipients.GetByMessageID(ctx, ev.Data.EmailID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			// The event may reference an email this system did not send.
			return false, nil
		}
		return false, err
	}

	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch kind {
	case domain.EventOpened:
		return true, in.recipients.RecordOpen(ctx, rec.ID, at)

	case domain.EventClicked:
		click := domain.ClickEvent{Timestamp: at}
		if c := ev.Data.Click; c != nil {
			click.URL = c.Link
			click.IPAddress = c.IPAddress
			click.UserAgent = c.UserAgent
			if !c.Timestamp.IsZero() {
				click.Timestamp = c.Timestamp
			}
		}
		return true, in.recipients.RecordClick(ctx, rec.ID, click)

	case domain.EventSent:
		if _, applied := domain.ApplyEvent(rec.Status, kind); applied {
			return true, in.recipients.MarkSentAt(ctx, rec.ID, at)
		}
		return true, nil // already sent via the dispatch path

	case domain.EventDelivered:
		if _, applied := domain.ApplyEvent(rec.Status, kind); applied {
			return true, in.recipients.MarkDelivered(ctx, rec.ID, at)
		}
		return true, nil

	case domain.EventBounced, domain.EventComplained, domain.EventFailed:
		return in.applyFailure(ctx, rec, kind, ev)
	}

	return false, nil
}

// applyFailure handles bounce/complaint/failure events: recipient status,
// parent counter aggregation, and contact deactivation for dead addresses.
// The lattice guard makes the counter adjustment exactly-once per
// recipient regardless of redelivery.
func (in *Ingestor) applyFailure(ctx context.Context, rec *domain.Recipient, kind domain.EventKind, ev Event) (bool, error) {
	next, applied := domain.ApplyEvent(rec.Status, kind)
	if !applied {
		logger.Debug("stale failure event ignored",
			"kind", kind, "recipient_id", rec.ID, "status", rec.Status)
		return true, nil
	}

	if err := in.recipients.MarkDeliveryFailed(ctx, rec.ID, next, failureReason(kind, ev)); err != nil {
		return false, err
	}
	if err := in.comms.ApplyDeliveryFailure(ctx, rec.CommunicationID); err != nil {
		return false, err
	}

	if deactivates(kind, ev) && rec.ContactID != "" {
		if err := in.contacts.Deactivate(ctx, rec.ContactID); err != nil {
			// The recipient update already landed; retries of the same
			// event cannot double-count, so log and move on.
			logger.Error("deactivating contact", "contact_id", rec.ContactID, "error", err)
		}
	}
	return true, nil
}

func failureReason(kind domain.EventKind, ev Event) string {
	switch {
	case ev.Data.Bounce != nil && ev.Data.Bounce.Message != "":
		return ev.Data.Bounce.Message
	case ev.Data.Failed != nil && ev.Data.Failed.Reason != "":
		return ev.Data.Failed.Reason
	}
	return string(kind)
}

// deactivates reports whether the failure means the contact's address is
// permanently dead: any complaint, or a bounce classified Permanent.
func deactivates(kind domain.EventKind, ev Event) bool {
	if kind == domain.EventComplained {
		return true
	}
	if kind == domain.EventBounced && ev.Data.Bounce != nil {
		return strings.EqualFold(ev.Data.Bounce.Type, "permanent")
	}
	return false
}
