package domain

import (
	"time"
)

// CommunicationStatus enumerates the lifecycle states of a communication.
// The lifecycle is monotonic except for a controlled rollback from pending
// back to scheduled when the send trigger fails before the orchestrator
// claims ownership.
type CommunicationStatus string

const (
	CommunicationDraft           CommunicationStatus = "draft"
	CommunicationScheduled       CommunicationStatus = "scheduled"
	CommunicationPending         CommunicationStatus = "pending"
	CommunicationSending         CommunicationStatus = "sending"
	CommunicationCompleted       CommunicationStatus = "completed"
	CommunicationPartiallyFailed CommunicationStatus = "partially_failed"
	CommunicationFailed          CommunicationStatus = "failed"
)

// Communication represents one email campaign: subject, body with
// placeholder tokens, schedule, and aggregate delivery counters.
type Communication struct {
	ID             string              `json:"id" db:"id"`
	Subject        string              `json:"subject" db:"subject"`
	HTMLBody       string              `json:"html_body" db:"html_body"`
	TextBody       string              `json:"text_body" db:"text_body"`
	FromName       string              `json:"from_name" db:"from_name"`
	FromEmail      string              `json:"from_email" db:"from_email"`
	Status         CommunicationStatus `json:"status" db:"status"`
	ScheduledAt    *time.Time          `json:"scheduled_at" db:"scheduled_at"`
	RecipientCount int                 `json:"recipient_count" db:"recipient_count"`
	SentCount      int                 `json:"sent_count" db:"sent_count"`
	FailedCount    int                 `json:"failed_count" db:"failed_count"`
	SentAt         *time.Time          `json:"sent_at" db:"sent_at"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the communication is in a final state.
func (c *Communication) IsTerminal() bool {
	return c.Status == CommunicationCompleted ||
		c.Status == CommunicationPartiallyFailed ||
		c.Status == CommunicationFailed
}

// FinalStatus computes the overall campaign outcome once all batches have
// been processed: completed when nothing failed, failed when nothing was
// sent, partially_failed otherwise.
func FinalStatus(sent, failed int) CommunicationStatus {
	switch {
	case failed == 0:
		return CommunicationCompleted
	case sent == 0:
		return CommunicationFailed
	default:
		return CommunicationPartiallyFailed
	}
}

// FailureStatus recomputes the aggregate status after a delivery failure
// event (bounce, complaint, provider failure) has adjusted the counters.
func FailureStatus(sentCount int) CommunicationStatus {
	if sentCount == 0 {
		return CommunicationFailed
	}
	return CommunicationPartiallyFailed
}
