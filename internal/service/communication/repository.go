package communication

import (
	"context"
	"time"

	"github.com/aixr/awards-mailer/internal/dispatch"
	"github.com/aixr/awards-mailer/internal/domain"
)

// Repository defines the data access contract for communications.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single communication. Returns ErrNotFound if it
	// doesn't exist.
	Get(ctx context.Context, id string) (*domain.Communication, error)

	// ClaimSending conditionally transitions the communication to
	// sending. Returns ErrAlreadySending if another sender holds the
	// claim (the update matched no row because the status was already
	// sending or completed).
	ClaimSending(ctx context.Context, id string) error

	// ReleaseClaim reverts a sending claim back to pending. Called when
	// the claim landed but the batch loop could not start, so a later
	// trigger can retry instead of seeing a permanent conflict.
	ReleaseClaim(ctx context.Context, id string) error

	// UpdateCounters persists the running sent/failed totals. Called
	// after every batch so a crash mid-campaign leaves accurate partial
	// counts.
	UpdateCounters(ctx context.Context, id string, sent, failed int) error

	// Finalize records the campaign outcome and stamps sent_at.
	Finalize(ctx context.Context, id string, status domain.CommunicationStatus, sent, failed int, sentAt time.Time) error
}

// RecipientRepository is the recipient access the orchestrator needs.
type RecipientRepository interface {
	// ListPending returns the communication's pending recipients with
	// contact fields joined, in stable order.
	ListPending(ctx context.Context, communicationID string) ([]domain.Recipient, error)

	// MarkFailed resolves a recipient as failed with a diagnostic. Used
	// directly by the service only when a whole batch attempt errors
	// outside the dispatcher.
	MarkFailed(ctx context.Context, id, reason string) error
}

// Dispatcher submits one chunk of recipients to the transport and
// resolves each recipient's status from the per-item result.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, comm *domain.Communication, batch []domain.Recipient) (dispatch.BatchStats, error)
}

// Pacer enforces the inter-batch delay.
type Pacer interface {
	Wait(ctx context.Context)
}
