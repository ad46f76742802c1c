package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/webhook"
)

// RecipientRepo implements the recipient persistence interfaces used by
// the dispatcher (communication.RecipientRepository, dispatch
// RecipientWriter) and the webhook ingestor (webhook.RecipientStore).
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

// ListPending returns the communication's pending recipients joined with
// their contact fields, in stable order.
func (r *RecipientRepo) ListPending(ctx context.Context, communicationID string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.communication_id, r.contact_id, r.status,
		       COALESCE(r.unsubscribe_token,''),
		       c.email, COALESCE(c.first_name,''), COALESCE(c.last_name,''),
		       COALESCE(c.organization,'')
		FROM communication_recipients r
		JOIN contacts c ON c.id = r.contact_id
		WHERE r.communication_id = $1 AND r.status = 'pending'
		ORDER BY r.id
	`, communicationID)
	if err != nil {
		return nil, fmt.Errorf("list pending recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.CommunicationID, &rec.ContactID, &rec.Status,
			&rec.UnsubscribeToken,
			&rec.Email, &rec.FirstName, &rec.LastName, &rec.Organization,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSent resolves a recipient the transport accepted. Conditional on
// pending: an already-resolved recipient is left alone.
func (r *RecipientRepo) MarkSent(ctx context.Context, id, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET status = 'sent', provider_message_id = $2, sent_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, messageID, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed resolves a recipient as failed with a diagnostic. Conditional
// on pending so a late failure mark never clobbers a sent recipient.
func (r *RecipientRepo) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *RecipientRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	var openedAt, clickedAt, sentAt, deliveredAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, communication_id, contact_id, status,
		       COALESCE(provider_message_id,''), open_count, click_count,
		       opened_at, clicked_at, sent_at, delivered_at,
		       COALESCE(error_message,''), created_at
		FROM communication_recipients
		WHERE provider_message_id = $1
	`, messageID).Scan(
		&rec.ID, &rec.CommunicationID, &rec.ContactID, &rec.Status,
		&rec.ProviderMessageID, &rec.OpenCount, &rec.ClickCount,
		&openedAt, &clickedAt, &sentAt, &deliveredAt,
		&rec.ErrorMessage, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, webhook.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient by message id: %w", err)
	}
	if openedAt.Valid {
		rec.OpenedAt = &openedAt.Time
	}
	if clickedAt.Valid {
		rec.ClickedAt = &clickedAt.Time
	}
	if sentAt.Valid {
		rec.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		rec.DeliveredAt = &deliveredAt.Time
	}
	return rec, nil
}

// MarkSentAt applies a provider sent event to a still-pending recipient.
func (r *RecipientRepo) MarkSentAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET status = 'sent', sent_at = COALESCE(sent_at, $2)
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark sent at: %w", err)
	}
	return nil
}

// MarkDelivered advances a recipient to delivered. The status guard
// mirrors the lattice so a concurrent bounce cannot be reverted.
func (r *RecipientRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET status = 'delivered', delivered_at = COALESCE(delivered_at, $2)
		WHERE id = $1 AND status IN ('pending','sent')
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkDeliveryFailed records a bounce or provider failure with its
// diagnostic. Terminal statuses are never overwritten.
func (r *RecipientRepo) MarkDeliveryFailed(ctx context.Context, id string, status domain.RecipientStatus, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET status = $2, error_message = $3
		WHERE id = $1 AND status IN ('pending','sent','delivered')
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// RecordOpen increments the open counter on every event and stamps
// opened_at on the first one only.
func (r *RecipientRepo) RecordOpen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET open_count = open_count + 1, opened_at = COALESCE(opened_at, $2)
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	return nil
}

// RecordClick appends the click to the recipient's history and increments
// the counter. Clicks are additive, never deduplicated.
func (r *RecipientRepo) RecordClick(ctx context.Context, id string, click domain.ClickEvent) error {
	payload, err := json.Marshal(click)
	if err != nil {
		return fmt.Errorf("marshal click: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE communication_recipients
		SET click_count = click_count + 1,
		    clicked_at = COALESCE(clicked_at, $2),
		    click_events = COALESCE(click_events, '[]'::jsonb) || $3::jsonb
		WHERE id = $1
	`, id, click.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}
