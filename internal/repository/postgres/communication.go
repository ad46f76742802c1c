// Package postgres implements the persistence interfaces declared by the
// service, scheduler, and webhook packages against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/service/communication"
)

// CommunicationRepo implements communication.Repository, scheduler.Store,
// and webhook.CommunicationStore against PostgreSQL.
type CommunicationRepo struct{ db *sql.DB }

// NewCommunicationRepo creates a Postgres-backed communication repository.
func NewCommunicationRepo(db *sql.DB) *CommunicationRepo { return &CommunicationRepo{db: db} }

const communicationColumns = `
	id, subject, COALESCE(html_body,''), COALESCE(text_body,''),
	COALESCE(from_name,''), COALESCE(from_email,''), status, scheduled_at,
	recipient_count, sent_count, failed_count, sent_at, created_at, updated_at
`

func scanCommunication(row interface{ Scan(...interface{}) error }) (*domain.Communication, error) {
	c := &domain.Communication{}
	var scheduledAt, sentAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Subject, &c.HTMLBody, &c.TextBody,
		&c.FromName, &c.FromEmail, &c.Status, &scheduledAt,
		&c.RecipientCount, &c.SentCount, &c.FailedCount, &sentAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	return c, nil
}

func (r *CommunicationRepo) Get(ctx context.Context, id string) (*domain.Communication, error) {
	c, err := scanCommunication(r.db.QueryRowContext(ctx, `
		SELECT `+communicationColumns+`
		FROM communications
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, communication.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get communication: %w", err)
	}
	return c, nil
}

// ClaimSending is the mutual-exclusion point for "is a send in progress":
// the conditional update succeeds for exactly one caller.
func (r *CommunicationRepo) ClaimSending(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET status = 'sending', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('sending','completed')
	`, id)
	if err != nil {
		return fmt.Errorf("claim sending: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the claim or the id is unknown; report which.
		c, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Status == domain.CommunicationCompleted {
			return communication.ErrAlreadyCompleted
		}
		return communication.ErrAlreadySending
	}
	return nil
}

// ReleaseClaim reverts an orphaned sending claim so the communication
// can be triggered again. Conditional on sending; zero rows affected is
// fine, the status already moved on.
func (r *CommunicationRepo) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, id)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (r *CommunicationRepo) UpdateCounters(ctx context.Context, id string, sent, failed int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET sent_count = $2, failed_count = $3, updated_at = NOW()
		WHERE id = $1
	`, id, sent, failed)
	if err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}

func (r *CommunicationRepo) Finalize(ctx context.Context, id string, status domain.CommunicationStatus, sent, failed int, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET status = $2, sent_count = $3, failed_count = $4, sent_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, status, sent, failed, sentAt)
	if err != nil {
		return fmt.Errorf("finalize communication: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}

func (r *CommunicationRepo) DueScheduled(ctx context.Context, now time.Time) ([]domain.Communication, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+communicationColumns+`
		FROM communications
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()

	var out []domain.Communication
	for rows.Next() {
		c, err := scanCommunication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan communication: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ClaimPending moves scheduled -> pending. Zero rows means another worker
// won the race or the communication left the scheduled state.
func (r *CommunicationRepo) ClaimPending(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`, id)
	if err != nil {
		return fmt.Errorf("claim pending: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}

// RollbackToScheduled undoes a scheduler claim. Conditional on pending so
// a rollback never disturbs a send that already took ownership.
func (r *CommunicationRepo) RollbackToScheduled(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET status = 'scheduled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("rollback to scheduled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}

// ApplyDeliveryFailure moves one recipient from the sent tally to the
// failed tally in a single statement, recomputing the aggregate status
// when the communication is already terminal. An in-flight send keeps its
// status; the orchestrator's Finalize owns that transition.
func (r *CommunicationRepo) ApplyDeliveryFailure(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communications
		SET sent_count = GREATEST(sent_count - 1, 0),
		    failed_count = failed_count + 1,
		    status = CASE
		        WHEN status IN ('completed','partially_failed','failed') THEN
		            CASE WHEN GREATEST(sent_count - 1, 0) = 0
		                 THEN 'failed' ELSE 'partially_failed' END
		        ELSE status
		    END,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("apply delivery failure: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}
