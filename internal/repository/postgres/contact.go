package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aixr/awards-mailer/internal/service/communication"
)

// ContactRepo implements webhook.ContactStore against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// Deactivate flags a contact so future communications skip it. Called for
// permanent bounces and complaints; repeat calls are harmless.
func (r *ContactRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET active = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate contact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}
