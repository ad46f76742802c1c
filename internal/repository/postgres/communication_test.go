package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/service/communication"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func communicationRows(id string, status domain.CommunicationStatus, sent, failed int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "subject", "html_body", "text_body",
		"from_name", "from_email", "status", "scheduled_at",
		"recipient_count", "sent_count", "failed_count", "sent_at",
		"created_at", "updated_at",
	}).AddRow(id, "Shortlist announcement", "<p>Hi {{first_name}}</p>", "",
		"Awards Team", "team@awards.example", status, nil,
		sent+failed, sent, failed, nil, now, now)
}

func TestCommunicationGet(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM communications").
		WithArgs("comm-1").
		WillReturnRows(communicationRows("comm-1", domain.CommunicationPending, 0, 0))

	c, err := repo.Get(context.Background(), "comm-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.ID != "comm-1" || c.Status != domain.CommunicationPending {
		t.Fatalf("got %+v", c)
	}
	if c.ScheduledAt != nil || c.SentAt != nil {
		t.Fatal("null timestamps must map to nil pointers")
	}
}

func TestCommunicationGetNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM communications").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); err != communication.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimSending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ClaimSending(context.Background(), "comm-1"); err != nil {
		t.Fatalf("ClaimSending: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimSendingConflict(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	// No row matched the conditional update; the follow-up read explains why.
	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM communications").
		WithArgs("comm-1").
		WillReturnRows(communicationRows("comm-1", domain.CommunicationSending, 10, 0))

	if err := repo.ClaimSending(context.Background(), "comm-1"); err != communication.ErrAlreadySending {
		t.Fatalf("err = %v, want ErrAlreadySending", err)
	}

	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM communications").
		WithArgs("comm-1").
		WillReturnRows(communicationRows("comm-1", domain.CommunicationCompleted, 10, 0))

	if err := repo.ClaimSending(context.Background(), "comm-1"); err != communication.ErrAlreadyCompleted {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestReleaseClaim(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ReleaseClaim(context.Background(), "comm-1"); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
}

func TestReleaseClaimStatusMovedOn(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	// Zero rows: the communication left the sending state already.
	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ReleaseClaim(context.Background(), "comm-1"); err != nil {
		t.Fatalf("ReleaseClaim on moved-on status: %v", err)
	}
}

func TestFinalize(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	sentAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1", string(domain.CommunicationPartiallyFailed), 45, 5, sentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Finalize(context.Background(), "comm-1", domain.CommunicationPartiallyFailed, 45, 5, sentAt)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDueScheduled(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	now := time.Now().UTC()
	rows := communicationRows("comm-1", domain.CommunicationScheduled, 0, 0)
	mock.ExpectQuery("SELECT (.+) FROM communications").
		WithArgs(now).
		WillReturnRows(rows)

	due, err := repo.DueScheduled(context.Background(), now)
	if err != nil {
		t.Fatalf("DueScheduled: %v", err)
	}
	if len(due) != 1 || due[0].ID != "comm-1" {
		t.Fatalf("due = %+v", due)
	}
}

func TestClaimPendingLostRace(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ClaimPending(context.Background(), "comm-1"); err != communication.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyDeliveryFailure(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCommunicationRepo(db)

	mock.ExpectExec("UPDATE communications").
		WithArgs("comm-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ApplyDeliveryFailure(context.Background(), "comm-1"); err != nil {
		t.Fatalf("ApplyDeliveryFailure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
