package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/service/ledger"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var mailCols = []string{"id", "attempt_key", "contact_id", "campaign_id", "status", "time_send",
	"is_open", "opened_at", "error", "created_at", "updated_at"}

func TestMailRepo_CreateAttemptReturnsExisting(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	now := time.Now()
	campaignID := "camp-1"
	mock.ExpectQuery(`INSERT INTO mails .* ON CONFLICT \(attempt_key\) DO UPDATE`).
		WithArgs("new-id", "task-1", "contact-1", &campaignID, domain.MailPending).
		WillReturnRows(sqlmock.NewRows(mailCols).AddRow(
			"existing-id", "task-1", "contact-1", "camp-1", "sent", now,
			false, nil, "", now, now))

	m, err := repo.CreateAttempt(context.Background(), &domain.Mail{
		ID: "new-id", AttemptKey: "task-1", ContactID: "contact-1",
		CampaignID: &campaignID, Status: domain.MailPending,
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-id", m.ID)
	assert.Equal(t, domain.MailSent, m.Status)
	require.NotNil(t, m.CampaignID)
	assert.Equal(t, "camp-1", *m.CampaignID)
	assert.True(t, m.IsSent())
	assert.Nil(t, m.OpenedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_GetNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	mock.ExpectQuery(`SELECT .* FROM mails WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_MarkSentOnlyOnce(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	at := time.Now()
	mock.ExpectExec(`UPDATE mails SET time_send = \$2, status = 'sent'.*WHERE id = \$1 AND time_send IS NULL`).
		WithArgs("m1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE mails SET time_send`).
		WithArgs("m1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.MarkSent(context.Background(), "m1", at)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkSent(context.Background(), "m1", at)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_MarkOpened(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	mock.ExpectExec(`UPDATE mails SET is_open = TRUE, opened_at = COALESCE\(opened_at, \$2\)`).
		WithArgs("m1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE mails SET is_open = TRUE`).
		WithArgs("gone", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkOpened(context.Background(), "m1", time.Now()))
	assert.ErrorIs(t, repo.MarkOpened(context.Background(), "gone", time.Now()), ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_SetStatusSkipsSent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	mock.ExpectExec(`UPDATE mails SET status = \$2, error = \$3.*time_send IS NULL`).
		WithArgs("m1", domain.MailFailed, "boom").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.SetStatus(context.Background(), "m1", domain.MailFailed, "boom")
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_CountSentSince(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM mails WHERE time_send >= \$1`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(399))

	n, err := repo.CountSentSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 399, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_Progress(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	mock.ExpectQuery(`FILTER \(WHERE status = 'pending'\)`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "deferred", "sent", "failed", "opened"}).
			AddRow(10, 2, 1, 6, 1, 3))

	p, err := repo.Progress(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MailProgress{Total: 10, Pending: 2, Deferred: 1, Sent: 6, Failed: 1, Opened: 3}, p)

	openRate, sendRate := p.Rates()
	assert.InDelta(t, 0.3, openRate, 1e-9)
	assert.InDelta(t, 0.6, sendRate, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMailRepo_ListFilters(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewMailRepo(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM mails WHERE contact_id = \$1 AND campaign_id = \$2`).
		WithArgs("c1", "camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM mails WHERE contact_id = \$1 AND campaign_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("c1", "camp-1", MaxLimit, 0).
		WillReturnRows(sqlmock.NewRows(mailCols).AddRow(
			"m1", "task-1", "c1", nil, "pending", nil, false, nil, "", now, now))

	out, total, err := repo.List(context.Background(), ledger.ListFilter{ContactID: "c1", CampaignID: "camp-1", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].CampaignID)
	assert.False(t, out[0].IsSent())
	require.NoError(t, mock.ExpectationsWereMet())
}
