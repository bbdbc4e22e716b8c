package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/service/ledger"
)

// MailRepo implements ledger.Repository against PostgreSQL.
type MailRepo struct{ db *sql.DB }

// NewMailRepo creates a Postgres-backed delivery ledger repository.
func NewMailRepo(db *sql.DB) *MailRepo { return &MailRepo{db: db} }

const mailColumns = `id, attempt_key, contact_id, campaign_id, status, time_send,
	is_open, opened_at, error, created_at, updated_at`

func scanMail(row rowScanner) (*domain.Mail, error) {
	var (
		m          domain.Mail
		campaignID sql.NullString
		timeSend   sql.NullTime
		openedAt   sql.NullTime
	)
	if err := row.Scan(
		&m.ID, &m.AttemptKey, &m.ContactID, &campaignID, &m.Status, &timeSend,
		&m.IsOpen, &openedAt, &m.Error, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if campaignID.Valid {
		m.CampaignID = &campaignID.String
	}
	if timeSend.Valid {
		m.TimeSend = &timeSend.Time
	}
	if openedAt.Valid {
		m.OpenedAt = &openedAt.Time
	}
	return &m, nil
}

// CreateAttempt relies on the unique attempt_key: a conflicting insert
// touches the existing row so RETURNING yields it unchanged.
func (r *MailRepo) CreateAttempt(ctx context.Context, m *domain.Mail) (*domain.Mail, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	out, err := scanMail(r.db.QueryRowContext(ctx, `
		INSERT INTO mails (id, attempt_key, contact_id, campaign_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (attempt_key) DO UPDATE SET attempt_key = EXCLUDED.attempt_key
		RETURNING `+mailColumns,
		m.ID, m.AttemptKey, m.ContactID, m.CampaignID, m.Status))
	if err != nil {
		return nil, fmt.Errorf("insert mail: %w", err)
	}
	return out, nil
}

func (r *MailRepo) Get(ctx context.Context, id string) (*domain.Mail, error) {
	m, err := scanMail(r.db.QueryRowContext(ctx,
		`SELECT `+mailColumns+` FROM mails WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mail: %w", err)
	}
	return m, nil
}

func (r *MailRepo) List(ctx context.Context, f ledger.ListFilter) ([]domain.Mail, int, error) {
	var w where
	if f.ContactID != "" {
		w.add("contact_id = $%d", f.ContactID)
	}
	if f.CampaignID != "" {
		w.add("campaign_id = $%d", f.CampaignID)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mails`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mails: %w", err)
	}

	idx := w.next()
	q := `SELECT ` + mailColumns + ` FROM mails` + w.String() +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args := append(w.args, pageLimit(f.Limit), f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mails: %w", err)
	}
	defer rows.Close()

	out := []domain.Mail{}
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan mail: %w", err)
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

func (r *MailRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mail: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (r *MailRepo) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mails SET time_send = $2, status = 'sent', error = '', updated_at = NOW()
		WHERE id = $1 AND time_send IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *MailRepo) MarkOpened(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mails SET is_open = TRUE, opened_at = COALESCE(opened_at, $2), updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark opened: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (r *MailRepo) SetStatus(ctx context.Context, id string, status domain.MailStatus, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mails SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND time_send IS NULL
	`, id, status, reason)
	if err != nil {
		return false, fmt.Errorf("set mail status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *MailRepo) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mails WHERE time_send >= $1`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}

func (r *MailRepo) Progress(ctx context.Context, campaignID string) (domain.MailProgress, error) {
	var p domain.MailProgress
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'deferred'),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE is_open)
		FROM mails WHERE campaign_id = $1
	`, campaignID).Scan(&p.Total, &p.Pending, &p.Deferred, &p.Sent, &p.Failed, &p.Opened)
	if err != nil {
		return domain.MailProgress{}, fmt.Errorf("mail progress: %w", err)
	}
	return p, nil
}
