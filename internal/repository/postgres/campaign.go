package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	c.id, c.name, c.subject, c.sender_name, c.html_template, c.started, c.started_at,
	(SELECT COUNT(*) FROM campaign_contacts cc WHERE cc.campaign_id = c.id),
	c.created_at, c.updated_at`

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c         domain.Campaign
		startedAt sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.SenderName, &c.HTMLTemplate, &c.Started, &startedAt,
		&c.ContactCount, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	var w where
	if f.Started != nil {
		w.add("c.started = $%d", *f.Started)
	}
	if f.Search != "" {
		w.add("c.name ILIKE $%d", "%"+f.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns c`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	idx := w.next()
	q := `SELECT ` + campaignColumns + ` FROM campaigns c` + w.String() +
		fmt.Sprintf(" ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args := append(w.args, pageLimit(f.Limit), f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign, contactIDs []string) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, subject, sender_name, html_template, started, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.SenderName, c.HTMLTemplate); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	if err := addMembers(ctx, tx, c.ID, contactIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// addMembers links existing contacts to the campaign. Ids that match no
// contact are skipped.
func addMembers(ctx context.Context, tx *sql.Tx, campaignID string, contactIDs []string) error {
	if len(contactIDs) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_contacts (campaign_id, contact_id)
		SELECT $1, ct.id FROM contacts ct WHERE ct.id::text = ANY($2)
		ON CONFLICT DO NOTHING
	`, campaignID, pq.Array(contactIDs)); err != nil {
		return fmt.Errorf("add campaign contacts: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.SenderName != nil {
		add("sender_name", *u.SenderName)
	}
	if u.HTMLTemplate != nil {
		add("html_template", *u.HTMLTemplate)
	}
	sets = append(sets, "updated_at = NOW()")

	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d", joinComma(sets), idx)
	args = append(args, id)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}

	if len(u.RemoveContactIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM campaign_contacts
			WHERE campaign_id = $1 AND contact_id::text = ANY($2)
		`, id, pq.Array(u.RemoveContactIDs)); err != nil {
			return fmt.Errorf("remove campaign contacts: %w", err)
		}
	}
	if err := addMembers(ctx, tx, id, u.AddContactIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// Claim runs the start claim in one transaction. The campaign row is
// locked with FOR UPDATE, so a concurrent claim waits here and then sees
// started = true.
func (r *CampaignRepo) Claim(ctx context.Context, id string, at time.Time, newAttempt func(contactID string) domain.Mail) (*domain.Campaign, []domain.Mail, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var c domain.Campaign
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, subject, sender_name, html_template, started, created_at, updated_at
		FROM campaigns WHERE id = $1
		FOR UPDATE
	`, id).Scan(&c.ID, &c.Name, &c.Subject, &c.SenderName, &c.HTMLTemplate, &c.Started, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock campaign: %w", err)
	}
	if c.Started {
		return nil, nil, campaign.ErrAlreadyStarted
	}

	contactIDs, err := memberIDs(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	attempts := make([]domain.Mail, 0, len(contactIDs))
	ids := make([]string, 0, len(contactIDs))
	keys := make([]string, 0, len(contactIDs))
	for _, cid := range contactIDs {
		m := newAttempt(cid)
		attempts = append(attempts, m)
		ids = append(ids, m.ID)
		keys = append(keys, m.AttemptKey)
	}
	if len(attempts) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mails (id, attempt_key, contact_id, campaign_id, status, created_at, updated_at)
			SELECT a.id, a.attempt_key, a.contact_id, $4, $5, NOW(), NOW()
			FROM unnest($1::uuid[], $2::text[], $3::uuid[]) AS a(id, attempt_key, contact_id)
		`, pq.Array(ids), pq.Array(keys), pq.Array(contactIDs), id, domain.MailPending); err != nil {
			return nil, nil, fmt.Errorf("insert pending mails: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET started = TRUE, started_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at); err != nil {
		return nil, nil, fmt.Errorf("mark started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit claim: %w", err)
	}

	c.Started = true
	c.StartedAt = &at
	c.ContactCount = len(contactIDs)
	return &c, attempts, nil
}

func memberIDs(ctx context.Context, tx *sql.Tx, campaignID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT contact_id FROM campaign_contacts
		WHERE campaign_id = $1
		ORDER BY contact_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign contacts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
