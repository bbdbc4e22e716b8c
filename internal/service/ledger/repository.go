package ledger

import (
	"context"
	"time"

	"github.com/ignite/tinymail/internal/domain"
)

// Repository defines the data access contract for delivery records.
// Implementations must be safe for concurrent use.
type Repository interface {
	// CreateAttempt inserts a pending record, or returns the existing record
	// when one with the same attempt key is already stored.
	CreateAttempt(ctx context.Context, m *domain.Mail) (*domain.Mail, error)

	// Get returns a single record. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Mail, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, f ListFilter) ([]domain.Mail, int, error)

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// MarkSent sets time_send and status=sent unless time_send is already
	// set. Reports whether the row changed.
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkOpened sets is_open. Returns ErrNotFound if the record is missing.
	MarkOpened(ctx context.Context, id string, at time.Time) error

	// SetStatus records deferred/failed on an unsent record. Reports
	// whether the row changed.
	SetStatus(ctx context.Context, id string, status domain.MailStatus, reason string) (bool, error)

	// CountSentSince counts records with time_send >= since.
	CountSentSince(ctx context.Context, since time.Time) (int, error)

	// Progress counts a campaign's records by status.
	Progress(ctx context.Context, campaignID string) (domain.MailProgress, error)
}

// ListFilter controls pagination and filtering for record lists.
type ListFilter struct {
	ContactID  string
	CampaignID string
	Status     string
	Limit      int
	Offset     int
}
