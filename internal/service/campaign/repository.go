package campaign

import (
	"context"
	"time"

	"github.com/ignite/tinymail/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and associates the given contacts.
	// Unknown contact ids are ignored.
	Create(ctx context.Context, c *domain.Campaign, contactIDs []string) error

	// Update modifies a campaign. Only non-nil fields are applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a campaign and its contact associations. Delivery
	// records keep their campaign reference cleared.
	Delete(ctx context.Context, id string) error

	// Claim marks an unstarted campaign started and records one pending
	// delivery per associated contact, atomically. newAttempt builds the
	// record for a contact id. Returns ErrNotFound or ErrAlreadyStarted
	// without writing anything.
	Claim(ctx context.Context, id string, at time.Time, newAttempt func(contactID string) domain.Mail) (*domain.Campaign, []domain.Mail, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Started *bool
	Search  string
	Limit   int
	Offset  int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name             *string  `json:"name"`
	Subject          *string  `json:"subject"`
	SenderName       *string  `json:"sender_name"`
	HTMLTemplate     *string  `json:"html_template"`
	AddContactIDs    []string `json:"contacts_ids_to_add"`
	RemoveContactIDs []string `json:"contacts_ids_to_remove"`
}
