package contact

import (
	"context"

	"github.com/ignite/tinymail/internal/domain"
)

// Repository defines the data access contract for contacts.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single contact. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Contact, error)

	// GetByEmail looks a contact up by its normalized address.
	GetByEmail(ctx context.Context, email string) (*domain.Contact, error)

	// List returns contacts ordered by created_at DESC.
	List(ctx context.Context, f ListFilter) ([]domain.Contact, int, error)

	// Create inserts a contact. Returns ErrDuplicateEmail on conflict.
	Create(ctx context.Context, c *domain.Contact) error

	// Update modifies a contact. Only non-nil fields are applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a contact.
	Delete(ctx context.Context, id string) error

	// SetStatus changes the subscription status.
	SetStatus(ctx context.Context, id string, status domain.ContactStatus) error
}

// ListFilter controls pagination and filtering for contact lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a contact update.
type UpdateFields struct {
	Email *string                `json:"email"`
	Meta  map[string]interface{} `json:"meta"`
}
