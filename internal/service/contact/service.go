package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/pkg/logger"
)

// Service implements contact business logic.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService creates a contact service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// CreateInput is one contact in a bulk create request.
type CreateInput struct {
	Email string                 `json:"email" validate:"required,email,max=254"`
	Meta  map[string]interface{} `json:"meta"`
}

// CreateResult reports what a bulk create accepted and rejected.
type CreateResult struct {
	Created        []domain.Contact `json:"created"`
	RejectedEmails []string         `json:"rejected_emails"`
}

// Create validates and stores each input independently. Invalid or
// duplicate addresses are reported back instead of failing the batch.
func (s *Service) Create(ctx context.Context, inputs []CreateInput) (*CreateResult, error) {
	res := &CreateResult{Created: []domain.Contact{}, RejectedEmails: []string{}}
	for _, in := range inputs {
		email, err := s.normalize(in.Email)
		if err != nil {
			logger.Info("contact: rejected address", "email", in.Email, "error", err)
			res.RejectedEmails = append(res.RejectedEmails, in.Email)
			continue
		}
		c := &domain.Contact{
			ID:     uuid.New().String(),
			Email:  email,
			Meta:   in.Meta,
			Status: domain.ContactActive,
		}
		if c.Meta == nil {
			c.Meta = map[string]interface{}{}
		}
		if err := s.repo.Create(ctx, c); err != nil {
			if errors.Is(err, ErrDuplicateEmail) {
				res.RejectedEmails = append(res.RejectedEmails, in.Email)
				continue
			}
			return nil, fmt.Errorf("create contact: %w", err)
		}
		res.Created = append(res.Created, *c)
	}
	return res, nil
}

func (s *Service) normalize(email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Struct(CreateInput{Email: email}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	// the domain part is case-insensitive; the local part is kept as given
	local, domainPart, _ := strings.Cut(email, "@")
	return local + "@" + strings.ToLower(domainPart), nil
}

// Get returns a single contact.
func (s *Service) Get(ctx context.Context, id string) (*domain.Contact, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail resolves a contact by address.
func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	norm, err := s.normalize(email)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByEmail(ctx, norm)
}

// List returns contacts matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Contact, int, error) {
	return s.repo.List(ctx, f)
}

// Update modifies mutable contact fields.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Contact, error) {
	if u.Email != nil {
		norm, err := s.normalize(*u.Email)
		if err != nil {
			return nil, err
		}
		u.Email = &norm
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a contact.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Unsubscribe opts the contact out. Repeating it has no further effect.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	return s.repo.SetStatus(ctx, id, domain.ContactUnsubscribed)
}
