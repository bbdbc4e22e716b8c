package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/pkg/logger"
)

// Reporting windows for the rolling send counts.
const (
	DailyWindow   = 24 * time.Hour
	MonthlyWindow = 30 * 24 * time.Hour
)

// Service implements the delivery ledger on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a ledger service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// CreateAttempt records a pending delivery for contactID. attemptKey is the
// dispatch task id; a redelivered task gets its original record back.
func (s *Service) CreateAttempt(ctx context.Context, attemptKey, contactID string, campaignID *string) (*domain.Mail, error) {
	if attemptKey == "" {
		return nil, ErrMissingKey
	}
	if contactID == "" {
		return nil, ErrMissingContact
	}
	m := &domain.Mail{
		ID:         uuid.New().String(),
		AttemptKey: attemptKey,
		ContactID:  contactID,
		CampaignID: campaignID,
		Status:     domain.MailPending,
	}
	created, err := s.repo.CreateAttempt(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return created, nil
}

// MarkSent stamps the transport success time. A second call is a no-op.
func (s *Service) MarkSent(ctx context.Context, mailID string, at time.Time) error {
	changed, err := s.repo.MarkSent(ctx, mailID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !changed {
		if _, err := s.repo.Get(ctx, mailID); err != nil {
			return err
		}
		logger.Debug("ledger: mail already sent", "mail_id", mailID)
	}
	return nil
}

// MarkOpened records an open. Idempotent.
func (s *Service) MarkOpened(ctx context.Context, mailID string) error {
	return s.repo.MarkOpened(ctx, mailID, s.now().UTC())
}

// MarkDeferred notes that the quota gate postponed the attempt.
func (s *Service) MarkDeferred(ctx context.Context, mailID string) error {
	return s.setStatus(ctx, mailID, domain.MailDeferred, "")
}

// MarkFailed records a terminal failure for this attempt.
func (s *Service) MarkFailed(ctx context.Context, mailID, reason string) error {
	return s.setStatus(ctx, mailID, domain.MailFailed, reason)
}

func (s *Service) setStatus(ctx context.Context, mailID string, status domain.MailStatus, reason string) error {
	changed, err := s.repo.SetStatus(ctx, mailID, status, reason)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	if !changed {
		// sent records keep their status
		if _, err := s.repo.Get(ctx, mailID); err != nil {
			return err
		}
	}
	return nil
}

// RollingCount counts sends with time_send inside the trailing window.
// The read takes no locks, so concurrent sends may not be reflected yet.
func (s *Service) RollingCount(ctx context.Context, window time.Duration) (int, error) {
	n, err := s.repo.CountSentSince(ctx, s.now().Add(-window).UTC())
	if err != nil {
		return 0, fmt.Errorf("rolling count: %w", err)
	}
	return n, nil
}

// Counts returns the 24h and 30d rolling send counts.
func (s *Service) Counts(ctx context.Context) (domain.RollingCounts, error) {
	day, err := s.RollingCount(ctx, DailyWindow)
	if err != nil {
		return domain.RollingCounts{}, err
	}
	month, err := s.RollingCount(ctx, MonthlyWindow)
	if err != nil {
		return domain.RollingCounts{}, err
	}
	return domain.RollingCounts{Day: day, Month: month}, nil
}

// CampaignProgress counts a campaign's delivery records by status.
func (s *Service) CampaignProgress(ctx context.Context, campaignID string) (domain.MailProgress, error) {
	p, err := s.repo.Progress(ctx, campaignID)
	if err != nil {
		return domain.MailProgress{}, fmt.Errorf("campaign progress: %w", err)
	}
	return p, nil
}

// Get returns a single delivery record.
func (s *Service) Get(ctx context.Context, id string) (*domain.Mail, error) {
	return s.repo.Get(ctx, id)
}

// List returns delivery records matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Mail, int, error) {
	return s.repo.List(ctx, f)
}

// Delete removes a delivery record.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
