package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/metrics"
	"github.com/ignite/tinymail/internal/pkg/distlock"
	"github.com/ignite/tinymail/internal/pkg/logger"
)

// Ledger is the slice of the delivery ledger the fan-out needs. Pending
// records are written by Repository.Claim. *ledger.Service satisfies it.
type Ledger interface {
	MarkFailed(ctx context.Context, mailID, reason string) error
	CampaignProgress(ctx context.Context, campaignID string) (domain.MailProgress, error)
}

// TaskQueue accepts dispatch tasks. *queue.RedisQueue satisfies it.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.DispatchTask, runAt time.Time) error
}

// Locker serializes work per key. *distlock.Factory satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo        Repository
	ledger      Ledger
	tasks       TaskQueue
	locks       Locker
	parallelism int
	validate    *validator.Validate
	now         func() time.Time
}

// NewService creates a campaign service. parallelism bounds how many
// contacts are submitted concurrently during a start.
func NewService(repo Repository, ledger Ledger, tasks TaskQueue, locks Locker, parallelism int) *Service {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Service{
		repo:        repo,
		ledger:      ledger,
		tasks:       tasks,
		locks:       locks,
		parallelism: parallelism,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name         string   `json:"name" validate:"required,max=255"`
	Subject      string   `json:"subject" validate:"required,max=998"`
	SenderName   string   `json:"sender_name" validate:"max=255"`
	HTMLTemplate string   `json:"html_template" validate:"required"`
	ContactIDs   []string `json:"contacts_ids_to_add"`
}

// StartResult describes a completed fan-out. TaskIDs lets callers follow
// each submitted task; the ledger progress counters cover the rest.
type StartResult struct {
	CampaignID       string   `json:"campaign_id"`
	Submitted        int      `json:"submitted"`
	Failed           int      `json:"failed"`
	TaskIDs          []string `json:"task_ids"`
	FailedContactIDs []string `json:"failed_contact_ids,omitempty"`
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new, unstarted campaign.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	c := &domain.Campaign{
		ID:           uuid.New().String(),
		Name:         input.Name,
		Subject:      input.Subject,
		SenderName:   input.SenderName,
		HTMLTemplate: input.HTMLTemplate,
	}
	if err := s.repo.Create(ctx, c, input.ContactIDs); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, c.ID)
}

// Update modifies mutable campaign fields and the contact association.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	if (u.Name != nil && *u.Name == "") ||
		(u.Subject != nil && *u.Subject == "") ||
		(u.HTMLTemplate != nil && *u.HTMLTemplate == "") {
		return nil, fmt.Errorf("%w: name, subject and html_template cannot be empty", ErrInvalid)
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a campaign.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Start fans the campaign out to every associated contact exactly once.
//
// The started flag and the pending delivery records are committed together
// before anything is queued, so a retried or concurrent Start can never
// produce a second set of tasks. Queueing is best effort: a contact whose
// task cannot be queued has its record marked failed and is reported in
// the result without aborting the others.
func (s *Service) Start(ctx context.Context, id string) (*StartResult, error) {
	var (
		c        *domain.Campaign
		attempts []domain.Mail
	)
	err := s.locks.WithLock(ctx, "campaign:start:"+id, func(ctx context.Context) error {
		var err error
		c, attempts, err = s.repo.Claim(ctx, id, s.now(), func(contactID string) domain.Mail {
			campaignID := id
			return domain.Mail{
				ID:         uuid.New().String(),
				AttemptKey: uuid.New().String(),
				ContactID:  contactID,
				CampaignID: &campaignID,
				Status:     domain.MailPending,
			}
		})
		return err
	})
	if errors.Is(err, distlock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: start in progress", ErrAlreadyStarted)
	}
	if err != nil {
		return nil, err
	}

	res := s.fanOut(ctx, c, attempts)
	logger.Info("campaign: started",
		"campaign_id", id, "submitted", res.Submitted, "failed", res.Failed)
	return res, nil
}

func (s *Service) fanOut(ctx context.Context, c *domain.Campaign, attempts []domain.Mail) *StartResult {
	res := &StartResult{CampaignID: c.ID, TaskIDs: []string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, m := range attempts {
		m := m
		g.Go(func() error {
			taskID, err := s.submit(gctx, c, m)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("campaign: submit failed",
					"campaign_id", c.ID, "contact_id", m.ContactID, "error", err)
				metrics.FanoutTasks.WithLabelValues("failed").Inc()
				res.Failed++
				res.FailedContactIDs = append(res.FailedContactIDs, m.ContactID)
				return nil
			}
			metrics.FanoutTasks.WithLabelValues("submitted").Inc()
			res.Submitted++
			res.TaskIDs = append(res.TaskIDs, taskID)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// submit queues the task for a claimed delivery record. The record's
// attempt key doubles as the task id.
func (s *Service) submit(ctx context.Context, c *domain.Campaign, m domain.Mail) (string, error) {
	task := &domain.DispatchTask{
		ID:              m.AttemptKey,
		MailID:          m.ID,
		ContactID:       m.ContactID,
		CampaignID:      m.CampaignID,
		Subject:         c.Subject,
		SenderName:      c.SenderName,
		HTMLTemplate:    c.HTMLTemplate,
		WithUnsubscribe: true,
		WithPixel:       true,
		EnqueuedAt:      s.now(),
	}

	if err := s.tasks.Enqueue(ctx, task, task.EnqueuedAt); err != nil {
		// a fresh context: the request may be gone but the record must not stay pending
		mfCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if mfErr := s.ledger.MarkFailed(mfCtx, m.ID, "enqueue failed"); mfErr != nil {
			logger.Error("campaign: mark failed after enqueue error",
				"mail_id", m.ID, "error", mfErr)
		}
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return task.ID, nil
}

// Stats returns delivery progress with open and send rates.
func (s *Service) Stats(ctx context.Context, id string) (*domain.CampaignStats, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	p, err := s.ledger.CampaignProgress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign progress: %w", err)
	}
	openRate, sendRate := p.Rates()
	return &domain.CampaignStats{
		CampaignID: id,
		Progress:   p,
		OpenRate:   openRate,
		SendRate:   sendRate,
	}, nil
}
