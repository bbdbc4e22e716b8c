package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/queue"
	"github.com/ignite/tinymail/internal/service/campaign"
	"github.com/ignite/tinymail/internal/service/contact"
	"github.com/ignite/tinymail/internal/service/ledger"
)

// ContactService is satisfied by *contact.Service.
type ContactService interface {
	Create(ctx context.Context, inputs []contact.CreateInput) (*contact.CreateResult, error)
	Get(ctx context.Context, id string) (*domain.Contact, error)
	GetByEmail(ctx context.Context, email string) (*domain.Contact, error)
	List(ctx context.Context, f contact.ListFilter) ([]domain.Contact, int, error)
	Update(ctx context.Context, id string, u contact.UpdateFields) (*domain.Contact, error)
	Delete(ctx context.Context, id string) error
}

// CampaignService is satisfied by *campaign.Service.
type CampaignService interface {
	Create(ctx context.Context, input campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Update(ctx context.Context, id string, u campaign.UpdateFields) (*domain.Campaign, error)
	Delete(ctx context.Context, id string) error
	Start(ctx context.Context, id string) (*campaign.StartResult, error)
	Stats(ctx context.Context, id string) (*domain.CampaignStats, error)
}

// MailLedger is satisfied by *ledger.Service.
type MailLedger interface {
	Get(ctx context.Context, id string) (*domain.Mail, error)
	List(ctx context.Context, f ledger.ListFilter) ([]domain.Mail, int, error)
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (domain.RollingCounts, error)
}

// TaskQueue is the producer and admin side of the dispatch queue.
// *queue.RedisQueue satisfies it.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.DispatchTask, runAt time.Time) error
	Delete(ctx context.Context, id string) error
	Depth(ctx context.Context) (queue.Depth, error)
}

// Handlers holds the services behind the JSON API.
type Handlers struct {
	contacts  ContactService
	campaigns CampaignService
	mails     MailLedger
	tasks     TaskQueue
	validate  *validator.Validate
	now       func() time.Time
}

// NewHandlers creates the API handlers.
func NewHandlers(contacts ContactService, campaigns CampaignService, mails MailLedger, tasks TaskQueue) *Handlers {
	return &Handlers{
		contacts:  contacts,
		campaigns: campaigns,
		mails:     mails,
		tasks:     tasks,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}
