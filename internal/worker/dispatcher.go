package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/pkg/logger"
	"github.com/ignite/tinymail/internal/service/contact"
	"github.com/ignite/tinymail/internal/service/ledger"
	"github.com/ignite/tinymail/internal/tracking"
	"github.com/ignite/tinymail/internal/transport"
)

// ErrContactNotFound means the task's recipient does not exist. Running
// the task again cannot help.
var ErrContactNotFound = errors.New("contact not found")

// Outcome is what happened to one dispatch task.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
)

// Result reports the outcome of Dispatch. RetryAfter is set for deferred
// tasks only.
type Result struct {
	Outcome    Outcome
	MailID     string
	RetryAfter time.Duration
	Reason     string
}

// ContactLookup resolves task recipients. *contact.Service satisfies it.
type ContactLookup interface {
	Get(ctx context.Context, id string) (*domain.Contact, error)
	GetByEmail(ctx context.Context, email string) (*domain.Contact, error)
}

// Ledger is the part of the delivery ledger the dispatcher writes to.
// *ledger.Service satisfies it.
type Ledger interface {
	CreateAttempt(ctx context.Context, attemptKey, contactID string, campaignID *string) (*domain.Mail, error)
	Get(ctx context.Context, id string) (*domain.Mail, error)
	MarkSent(ctx context.Context, mailID string, at time.Time) error
	MarkDeferred(ctx context.Context, mailID string) error
	MarkFailed(ctx context.Context, mailID, reason string) error
}

// Injector adds tracking artifacts to rendered HTML.
type Injector interface {
	Inject(doc string, opts tracking.InjectOptions) (string, error)
}

// Renderer fills a template from a render context.
type Renderer interface {
	Render(tpl string, vars map[string]interface{}) (string, error)
}

// DispatcherConfig holds the sender identity and suppression switch.
type DispatcherConfig struct {
	FromAddress          string
	SuppressUnsubscribed bool
}

// Dispatcher turns one DispatchTask into at most one sent message.
type Dispatcher struct {
	contacts ContactLookup
	ledger   Ledger
	quota    Admitter
	render   Renderer
	inject   Injector
	sender   transport.Sender
	cfg      DispatcherConfig
	now      func() time.Time
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(contacts ContactLookup, l Ledger, quota Admitter, render Renderer, inject Injector, sender transport.Sender, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		contacts: contacts,
		ledger:   l,
		quota:    quota,
		render:   render,
		inject:   inject,
		sender:   sender,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Dispatch runs one task. ErrContactNotFound is final. Any other error
// means the attempt did not reach a decision (store or quota backend
// unavailable, ctx cancelled) and the task should run again.
func (d *Dispatcher) Dispatch(ctx context.Context, task *domain.DispatchTask) (Result, error) {
	c, err := d.resolveContact(ctx, task)
	if errors.Is(err, contact.ErrNotFound) {
		logger.Warn("dispatch: contact not found",
			"task_id", task.ID, "contact_id", task.ContactID, "email", task.ContactEmail)
		return Result{Outcome: OutcomeFailed, MailID: task.MailID, Reason: "contact not found"}, ErrContactNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve contact: %w", err)
	}

	m, err := d.attempt(ctx, task, c.ID)
	if err != nil {
		return Result{}, err
	}
	task.MailID = m.ID

	switch {
	case m.IsSent():
		logger.Info("dispatch: already sent", "task_id", task.ID, "mail_id", m.ID)
		return Result{Outcome: OutcomeSent, MailID: m.ID}, nil
	case m.Status == domain.MailFailed:
		return Result{Outcome: OutcomeFailed, MailID: m.ID, Reason: m.Error}, nil
	}

	if d.cfg.SuppressUnsubscribed && c.IsUnsubscribed() {
		return d.fail(ctx, m.ID, "contact unsubscribed")
	}

	dec, err := d.quota.Admit(ctx, m.ID)
	if err != nil {
		return Result{}, err
	}
	if !dec.Admit {
		if err := d.ledger.MarkDeferred(ctx, m.ID); err != nil {
			return Result{}, err
		}
		task.Deferrals++
		logger.Info("dispatch: quota reached, deferring",
			"task_id", task.ID, "mail_id", m.ID, "count", dec.Count, "retry_after", dec.RetryAfter)
		return Result{Outcome: OutcomeDeferred, MailID: m.ID, RetryAfter: dec.RetryAfter}, nil
	}

	msg, err := d.compose(task, c, m.ID)
	if err != nil {
		return d.fail(ctx, m.ID, err.Error())
	}

	if _, err := d.sender.Send(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		logger.Error("dispatch: send failed", "task_id", task.ID, "mail_id", m.ID, "email", c.Email, "error", err)
		return d.fail(ctx, m.ID, err.Error())
	}

	// The message is out; a lost MarkSent must not cause a second send.
	if err := d.ledger.MarkSent(ctx, m.ID, d.now()); err != nil {
		logger.Error("dispatch: mark sent failed", "task_id", task.ID, "mail_id", m.ID, "error", err)
	}
	return Result{Outcome: OutcomeSent, MailID: m.ID}, nil
}

func (d *Dispatcher) resolveContact(ctx context.Context, task *domain.DispatchTask) (*domain.Contact, error) {
	switch {
	case task.ContactID != "":
		return d.contacts.Get(ctx, task.ContactID)
	case task.ContactEmail != "":
		return d.contacts.GetByEmail(ctx, task.ContactEmail)
	default:
		return nil, contact.ErrNotFound
	}
}

// attempt returns the task's delivery record, creating it on first run.
func (d *Dispatcher) attempt(ctx context.Context, task *domain.DispatchTask, contactID string) (*domain.Mail, error) {
	if task.MailID != "" {
		m, err := d.ledger.Get(ctx, task.MailID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("load attempt: %w", err)
		}
	}
	m, err := d.ledger.CreateAttempt(ctx, task.ID, contactID, task.CampaignID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Dispatcher) compose(task *domain.DispatchTask, c *domain.Contact, mailID string) (*transport.Message, error) {
	vars := c.RenderContext()
	for k, v := range task.RenderContext {
		vars[k] = v
	}

	subject, err := d.render.Render(task.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	body, err := d.render.Render(task.HTMLTemplate, vars)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}

	var opts tracking.InjectOptions
	if task.WithUnsubscribe {
		opts.UnsubscribeContactID = c.ID
	}
	if task.WithPixel {
		opts.PixelMailID = mailID
	}
	body, err = d.inject.Inject(body, opts)
	if err != nil {
		return nil, err
	}

	return &transport.Message{
		ID:        mailID,
		FromName:  task.SenderName,
		FromEmail: d.cfg.FromAddress,
		To:        c.Email,
		Subject:   subject,
		HTML:      body,
	}, nil
}

func (d *Dispatcher) fail(ctx context.Context, mailID, reason string) (Result, error) {
	if err := d.ledger.MarkFailed(ctx, mailID, reason); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeFailed, MailID: mailID, Reason: reason}, nil
}
