package tracking

import (
	"context"
	"fmt"

	"github.com/ignite/tinymail/internal/pkg/logger"
)

// TokenResolver turns a token back into its subject id. *token.Codec
// satisfies it.
type TokenResolver interface {
	Resolve(tok string) (string, error)
}

// MailOpener is the slice of the delivery ledger the pixel callback needs.
type MailOpener interface {
	MarkOpened(ctx context.Context, mailID string) error
}

// ContactUnsubscriber is the slice of the contact service the unsubscribe
// callback needs.
type ContactUnsubscriber interface {
	Unsubscribe(ctx context.Context, contactID string) error
}

// Resolver maps inbound tracking callbacks onto ledger and contact state.
// Both callbacks are idempotent.
type Resolver struct {
	pixel       TokenResolver
	unsubscribe TokenResolver
	mails       MailOpener
	contacts    ContactUnsubscriber
}

// NewResolver creates a resolver. pixel and unsubscribe must be codecs
// built with different salts.
func NewResolver(pixel, unsubscribe TokenResolver, mails MailOpener, contacts ContactUnsubscriber) *Resolver {
	return &Resolver{pixel: pixel, unsubscribe: unsubscribe, mails: mails, contacts: contacts}
}

// OnPixelHit marks the mail behind tok as opened. The returned error is for
// logging and metrics only; callers answer every hit the same way.
func (r *Resolver) OnPixelHit(ctx context.Context, tok string) error {
	mailID, err := r.pixel.Resolve(tok)
	if err != nil {
		logger.Debug("tracking: invalid pixel token", "error", err)
		return err
	}
	if err := r.mails.MarkOpened(ctx, mailID); err != nil {
		logger.Warn("tracking: mark opened failed", "mail_id", mailID, "error", err)
		return fmt.Errorf("mark opened %s: %w", mailID, err)
	}
	logger.Info("tracking: open recorded", "mail_id", mailID)
	return nil
}

// OnUnsubscribe marks the contact behind tok as unsubscribed.
func (r *Resolver) OnUnsubscribe(ctx context.Context, tok string) error {
	contactID, err := r.unsubscribe.Resolve(tok)
	if err != nil {
		logger.Debug("tracking: invalid unsubscribe token", "error", err)
		return err
	}
	if err := r.contacts.Unsubscribe(ctx, contactID); err != nil {
		logger.Warn("tracking: unsubscribe failed", "contact_id", contactID, "error", err)
		return fmt.Errorf("unsubscribe %s: %w", contactID, err)
	}
	logger.Info("tracking: contact unsubscribed", "contact_id", contactID)
	return nil
}
