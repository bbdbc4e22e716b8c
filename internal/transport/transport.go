// Package transport renders and delivers one email message over SMTP or
// AWS SES, with bounded retries for transient failures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"

	"github.com/aws/smithy-go"
)

// ErrPermanent marks a failure that will not go away on retry: a rejected
// recipient, a template that does not render, a malformed message.
var ErrPermanent = errors.New("permanent delivery failure")

// Message is a fully rendered email addressed to one recipient.
type Message struct {
	ID        string
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTML      string

	// Headers are extra MIME headers. SES ignores them.
	Headers map[string]string
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient reports whether err is worth retrying: network trouble,
// SMTP 4xx replies and SES throttling or server faults.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 400 && tpErr.Code < 500
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
		code := apiErr.ErrorCode()
		return strings.Contains(code, "Throttl") || code == "TooManyRequestsException"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
