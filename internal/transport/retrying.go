package transport

import (
	"context"

	"github.com/ignite/tinymail/internal/pkg/retry"
)

// RetryingSender retries transient failures of the wrapped sender with
// exponential backoff. Permanent failures return at once.
type RetryingSender struct {
	next   Sender
	policy retry.Policy
}

// NewRetryingSender wraps next with policy.
func NewRetryingSender(next Sender, policy retry.Policy) *RetryingSender {
	return &RetryingSender{next: next, policy: policy}
}

func (s *RetryingSender) Send(ctx context.Context, msg *Message) (string, error) {
	var id string
	err := s.policy.Do(ctx, "transport.send", IsTransient, func(ctx context.Context) error {
		var err error
		id, err = s.next.Send(ctx, msg)
		return err
	})
	return id, err
}
