package transport

import (
	"context"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/tinymail/internal/pkg/retry"
)

type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) Send(context.Context, *Message) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "id-1", nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestRetryingSenderRetriesTransient(t *testing.T) {
	next := &scriptedSender{errs: []error{&textproto.Error{Code: 421, Msg: "busy"}}}
	id, err := NewRetryingSender(next, fastPolicy()).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, 2, next.calls)
}

func TestRetryingSenderStopsOnPermanent(t *testing.T) {
	next := &scriptedSender{errs: []error{&textproto.Error{Code: 550, Msg: "no"}}}
	_, err := NewRetryingSender(next, fastPolicy()).Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingSenderGivesUp(t *testing.T) {
	busy := &textproto.Error{Code: 421, Msg: "busy"}
	next := &scriptedSender{errs: []error{busy, busy, busy, busy}}
	_, err := NewRetryingSender(next, fastPolicy()).Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, busy)
	assert.Equal(t, 3, next.calls)
}
