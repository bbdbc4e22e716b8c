package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"smtp 421", fmt.Errorf("RCPT TO: %w", &textproto.Error{Code: 421, Msg: "try later"}), true},
		{"smtp 550", fmt.Errorf("RCPT TO: %w", &textproto.Error{Code: 550, Msg: "no such user"}), false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"permanent", Permanent(errors.New("bad template")), false},
		{"ses throttling", &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient}, true},
		{"ses server fault", &smithy.GenericAPIError{Code: "InternalFailure", Fault: smithy.FaultServer}, true},
		{"ses rejected", &smithy.GenericAPIError{Code: "MessageRejected", Fault: smithy.FaultClient}, false},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestPermanentWrapsOnce(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("boom")
	p := Permanent(base)
	assert.ErrorIs(t, p, ErrPermanent)
	assert.ErrorIs(t, p, base)
	assert.Same(t, p, Permanent(p))
}
