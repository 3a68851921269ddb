package client

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rzbill/llmq/internal/broker"
)

// ErrUnavailable is returned when the broker cannot be reached.
var ErrUnavailable = errors.New("client: broker unavailable")

// remoteError carries a broker sentinel and the gRPC status it arrived in.
type remoteError struct {
	sentinel error
	st       *status.Status
}

func (e *remoteError) Error() string   { return e.st.Message() }
func (e *remoteError) Unwrap() []error { return []error{e.sentinel, e.st.Err()} }

var sentinels = []struct {
	code codes.Code
	err  error
}{
	{codes.NotFound, broker.ErrQueueNotFound},
	{codes.FailedPrecondition, broker.ErrPreconditionFailed},
	{codes.FailedPrecondition, broker.ErrUnknownDeliveryTag},
	{codes.FailedPrecondition, broker.ErrResourceLocked},
	{codes.InvalidArgument, broker.ErrInvalidArgument},
	{codes.Unavailable, broker.ErrClosed},
}

// fromStatus turns a gRPC status back into the broker sentinel it was
// built from. Transport failures become ErrUnavailable.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, s := range sentinels {
		if st.Code() == s.code && strings.Contains(st.Message(), s.err.Error()) {
			return &remoteError{sentinel: s.err, st: st}
		}
	}
	switch st.Code() {
	case codes.Unavailable:
		return &remoteError{sentinel: ErrUnavailable, st: st}
	case codes.Canceled:
		return &remoteError{sentinel: context.Canceled, st: st}
	case codes.DeadlineExceeded:
		return &remoteError{sentinel: context.DeadlineExceeded, st: st}
	}
	return err
}

// IsTransport reports whether err means the broker connection is unusable
// and the caller should reconnect.
func IsTransport(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, broker.ErrClosed)
}
