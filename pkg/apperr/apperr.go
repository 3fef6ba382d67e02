// Package apperr defines the runtime's terminal error kinds: the fixed
// vocabulary that every query failure, HTTP response, and transport
// error is classified into. The runtime never invents ad-hoc error
// kinds outside this set — protocols and transports wrap one of these
// sentinels so the query processor can map it to a FailureReason
// without string-matching.
package apperr

import (
	"errors"
	"fmt"

	"github.com/ipaproto/helper/pkg/types"
)

// Kind is one of the runtime's fixed error kinds.
type Kind string

const (
	KindPeerUnavailable     Kind = "peer_unavailable"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindPrepareRejected     Kind = "prepare_rejected"
	KindAlreadyRunning      Kind = "already_running"
	KindBadInput            Kind = "bad_input"
	KindBadState            Kind = "bad_state"
	KindStepMismatch        Kind = "step_mismatch"
	KindShortStream         Kind = "short_stream"
	KindValidationFailed    Kind = "validation_failed"
	KindCanceled            Kind = "canceled"
	KindTimeout             Kind = "timeout"
	KindTransportError      Kind = "transport_error"
)

// Error wraps an underlying cause with one of the fixed kinds.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// As reports whether err (or something it wraps) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// FailureReason maps a Kind to the QueryState failure reason the query
// processor records when the error is terminal for a query. Every kind
// except AuthenticationFailed and AlreadyRunning is terminal this way;
// those two surface as bare HTTP statuses without touching query state.
func (k Kind) FailureReason() types.FailureReason {
	switch k {
	case KindPeerUnavailable:
		return types.ReasonPeerUnavailable
	case KindPrepareRejected:
		return types.ReasonPrepareRejected
	case KindBadInput, KindBadState:
		return types.ReasonBadInput
	case KindStepMismatch:
		return types.ReasonStepMismatch
	case KindShortStream:
		return types.ReasonShortStream
	case KindValidationFailed:
		return types.ReasonValidationFailed
	case KindCanceled:
		return types.ReasonCanceled
	case KindTimeout:
		return types.ReasonTimeout
	case KindTransportError:
		return types.ReasonTransportError
	default:
		return types.ReasonTransportError
	}
}
