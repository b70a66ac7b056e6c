package service

import (
	"errors"
	"fmt"
)

// Kind is the caller-visible class of a failure.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindAccountNotFound     Kind = "account_not_found"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamError       Kind = "upstream_error"
	KindStoreError          Kind = "store_error"
	KindConflict            Kind = "conflict"
	KindBadRequest          Kind = "bad_request"
)

// Stage names the step of a generation request at which it stopped.
type Stage string

const (
	StageAuthenticating  Stage = "authenticating"
	StageEstimating      Stage = "estimating"
	StageAuthorizing     Stage = "authorizing"
	StageCallingProvider Stage = "calling_provider"
	StageCommitting      Stage = "committing"
	StageResponding      Stage = "responding"
)

type Error struct {
	Kind   Kind
	Stage  Stage
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = string(e.Stage) + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, stage Stage, reason string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason, Err: err}
}

func badRequest(format string, args ...any) *Error {
	return newError(KindBadRequest, StageEstimating, fmt.Sprintf(format, args...), nil)
}

// KindOf extracts the failure kind. Errors that did not come from this
// package are treated as store errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStoreError
}

// ReasonOf returns the caller-facing reason for err.
func ReasonOf(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	switch KindOf(err) {
	case KindUpstreamTimeout:
		return "request timeout"
	case KindUpstreamError:
		return "AI service error"
	default:
		return "internal error"
	}
}
