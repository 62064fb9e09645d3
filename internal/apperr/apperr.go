// Package apperr classifies failures of the reservation core so callers can
// tell a rejected request from a transport problem.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the coarse failure category surfaced to callers.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindConflict             Kind = "conflict"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindInvalidState         Kind = "invalid_state"
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindNetwork              Kind = "network"
	KindTimeout              Kind = "timeout"
	KindUnavailable          Kind = "unavailable"
	KindReconciliationNeeded Kind = "reconciliation_needed"
	KindInternal             Kind = "internal"
)

// Error carries a Kind plus an optional finer Reason (e.g. out_of_hours).
type Error struct {
	Kind   Kind
	Reason string
	Op     string
	Msg    string
	Err    error
}

// Sentinels for errors.Is checks. They only compare Kind (and Reason when set).
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrOutOfHours           = &Error{Kind: KindValidation, Reason: "out_of_hours"}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrInsufficientFunds    = &Error{Kind: KindInsufficientFunds}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrUnavailable          = &Error{Kind: KindUnavailable}
	ErrReconciliationNeeded = &Error{Kind: KindReconciliationNeeded}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
		if e.Reason != "" {
			msg += " (" + e.Reason + ")"
		}
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error on Kind, and on Reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// New builds an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation is shorthand for a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

// OutOfHours reports a requested time outside the doctor's working window.
func OutOfHours(op, format string, args ...any) *Error {
	e := New(KindValidation, op, format, args...)
	e.Reason = ErrOutOfHours.Reason
	return e
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromCall classifies the error of a network call. Errors that already carry a
// Kind are returned unchanged; deadline expiry becomes KindTimeout and anything
// else KindNetwork.
func FromCall(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, op, err)
	}
	return Wrap(KindNetwork, op, err)
}

// KindOf returns the Kind of err, or KindInternal when it carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

// Ambiguous reports whether the remote side may have applied the request even
// though the call failed.
func Ambiguous(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}
