// Package orcherr defines the typed error taxonomy used across the
// orchestrator (spec §7). Every component-level error is constructed as
// one of these Kinds so the gRPC layer and the CLI can map it to the
// right status code / exit behavior without string-matching messages.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind classifies an orchestrator error into one of the categories spec §7
// distinguishes for retry and status-code mapping purposes.
type Kind string

const (
	Validation            Kind = "validation"
	NotFound              Kind = "not_found"
	Conflict              Kind = "conflict"
	BusinessRule          Kind = "business_rule"
	InsufficientResources Kind = "insufficient_resources"
	Timeout               Kind = "timeout"
	ProtocolViolation     Kind = "protocol_violation"
	WorkerLost            Kind = "worker_lost"
	WorkerDisconnected    Kind = "worker_disconnected"
	RepositoryError       Kind = "repository_error"
	PermissionDenied      Kind = "permission_denied"
)

// Error is the concrete error type every orchestrator component returns
// for expected, classifiable failures. Unexpected failures (bugs, os
// errors not otherwise wrapped) may still surface as plain errors.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is(err, orcherr.New(kind, "", nil)) style checks by
// comparing Kind rather than message or wrapped cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error directly. Prefer the per-kind constructors below
// in calling code; New exists for generic wrapping helpers.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func Validationf(format string, args ...interface{}) *Error {
	return newf(Validation, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return newf(NotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) *Error {
	return newf(Conflict, format, args...)
}

func BusinessRulef(format string, args ...interface{}) *Error {
	return newf(BusinessRule, format, args...)
}

func InsufficientResourcesf(format string, args ...interface{}) *Error {
	return newf(InsufficientResources, format, args...)
}

func Timeoutf(format string, args ...interface{}) *Error {
	return newf(Timeout, format, args...)
}

func ProtocolViolationf(format string, args ...interface{}) *Error {
	return newf(ProtocolViolation, format, args...)
}

func WorkerLostf(format string, args ...interface{}) *Error {
	return newf(WorkerLost, format, args...)
}

func WorkerDisconnectedf(format string, args ...interface{}) *Error {
	return newf(WorkerDisconnected, format, args...)
}

// PermissionDeniedf reports a rejected credential: an invalid/expired
// worker registration token or a certificate that fails verification.
func PermissionDeniedf(format string, args ...interface{}) *Error {
	return newf(PermissionDenied, format, args...)
}

// RepositoryErrorf wraps a storage-layer failure (bolt tx error, raft apply
// error) without leaking the driver error's type to callers.
func RepositoryErrorf(cause error, format string, args ...interface{}) *Error {
	return wrapf(RepositoryError, cause, format, args...)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// reports ok=false for anything else so callers can fall back to a
// generic mapping.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
