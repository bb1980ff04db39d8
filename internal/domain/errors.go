package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Transient kinds are retried at
// the call level; everything else fails immediately.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindTransientUpstream   ErrorKind = "TRANSIENT_UPSTREAM"
	KindPermanentUpstream   ErrorKind = "PERMANENT_UPSTREAM"
	KindStorageFailure      ErrorKind = "STORAGE_FAILURE"
)

// Error is the typed failure surfaced by the generation pipeline.
// Message is safe to forward to clients; Err holds provider detail for
// the logs only.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed pipeline error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the error kind, defaulting to TRANSIENT_UPSTREAM for
// untyped failures so unknown errors stay retryable.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransientUpstream
}

// IsTransient reports whether the per-call retry loop may try again.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientUpstream
}

// UserMessage returns the client-safe message for a pipeline error,
// never the wrapped provider detail.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "generation failed"
}

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = NewError(KindInsufficientBalance, "Insufficient token balance", nil)
	ErrRateLimited         = NewError(KindRateLimited, "Generation rate limit exceeded, try again shortly", nil)
)
