package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies domain failures so the HTTP boundary can map each one
// to a stable code and a safe message exactly once.
type ErrorKind string

const (
	AuthError            ErrorKind = "auth"
	ValidationError      ErrorKind = "validation"
	RateLimitError       ErrorKind = "rate_limit"
	ReconciliationError  ErrorKind = "reconciliation"
	LimitExceededError   ErrorKind = "limit_exceeded"
	SystemThresholdError ErrorKind = "system_threshold"
	InsufficientBalance  ErrorKind = "insufficient_balance"
	PaymentError         ErrorKind = "payment"
	StoreError           ErrorKind = "store"
	NotFoundError        ErrorKind = "not_found"
	StateError           ErrorKind = "state"
)

// Error is a classified domain error. Message is safe to surface to the
// caller; the wrapped cause is for logs only.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a classified error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around a cause.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the kind from err, or StoreError for unclassified errors so
// unexpected failures surface generically.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return StoreError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the retry hint carried by a rate-limit error, if any.
func RetryAfterOf(err error) time.Duration {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.RetryAfter
	}
	return 0
}
