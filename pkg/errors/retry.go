package errors

import (
	"context"
	"errors"
	"strings"
)

// Classification tags an error with its retryability. Collaborator wrappers
// attach a classification at the call site so retry decisions are structural
// rather than string-pattern based.
type Classification int

const (
	// Unknown means the failure cause could not be determined. Unknown
	// errors are treated as retryable: redelivering trades the risk of
	// duplicate work for availability, and the coordinator's lock and
	// dedup checks make duplicate attempts harmless.
	Unknown Classification = iota
	// Transient means the failure is expected to resolve on its own
	// (timeouts, rate limits, upstream 5xx).
	Transient
	// Permanent means redelivery cannot succeed (malformed payload,
	// unsupported type, ownership violations).
	Permanent
)

type classifiedError struct {
	cause error
	class Classification
}

func (e *classifiedError) Error() string { return e.cause.Error() }
func (e *classifiedError) Unwrap() error { return e.cause }

// Classify wraps err with a retryability classification. A nil err returns
// nil.
func Classify(err error, class Classification) error {
	if err == nil {
		return nil
	}
	return &classifiedError{cause: err, class: class}
}

// ClassificationOf returns the classification attached to err, or Unknown if
// none was attached anywhere in the chain.
func ClassificationOf(err error) Classification {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return Unknown
}

// transientPatterns are substrings that mark an unclassified collaborator
// error as transient. Kept as a fallback for errors that cross process
// boundaries and lose their type.
var transientPatterns = []string{
	"timeout",
	"rate limit",
	"network",
	"connection",
	"502",
	"503",
	"429",
}

// IsRetryable reports whether the dispatcher should request redelivery for
// err. Classified errors are decided structurally; unclassified errors fall
// back to transient substring matching and are not retried when no pattern
// matches.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		switch ce.class {
		case Transient:
			return true
		case Permanent:
			return false
		}
		return true
	}
	if errors.Is(err, ErrLockConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrLockNotOwned) || errors.Is(err, ErrStateTerminal) || errors.Is(err, ErrUnsupportedQueue) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
