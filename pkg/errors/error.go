// package errors contains domain errors that the coordination and dispatch
// layers use to add meaning to an error, and that the dispatcher and HTTP
// handlers transform into a retry decision or a status code. This is
// implemented as a separate package in order to avoid cycle import errors.
package errors

import "errors"

// The following errors serve as domain errors that can be used by the
// different layers. The dispatcher converts them into ack/retry decisions
// and the handler layer into HTTP codes.
var (
	// ErrLockConflict is used when another worker holds an unexpired lock
	// on the document.
	ErrLockConflict = errors.New("document lock held by another worker")
	// ErrLockNotFound is used when a release targets a document with no
	// lock record.
	ErrLockNotFound = errors.New("lock not found")
	// ErrLockNotOwned is used when the caller's lock id or worker id does
	// not match the stored lock record. This indicates a stale or buggy
	// caller and is never retried.
	ErrLockNotOwned = errors.New("lock not owned by caller")
	// ErrStateTerminal is used when a partial update targets a terminal
	// processing state without starting a fresh processing cycle.
	ErrStateTerminal = errors.New("processing state is terminal")
	// ErrUnsupportedQueue is used when a batch arrives for a queue
	// identifier nobody is configured to process. Fatal configuration
	// error: the batch is acknowledged to avoid poison-queue buildup.
	ErrUnsupportedQueue = errors.New("unsupported queue")
	// ErrBatchPartialFailure is used when more than half of a reprocess
	// sub-batch failed and the whole sub-batch is surfaced as failed.
	ErrBatchPartialFailure = errors.New("sub-batch failure rate exceeded threshold")
)
