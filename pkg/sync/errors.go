package sync

import (
	"errors"
	"fmt"

	"parley/pkg/models"
)

// Sentinel errors for the mutation surface. Nothing here is fatal to the
// process; every failure is scoped to one operation or one session.
var (
	// ErrNotAuthorized: caller is not the original sender of the target.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound: the target record no longer resolves (e.g. it was
	// hard-deleted concurrently). Not retryable.
	ErrNotFound = errors.New("message not found")
	// ErrTimeout: an optimistic placeholder exceeded its reconciliation
	// window. The draft remains recoverable via Retry or Discard.
	ErrTimeout = errors.New("send reconciliation timed out")
	// ErrQueueFull: the per-conversation mutation queue is at capacity.
	ErrQueueFull = errors.New("mutation queue full")
	// ErrSessionClosed: the conversation session has been shut down.
	ErrSessionClosed = errors.New("session closed")
)

// ValidationError rejects a draft before any store interaction.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid draft: " + e.Reason }

// TransientError wraps a store/network failure that may succeed on a
// caller-initiated retry. Writes are never auto-retried; correlation
// tokens make a manual resend safe.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// WriteFailedError reports a failed send. It carries the original draft so
// the caller can offer retry without losing the user's input.
type WriteFailedError struct {
	Token string
	Draft models.Draft
	Err   error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("send %s failed: %v", e.Token, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }
