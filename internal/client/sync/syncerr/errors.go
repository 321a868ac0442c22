// Package syncerr defines the error taxonomy shared by the sync engine,
// its queues and the remote transport.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/iudanet/offlinesync/internal/models"
)

var (
	// ErrUnauthorized indicates that the backend rejected the credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetworkUnavailable indicates that the backend could not be reached
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrThrottled indicates that the backend asked the client to slow down
	ErrThrottled = errors.New("request throttled")

	// ErrStorageAdapterMissing indicates that the engine was built without local storage
	ErrStorageAdapterMissing = errors.New("storage adapter is not configured")

	// ErrEngineStopped indicates that the engine no longer accepts work
	ErrEngineStopped = errors.New("sync engine is stopped")

	// ErrEngineRunning indicates that Start was called on a running engine
	ErrEngineRunning = errors.New("sync engine is already running")

	// ErrRetriesExhausted indicates that the retry policy gave up
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
)

// ConflictError is returned by the transport when the expected version of a
// submitted mutation does not match the backend. Remote carries the
// authoritative backend copy of the record.
type ConflictError struct {
	Remote models.RemoteModel
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: remote version %d",
		e.Remote.Model.ModelName, e.Remote.ID(), e.Remote.SyncMetadata.Version)
}

// Class groups errors by how the sync core reacts to them.
type Class int

const (
	// ClassTransient errors are retried with backoff
	ClassTransient Class = iota
	// ClassUnauthorized errors restart the pipeline (credentials may need refresh)
	ClassUnauthorized
	// ClassConflict errors are resolved by reconciliation
	ClassConflict
	// ClassPermanent errors are never retried
	ClassPermanent
	// ClassFatal errors prevent the engine from running at all
	ClassFatal
	// ClassCanceled errors come from context cancellation
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassConflict:
		return "conflict"
	case ClassPermanent:
		return "permanent"
	case ClassFatal:
		return "fatal"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps err onto the sync error taxonomy.
func Classify(err error) Class {
	var conflict *ConflictError
	var permanent *backoff.PermanentError

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &conflict):
		return ClassConflict
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrStorageAdapterMissing):
		return ClassFatal
	case errors.As(err, &permanent):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// IsRetryable reports whether err may be retried at the component boundary.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// RetryAfter extracts an explicit retry hint from err, if the backend sent one.
func RetryAfter(err error) (time.Duration, bool) {
	var hint *backoff.RetryAfterError
	if errors.As(err, &hint) && hint.Duration > 0 {
		return hint.Duration, true
	}
	return 0, false
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Throttled wraps ErrThrottled with an optional retry-after hint in seconds.
func Throttled(seconds int) error {
	if seconds <= 0 {
		return ErrThrottled
	}
	return fmt.Errorf("%w: %w", ErrThrottled, backoff.RetryAfter(seconds))
}
