package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrRecordNotFound indicates that a local record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrMetadataNotFound indicates that no sync metadata exists for a record
	ErrMetadataNotFound = errors.New("sync metadata not found")

	// ErrMutationNotFound indicates that the outgoing queue has no such event
	ErrMutationNotFound = errors.New("mutation event not found")

	// ErrStaleVersion indicates an attempt to lower the stored version of a record
	ErrStaleVersion = errors.New("stale version")

	// ErrPendingMutation indicates that the record has a local change still queued
	ErrPendingMutation = errors.New("record has a pending local mutation")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
