package storage

import (
	"context"

	"github.com/iudanet/offlinesync/internal/models"
)

// MergeFunc combines an unsent queued event with a newer one for the same
// record. existing is nil when nothing is queued for the record. Returning
// nil drops both events.
type MergeFunc func(existing, incoming *models.MutationEvent) *models.MutationEvent

// MutationStorage defines the persisted outgoing mutation queue
type MutationStorage interface {
	// EnqueueMutation applies ev to the local record and queues it in one
	// transaction. The latest queued event for the same record that is not
	// in process is passed to merge together with ev. Returns the event that
	// ended up in the queue, or nil if merge dropped both.
	EnqueueMutation(ctx context.Context, ev *models.MutationEvent, merge MergeFunc) (*models.MutationEvent, error)

	// PendingMutations returns all queued events, oldest first
	PendingMutations(ctx context.Context) ([]*models.MutationEvent, error)

	// ClaimNextMutation returns the oldest queued event, flagged in process
	// in the same transaction. Returns ErrMutationNotFound if the queue is empty
	ClaimNextMutation(ctx context.Context) (*models.MutationEvent, error)

	// AckMutation removes the event and stores the metadata returned by the
	// backend in one transaction
	AckMutation(ctx context.Context, eventID string, meta models.MutationSyncMetadata) error

	// DiscardMutation removes an event the backend refused and reverts its
	// optimistic local write, to the remote copy when one is given
	DiscardMutation(ctx context.Context, eventID string, remote *models.RemoteModel) error

	// ClearTransientMutationState resets the in-process flag of every event
	ClearTransientMutationState(ctx context.Context) error
}

// SyncStorage is everything the sync engine needs from the local store
type SyncStorage interface {
	MetadataStorage
	RecordStorage
	MutationStorage

	// Clear removes all synced data and queued mutations, keeping auth
	Clear(ctx context.Context) error
}
