package storage

import (
	"context"

	"github.com/iudanet/offlinesync/internal/models"
)

// MetadataStorage defines interface for per-record sync metadata
type MetadataStorage interface {
	// GetMetadata returns the sync metadata of one record
	// Returns ErrMetadataNotFound if the record was never synced
	GetMetadata(ctx context.Context, id string) (*models.MutationSyncMetadata, error)

	// GetMetadataBatch returns metadata for the given ids, skipping unknown ones
	GetMetadataBatch(ctx context.Context, ids []string) ([]models.MutationSyncMetadata, error)

	// SaveModelSyncedAt remembers when a model type was last fully synced
	SaveModelSyncedAt(ctx context.Context, modelName string, timestamp int64) error

	// GetModelSyncedAt returns the last full sync time of a model type
	// Returns 0 if the model was never synced
	GetModelSyncedAt(ctx context.Context, modelName string) (int64, error)
}
