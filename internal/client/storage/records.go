package storage

import (
	"context"

	"github.com/iudanet/offlinesync/internal/models"
)

// RecordStorage defines read access to local records and the write path used
// by reconciliation
type RecordStorage interface {
	// GetRecord returns one record of the given model type
	// Returns ErrRecordNotFound if it doesn't exist locally
	GetRecord(ctx context.Context, modelName, id string) (*models.Record, error)

	// ListRecords returns all local records of the given model type
	ListRecords(ctx context.Context, modelName string) ([]models.Record, error)

	// ApplyDisposition writes the record and its metadata in one transaction.
	// Returns ErrStaleVersion if the stored version is newer than the disposition's
	// and ErrPendingMutation if the outgoing queue still holds an event for the record.
	ApplyDisposition(ctx context.Context, d models.Disposition) error
}
