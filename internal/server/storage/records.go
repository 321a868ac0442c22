package storage

import (
	"context"
	"encoding/json"

	"github.com/iudanet/offlinesync/internal/models"
)

// Record серверная копия записи. Записи разных пользователей не пересекаются.
type Record struct {
	UserID        string          `json:"user_id"`
	ModelName     string          `json:"model_name"`
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Version       int64           `json:"version"`
	LastChangedAt int64           `json:"last_changed_at"` // unix millis
	Seq           int64           `json:"seq"`             // позиция в ленте изменений
	Deleted       bool            `json:"deleted"`
}

// Mutation изменение, присланное клиентом
type Mutation struct {
	UserID          string
	ModelName       string
	ModelID         string
	Type            models.MutationType
	Payload         json.RawMessage
	ExpectedVersion int64
}

// RecordStorage хранит записи и ленту изменений
type RecordStorage interface {
	// ApplyMutation applies m if ExpectedVersion matches the stored version
	// (0 for a record that was never created). Every accepted mutation bumps
	// the record version and moves it to the end of the change feed.
	// Returns *ConflictError on version mismatch and ErrRecordNotFound when
	// updating or deleting a record that was never created.
	ApplyMutation(ctx context.Context, m *Mutation) (*Record, error)

	// GetRecord returns ErrRecordNotFound if the record doesn't exist
	GetRecord(ctx context.Context, userID, modelName, id string) (*Record, error)

	// ListRecords returns up to limit records with id greater than afterID,
	// ordered by id. Deleted records are included.
	ListRecords(ctx context.Context, userID, modelName, afterID string, limit int) ([]Record, error)

	// Changes returns up to limit records changed after cursor, ordered by
	// seq, together with the current head of the feed.
	Changes(ctx context.Context, userID, modelName string, cursor int64, limit int) ([]Record, int64, error)

	// Head returns the seq of the latest accepted mutation, 0 if none
	Head(ctx context.Context) (int64, error)
}
