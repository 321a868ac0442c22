package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/models"
)

const keySyncedAtPrefix = "synced_at:"

// GetMetadata returns the sync metadata of one record
func (s *Storage) GetMetadata(ctx context.Context, id string) (*models.MutationSyncMetadata, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var meta *models.MutationSyncMetadata

	err := s.db.View(func(tx *bbolt.Tx) error {
		m, err := getMetadata(tx.Bucket(bucketMetadata), id)
		if err != nil {
			return err
		}
		if m == nil {
			return storage.ErrMetadataNotFound
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}

// GetMetadataBatch returns metadata for the given ids, skipping unknown ones
func (s *Storage) GetMetadataBatch(ctx context.Context, ids []string) ([]models.MutationSyncMetadata, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	result := make([]models.MutationSyncMetadata, 0, len(ids))

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		for _, id := range ids {
			m, err := getMetadata(bucket, id)
			if err != nil {
				return err
			}
			if m != nil {
				result = append(result, *m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata batch: %w", err)
	}

	return result, nil
}

// SaveModelSyncedAt remembers when a model type was last fully synced
func (s *Storage) SaveModelSyncedAt(ctx context.Context, modelName string, timestamp int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSyncState)
		if bucket == nil {
			return fmt.Errorf("sync state bucket not found")
		}

		// Конвертируем int64 в bytes
		timestampBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(timestampBytes, uint64(timestamp))

		if err := bucket.Put([]byte(keySyncedAtPrefix+modelName), timestampBytes); err != nil {
			return fmt.Errorf("failed to save synced_at for %s: %w", modelName, err)
		}

		return nil
	})
}

// GetModelSyncedAt returns the last full sync time of a model type
// Returns 0 if the model was never synced
func (s *Storage) GetModelSyncedAt(ctx context.Context, modelName string) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var timestamp int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSyncState)
		if bucket == nil {
			return fmt.Errorf("sync state bucket not found")
		}

		timestampBytes := bucket.Get([]byte(keySyncedAtPrefix + modelName))
		if timestampBytes == nil {
			return nil
		}

		timestamp = int64(binary.BigEndian.Uint64(timestampBytes))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get synced_at for %s: %w", modelName, err)
	}

	return timestamp, nil
}

func getMetadata(bucket *bbolt.Bucket, id string) (*models.MutationSyncMetadata, error) {
	if bucket == nil {
		return nil, fmt.Errorf("metadata bucket not found")
	}

	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, nil
	}

	var meta models.MutationSyncMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata %s: %w", id, err)
	}
	return &meta, nil
}

// putMetadata сохраняет метаданные; версия никогда не уменьшается
func putMetadata(bucket *bbolt.Bucket, meta models.MutationSyncMetadata) error {
	current, err := getMetadata(bucket, meta.ID)
	if err != nil {
		return err
	}
	if current != nil && current.Version > meta.Version {
		return fmt.Errorf("%w: %s stored %d, got %d", storage.ErrStaleVersion, meta.ID, current.Version, meta.Version)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := bucket.Put([]byte(meta.ID), data); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}
