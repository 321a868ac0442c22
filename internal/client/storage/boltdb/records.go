package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/models"
)

// GetRecord returns one record of the given model type
func (s *Storage) GetRecord(ctx context.Context, modelName, id string) (*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := modelBucket(tx, modelName)
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		record = &models.Record{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListRecords returns all local records of the given model type
func (s *Storage) ListRecords(ctx context.Context, modelName string) ([]models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := modelBucket(tx, modelName)
		if bucket == nil {
			// Нет bucket - возвращаем пустой список
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var record models.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}

// ApplyDisposition writes the record and its metadata in one transaction
func (s *Storage) ApplyDisposition(ctx context.Context, d models.Disposition) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	meta := d.Model.SyncMetadata
	meta.ID = d.Model.ID()

	return s.db.Update(func(tx *bbolt.Tx) error {
		// локальная правка, поставленная после чтения очереди, важнее удалённой копии
		queued, err := hasQueuedMutation(tx.Bucket(bucketMutations), meta.ID)
		if err != nil {
			return err
		}
		if queued {
			return fmt.Errorf("%w: %s", storage.ErrPendingMutation, meta.ID)
		}

		// метаданные первыми: при устаревшей версии запись не трогаем
		switch d.Action {
		case models.ActionCreate, models.ActionUpdate:
			if err := putMetadata(tx.Bucket(bucketMetadata), meta); err != nil {
				return err
			}
			return putRecord(tx, d.Model.Model)
		case models.ActionDelete:
			meta.Deleted = true
			if err := putMetadata(tx.Bucket(bucketMetadata), meta); err != nil {
				return err
			}
			return deleteRecord(tx, d.Model.Model.ModelName, meta.ID)
		default:
			return fmt.Errorf("unknown disposition action %d", d.Action)
		}
	})
}

func modelBucket(tx *bbolt.Tx, modelName string) *bbolt.Bucket {
	records := tx.Bucket(bucketRecords)
	if records == nil {
		return nil
	}
	return records.Bucket([]byte(modelName))
}

func putRecord(tx *bbolt.Tx, record models.Record) error {
	bucket, err := tx.Bucket(bucketRecords).CreateBucketIfNotExists([]byte(record.ModelName))
	if err != nil {
		return fmt.Errorf("failed to create %s bucket: %w", record.ModelName, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := bucket.Put([]byte(record.ID), data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func deleteRecord(tx *bbolt.Tx, modelName, id string) error {
	bucket := modelBucket(tx, modelName)
	if bucket == nil {
		return nil
	}
	if err := bucket.Delete([]byte(id)); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
