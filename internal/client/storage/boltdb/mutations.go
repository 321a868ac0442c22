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

// mutationKey упорядочивает события по CreatedAt, затем по Version.
// Ключ: 8 байт unix nanos + 8 байт version + id события.
func mutationKey(ev *models.MutationEvent) []byte {
	key := make([]byte, 16, 16+len(ev.ID))
	binary.BigEndian.PutUint64(key[:8], uint64(ev.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], uint64(ev.Version))
	return append(key, ev.ID...)
}

// EnqueueMutation applies ev to the local record and queues it in one transaction
func (s *Storage) EnqueueMutation(
	ctx context.Context,
	ev *models.MutationEvent,
	merge storage.MergeFunc,
) (*models.MutationEvent, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var queued *models.MutationEvent

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := applyLocal(tx, ev); err != nil {
			return err
		}

		queue := tx.Bucket(bucketMutations)
		index := tx.Bucket(bucketMutationIndex)

		queued = ev
		if merge != nil {
			existing, err := latestUnsent(queue, ev.ModelID)
			if err != nil {
				return err
			}
			queued = merge(existing, ev)

			if existing != nil {
				if err := removeMutation(queue, index, existing.ID); err != nil {
					return err
				}
			}
		}

		if queued == nil {
			return nil
		}
		return putMutation(queue, index, queued)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	return queued, nil
}

// PendingMutations returns all queued events, oldest first
func (s *Storage) PendingMutations(ctx context.Context) ([]*models.MutationEvent, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var events []*models.MutationEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMutations).ForEach(func(k, v []byte) error {
			ev, err := decodeMutation(v)
			if err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending mutations: %w", err)
	}

	return events, nil
}

// ClaimNextMutation returns the oldest queued event flagged in process.
// Selection and flagging share one transaction, so a concurrent enqueue can
// never merge into the claimed event.
func (s *Storage) ClaimNextMutation(ctx context.Context) (*models.MutationEvent, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ev *models.MutationEvent

	err := s.db.Update(func(tx *bbolt.Tx) error {
		queue := tx.Bucket(bucketMutations)

		k, v := queue.Cursor().First()
		if v == nil {
			return storage.ErrMutationNotFound
		}

		var err error
		if ev, err = decodeMutation(v); err != nil {
			return err
		}
		if ev.InProcess {
			return nil
		}
		ev.InProcess = true
		return putEncoded(queue, append([]byte(nil), k...), ev)
	})
	if err != nil {
		return nil, err
	}

	return ev, nil
}

// AckMutation removes the event and stores the backend metadata in one transaction
func (s *Storage) AckMutation(ctx context.Context, eventID string, meta models.MutationSyncMetadata) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := removeMutation(tx.Bucket(bucketMutations), tx.Bucket(bucketMutationIndex), eventID); err != nil {
			return err
		}

		bucket := tx.Bucket(bucketMetadata)
		current, err := getMetadata(bucket, meta.ID)
		if err != nil {
			return err
		}
		// реконсиляция уже могла записать более новую версию
		if current != nil && current.Version > meta.Version {
			return nil
		}
		return putMetadata(bucket, meta)
	})
}

// DiscardMutation removes an event the backend will never accept and undoes
// its optimistic local write in the same transaction. remote is the backend
// copy that won a conflict, or nil when the event was rejected outright.
// Nothing is reverted while a later event for the same record is queued.
func (s *Storage) DiscardMutation(ctx context.Context, eventID string, remote *models.RemoteModel) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		queue := tx.Bucket(bucketMutations)
		index := tx.Bucket(bucketMutationIndex)

		key := index.Get([]byte(eventID))
		if key == nil {
			return storage.ErrMutationNotFound
		}
		ev, err := decodeMutation(queue.Get(key))
		if err != nil {
			return err
		}
		if err := removeMutation(queue, index, eventID); err != nil {
			return err
		}

		queued, err := hasQueuedMutation(queue, ev.ModelID)
		if err != nil || queued {
			return err
		}
		return revertLocal(tx, ev, remote)
	})
	if err != nil {
		return fmt.Errorf("failed to discard mutation %s: %w", eventID, err)
	}

	return nil
}

// ClearTransientMutationState resets the in-process flag of every event
func (s *Storage) ClearTransientMutationState(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		queue := tx.Bucket(bucketMutations)

		// bbolt не разрешает Put внутри ForEach, собираем заранее
		type entry struct {
			ev  *models.MutationEvent
			key []byte
		}
		var inProcess []entry

		err := queue.ForEach(func(k, v []byte) error {
			ev, err := decodeMutation(v)
			if err != nil {
				return err
			}
			if ev.InProcess {
				inProcess = append(inProcess, entry{key: append([]byte(nil), k...), ev: ev})
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, e := range inProcess {
			e.ev.InProcess = false
			if err := putEncoded(queue, e.key, e.ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear transient mutation state: %w", err)
	}

	return nil
}

// applyLocal отражает локальное изменение в bucket записей
func applyLocal(tx *bbolt.Tx, ev *models.MutationEvent) error {
	switch ev.MutationType {
	case models.MutationTypeCreate, models.MutationTypeUpdate:
		return putRecord(tx, models.Record{
			ID:        ev.ModelID,
			ModelName: ev.ModelName,
			Payload:   ev.Payload,
		})
	case models.MutationTypeDelete:
		return deleteRecord(tx, ev.ModelName, ev.ModelID)
	default:
		return fmt.Errorf("unknown mutation type %q", ev.MutationType)
	}
}

// revertLocal возвращает запись к состоянию бэкенда после отброшенного события
func revertLocal(tx *bbolt.Tx, ev *models.MutationEvent, remote *models.RemoteModel) error {
	bucket := tx.Bucket(bucketMetadata)
	meta, err := getMetadata(bucket, ev.ModelID)
	if err != nil {
		return err
	}

	if remote == nil {
		// запись ни разу не была на бэкенде: убираем её целиком.
		// Иначе полезную нагрузку вернёт следующая синхронизация той же версии
		if meta == nil || meta.Deleted {
			return deleteRecord(tx, ev.ModelName, ev.ModelID)
		}
		return nil
	}

	rm := remote.SyncMetadata
	rm.ID = ev.ModelID
	if meta != nil && meta.Version > rm.Version {
		return nil
	}
	if err := putMetadata(bucket, rm); err != nil {
		return err
	}
	if rm.Deleted {
		return deleteRecord(tx, ev.ModelName, ev.ModelID)
	}

	record := remote.Model
	record.ID = ev.ModelID
	if record.ModelName == "" {
		record.ModelName = ev.ModelName
	}
	return putRecord(tx, record)
}

// latestUnsent ищет последнее не отправляемое сейчас событие для записи
func latestUnsent(queue *bbolt.Bucket, modelID string) (*models.MutationEvent, error) {
	var latest *models.MutationEvent

	err := queue.ForEach(func(k, v []byte) error {
		ev, err := decodeMutation(v)
		if err != nil {
			return err
		}
		if ev.ModelID == modelID && !ev.InProcess {
			latest = ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return latest, nil
}

// hasQueuedMutation reports whether any event, in process or not, targets modelID
func hasQueuedMutation(queue *bbolt.Bucket, modelID string) (bool, error) {
	found := false
	c := queue.Cursor()
	for k, v := c.First(); k != nil && !found; k, v = c.Next() {
		ev, err := decodeMutation(v)
		if err != nil {
			return false, err
		}
		found = ev.ModelID == modelID
	}
	return found, nil
}

func putMutation(queue, index *bbolt.Bucket, ev *models.MutationEvent) error {
	key := mutationKey(ev)
	if err := putEncoded(queue, key, ev); err != nil {
		return err
	}
	if err := index.Put([]byte(ev.ID), key); err != nil {
		return fmt.Errorf("failed to index mutation: %w", err)
	}
	return nil
}

func removeMutation(queue, index *bbolt.Bucket, eventID string) error {
	key := index.Get([]byte(eventID))
	if key == nil {
		return storage.ErrMutationNotFound
	}
	if err := queue.Delete(key); err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	if err := index.Delete([]byte(eventID)); err != nil {
		return fmt.Errorf("failed to delete mutation index: %w", err)
	}
	return nil
}

func putEncoded(queue *bbolt.Bucket, key []byte, ev *models.MutationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}
	if err := queue.Put(key, data); err != nil {
		return fmt.Errorf("failed to save mutation: %w", err)
	}
	return nil
}

func decodeMutation(data []byte) (*models.MutationEvent, error) {
	if data == nil {
		return nil, storage.ErrMutationNotFound
	}
	var ev models.MutationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation: %w", err)
	}
	return &ev, nil
}
