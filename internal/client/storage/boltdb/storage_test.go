package boltdb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/models"
)

// newTestStorage создаёт временное BoltDB хранилище
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestNew_Success(t *testing.T) {
	store := newTestStorage(t)

	// Проверяем, что бакеты существуют
	err := store.db.View(func(tx *bbolt.Tx) error {
		for _, b := range append([][]byte{bucketAuth}, syncBuckets...) {
			if tx.Bucket(b) == nil {
				return os.ErrNotExist
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	// путь внутри несуществующего каталога
	invalidPath := filepath.Join(t.TempDir(), "missing", "dir", "test.db")
	store, err := New(context.Background(), invalidPath)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.Nil(t, store.db)

	// Второй вызов Close ничего не делает
	assert.NoError(t, store.Close())

	_, err = store.PendingMutations(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestClear_KeepsAuth(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.SaveAuth(ctx, &storage.AuthData{Username: "alice", AccessToken: "t"}))
	_, err := store.EnqueueMutation(ctx, newEvent("ev1", "r1", models.MutationTypeCreate, time.Now()), nil)
	require.NoError(t, err)
	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
		Model:  remote("r2", 1, false),
		Action: models.ActionCreate,
	}))
	require.NoError(t, store.SaveModelSyncedAt(ctx, "note", 42))

	require.NoError(t, store.Clear(ctx))

	pending, err := store.PendingMutations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	records, err := store.ListRecords(ctx, "note")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = store.GetMetadata(ctx, "r2")
	assert.ErrorIs(t, err, storage.ErrMetadataNotFound)

	ts, err := store.GetModelSyncedAt(ctx, "note")
	require.NoError(t, err)
	assert.Zero(t, ts)

	auth, err := store.GetAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", auth.Username)
}

func newEvent(id, modelID string, typ models.MutationType, createdAt time.Time) *models.MutationEvent {
	return &models.MutationEvent{
		ID:           id,
		ModelID:      modelID,
		ModelName:    "note",
		MutationType: typ,
		Payload:      []byte(`{"title":"` + id + `"}`),
		CreatedAt:    createdAt,
		Version:      1,
	}
}

func remote(id string, version int64, deleted bool) models.RemoteModel {
	return models.RemoteModel{
		Model: models.Record{
			ID:        id,
			ModelName: "note",
			Payload:   json.RawMessage(`{"title":"remote ` + id + `"}`),
		},
		SyncMetadata: models.MutationSyncMetadata{
			ID:            id,
			Version:       version,
			Deleted:       deleted,
			LastChangedAt: 1000 * version,
		},
	}
}
