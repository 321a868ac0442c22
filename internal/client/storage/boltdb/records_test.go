package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/models"
)

func TestApplyDisposition_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
		Model:  remote("r1", 1, false),
		Action: models.ActionCreate,
	}))

	rec, err := store.GetRecord(ctx, "note", "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"remote r1"}`, string(rec.Payload))

	updated := remote("r1", 2, false)
	updated.Model.Payload = []byte(`{"title":"changed"}`)
	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{Model: updated, Action: models.ActionUpdate}))

	rec, err = store.GetRecord(ctx, "note", "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"changed"}`, string(rec.Payload))

	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
		Model:  remote("r1", 3, true),
		Action: models.ActionDelete,
	}))

	_, err = store.GetRecord(ctx, "note", "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	meta, err := store.GetMetadata(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Version)
	assert.True(t, meta.Deleted)
}

func TestApplyDisposition_RefusesLowerVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
		Model:  remote("r1", 5, false),
		Action: models.ActionCreate,
	}))

	stale := remote("r1", 4, false)
	stale.Model.Payload = []byte(`{"title":"stale"}`)
	err := store.ApplyDisposition(ctx, models.Disposition{Model: stale, Action: models.ActionUpdate})
	assert.ErrorIs(t, err, storage.ErrStaleVersion)

	// запись не изменилась
	rec, err := store.GetRecord(ctx, "note", "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"remote r1"}`, string(rec.Payload))
}

func TestApplyDisposition_SkipsRecordWithQueuedMutation(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
		Model:  remote("r1", 1, false),
		Action: models.ActionCreate,
	}))
	_, err := store.EnqueueMutation(ctx, newEvent("ev1", "r1", models.MutationTypeUpdate, time.Now()), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		model  models.RemoteModel
		action models.Action
	}{
		{name: "update", model: remote("r1", 2, false), action: models.ActionUpdate},
		{name: "delete", model: remote("r1", 2, true), action: models.ActionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ApplyDisposition(ctx, models.Disposition{Model: tt.model, Action: tt.action})
			assert.ErrorIs(t, err, storage.ErrPendingMutation)

			rec, err := store.GetRecord(ctx, "note", "r1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"title":"ev1"}`, string(rec.Payload))

			meta, err := store.GetMetadata(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), meta.Version)
		})
	}

	// после подтверждения удалённые изменения снова применяются
	_, err = store.ClaimNextMutation(ctx)
	require.NoError(t, err)
	require.NoError(t, store.AckMutation(ctx, "ev1", remote("r1", 2, false).SyncMetadata))
	assert.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
		Model:  remote("r1", 3, false),
		Action: models.ActionUpdate,
	}))
}

func TestApplyDisposition_UnknownAction(t *testing.T) {
	store := newTestStorage(t)

	err := store.ApplyDisposition(context.Background(), models.Disposition{Model: remote("r1", 1, false)})
	assert.Error(t, err)
}

func TestListRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	records, err := store.ListRecords(ctx, "note")
	require.NoError(t, err)
	assert.Empty(t, records)

	for _, id := range []string{"b", "a"} {
		require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{
			Model:  remote(id, 1, false),
			Action: models.ActionCreate,
		}))
	}
	other := remote("t1", 1, false)
	other.Model.ModelName = "task"
	require.NoError(t, store.ApplyDisposition(ctx, models.Disposition{Model: other, Action: models.ActionCreate}))

	records, err = store.ListRecords(ctx, "note")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// bbolt хранит ключи отсортированными
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}
