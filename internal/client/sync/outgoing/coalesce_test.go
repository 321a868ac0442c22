package outgoing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offlinesync/internal/models"
)

func event(id string, typ models.MutationType, payload string, at time.Time) *models.MutationEvent {
	return &models.MutationEvent{
		ID:           id,
		ModelID:      "r1",
		ModelName:    "note",
		MutationType: typ,
		Payload:      []byte(payload),
		CreatedAt:    at,
		Version:      at.UnixNano(),
	}
}

func TestCoalesce(t *testing.T) {
	t0 := time.Unix(100, 0)
	t1 := t0.Add(time.Second)

	tests := []struct {
		name        string
		existing    models.MutationType
		incoming    models.MutationType
		wantType    models.MutationType
		wantID      string
		wantPayload string
		wantNil     bool
	}{
		{name: "create then update", existing: models.MutationTypeCreate, incoming: models.MutationTypeUpdate,
			wantType: models.MutationTypeCreate, wantID: "old", wantPayload: `{"v":2}`},
		{name: "create then delete", existing: models.MutationTypeCreate, incoming: models.MutationTypeDelete,
			wantNil: true},
		{name: "update then update", existing: models.MutationTypeUpdate, incoming: models.MutationTypeUpdate,
			wantType: models.MutationTypeUpdate, wantID: "old", wantPayload: `{"v":2}`},
		{name: "update then delete", existing: models.MutationTypeUpdate, incoming: models.MutationTypeDelete,
			wantType: models.MutationTypeDelete, wantID: "old", wantPayload: `{"v":2}`},
		{name: "delete then create", existing: models.MutationTypeDelete, incoming: models.MutationTypeCreate,
			wantType: models.MutationTypeUpdate, wantID: "new", wantPayload: `{"v":2}`},
		{name: "delete then delete", existing: models.MutationTypeDelete, incoming: models.MutationTypeDelete,
			wantType: models.MutationTypeDelete, wantID: "old", wantPayload: `{"v":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := event("old", tt.existing, `{"v":1}`, t0)
			incoming := event("new", tt.incoming, `{"v":2}`, t1)

			got := Coalesce(existing, incoming)

			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.MutationType)
			assert.Equal(t, tt.wantID, got.ID)
			assert.Equal(t, tt.wantPayload, string(got.Payload))
		})
	}
}

func TestCoalesce_KeepsQueuePosition(t *testing.T) {
	t0 := time.Unix(100, 0)
	existing := event("old", models.MutationTypeCreate, `{}`, t0)
	incoming := event("new", models.MutationTypeUpdate, `{"x":1}`, t0.Add(time.Minute))

	got := Coalesce(existing, incoming)

	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Equal(t, incoming.Version, got.Version)
	// исходные события не меняются
	assert.Equal(t, models.MutationTypeCreate, existing.MutationType)
	assert.Equal(t, "{}", string(existing.Payload))
}

func TestCoalesce_NothingQueued(t *testing.T) {
	incoming := event("new", models.MutationTypeUpdate, `{}`, time.Now())
	assert.Same(t, incoming, Coalesce(nil, incoming))
}
