package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != SyncMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewSyncMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewSyncMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("creates metrics with SDK provider", func(t *testing.T) {
		t.Parallel()

		mp := sdkmetric.NewMeterProvider()
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSyncMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)
		assert.NotNil(t, metrics.stateTransitions)
		assert.NotNil(t, metrics.initialSyncDuration)
	})

	t.Run("global provider", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewGlobalSyncMetrics()
		require.NoError(t, err)
		assert.NotNil(t, metrics)
	})
}

func TestSyncMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *SyncMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordStateTransition(ctx, "SyncEngineActive")
		metrics.RecordRestart(ctx, 2)
		metrics.RecordMutation(ctx, "note", OutcomeAcked)
		metrics.RecordReconciled(ctx, "note", "create", 3)
		metrics.RecordOutboxPending(ctx, 1)
		metrics.RecordInitialSyncDuration(ctx, time.Second, true)
	})
}

func TestSyncMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordStateTransition(ctx, "PausingSubscriptions")
	metrics.RecordStateTransition(ctx, "SyncEngineActive")
	metrics.RecordRestart(ctx, 1)
	metrics.RecordMutation(ctx, "note", OutcomeAcked)
	metrics.RecordMutation(ctx, "note", OutcomeAcked)
	metrics.RecordReconciled(ctx, "note", "create", 3)
	metrics.RecordReconciled(ctx, "note", "delete", 0)
	metrics.RecordOutboxPending(ctx, 4)
	metrics.RecordInitialSyncDuration(ctx, 1500*time.Millisecond, true)

	got := collect(t, reader)

	transitions, ok := got["offlinesync_state_transitions_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, transitions.DataPoints, 2)

	mutations, ok := got["offlinesync_mutations_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, mutations.DataPoints, 1)
	assert.Equal(t, int64(2), mutations.DataPoints[0].Value)

	reconciled, ok := got["offlinesync_reconciled_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, reconciled.DataPoints, 1)
	assert.Equal(t, int64(3), reconciled.DataPoints[0].Value)

	pending, ok := got["offlinesync_outbox_pending"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, pending.DataPoints, 1)
	assert.Equal(t, int64(4), pending.DataPoints[0].Value)

	hist, ok := got["offlinesync_initial_sync_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}
