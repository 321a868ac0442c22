// Package telemetry provides OpenTelemetry metric instruments for the sync engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync engine meter
const SyncMetricsMeterName = "github.com/iudanet/offlinesync/sync"

// Mutation outcomes recorded by RecordMutation
const (
	OutcomeAcked    = "acked"
	OutcomeConflict = "conflict"
	OutcomeRetried  = "retried"
	OutcomeDropped  = "dropped"
)

// SyncMetrics holds the OpenTelemetry instruments for the sync engine.
// All methods are no-ops on a nil receiver.
type SyncMetrics struct {
	stateTransitions    metric.Int64Counter
	restarts            metric.Int64Counter
	mutations           metric.Int64Counter
	reconciled          metric.Int64Counter
	outboxPending       metric.Int64Gauge
	initialSyncDuration metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	stateTransitions, err := meter.Int64Counter(
		"offlinesync_state_transitions_total",
		metric.WithDescription("Number of sync engine state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	restarts, err := meter.Int64Counter(
		"offlinesync_restarts_total",
		metric.WithDescription("Number of sync pipeline restarts after an error"),
		metric.WithUnit("{restart}"),
	)
	if err != nil {
		return nil, err
	}

	mutations, err := meter.Int64Counter(
		"offlinesync_mutations_total",
		metric.WithDescription("Outgoing mutation submissions by outcome"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	reconciled, err := meter.Int64Counter(
		"offlinesync_reconciled_total",
		metric.WithDescription("Dispositions applied to the local store"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	outboxPending, err := meter.Int64Gauge(
		"offlinesync_outbox_pending",
		metric.WithDescription("Number of mutations waiting in the outgoing queue"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	initialSyncDuration, err := meter.Float64Histogram(
		"offlinesync_initial_sync_duration_seconds",
		metric.WithDescription("Duration of the initial sync in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		stateTransitions:    stateTransitions,
		restarts:            restarts,
		mutations:           mutations,
		reconciled:          reconciled,
		outboxPending:       outboxPending,
		initialSyncDuration: initialSyncDuration,
	}, nil
}

// NewGlobalSyncMetrics creates SyncMetrics on the global meter provider.
func NewGlobalSyncMetrics() (*SyncMetrics, error) {
	return NewSyncMetrics(otel.GetMeterProvider())
}

// RecordStateTransition counts entering a lifecycle state
func (m *SyncMetrics) RecordStateTransition(ctx context.Context, state string) {
	if m == nil || m.stateTransitions == nil {
		return
	}
	m.stateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordRestart counts a scheduled pipeline restart
func (m *SyncMetrics) RecordRestart(ctx context.Context, attempt int) {
	if m == nil || m.restarts == nil {
		return
	}
	m.restarts.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

// RecordMutation counts one outgoing mutation outcome
func (m *SyncMetrics) RecordMutation(ctx context.Context, modelName, outcome string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", modelName),
		attribute.String("outcome", outcome),
	))
}

// RecordReconciled counts dispositions applied for a model
func (m *SyncMetrics) RecordReconciled(ctx context.Context, modelName, action string, count int) {
	if m == nil || m.reconciled == nil || count == 0 {
		return
	}
	m.reconciled.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("model", modelName),
		attribute.String("action", action),
	))
}

// RecordOutboxPending records the current outgoing queue length
func (m *SyncMetrics) RecordOutboxPending(ctx context.Context, pending int) {
	if m == nil || m.outboxPending == nil {
		return
	}
	m.outboxPending.Record(ctx, int64(pending))
}

// RecordInitialSyncDuration records how long the initial sync took
func (m *SyncMetrics) RecordInitialSyncDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.initialSyncDuration == nil {
		return
	}
	m.initialSyncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}
