// Package outgoing implements the outgoing mutation queue: local mutations
// are persisted, coalesced per record and submitted to the backend one at a
// time, oldest first.
package outgoing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/retry"
	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
	"github.com/iudanet/offlinesync/internal/client/telemetry"
	"github.com/iudanet/offlinesync/internal/models"
)

// DefaultSubmitTimeout ограничивает одну отправку мутации
const DefaultSubmitTimeout = 30 * time.Second

// ErrNotStarted is returned by Resume when the queue was never started.
var ErrNotStarted = errors.New("outgoing queue was not started")

// Submitter sends one mutation to the backend.
type Submitter interface {
	SubmitMutation(ctx context.Context, ev *models.MutationEvent, expectedVersion int64) (*models.MutationSyncMetadata, error)
}

// Store is the part of local storage the queue uses.
type Store interface {
	storage.MutationStorage
	GetMetadata(ctx context.Context, id string) (*models.MutationSyncMetadata, error)
}

// ConflictAction решение по конфликту версий
type ConflictAction int

const (
	// ApplyRemote drops the local event and reconciles the backend copy
	ApplyRemote ConflictAction = iota
	// RetryLocal resubmits the local event on top of the backend version
	RetryLocal
)

// ConflictHandler decides how a version conflict on submission is resolved.
type ConflictHandler func(ev *models.MutationEvent, remote models.RemoteModel) ConflictAction

// RemoteSink receives authoritative backend copies that must be reconciled.
type RemoteSink func(ctx context.Context, remote []models.RemoteModel) error

// Queue очередь исходящих мутаций
type Queue struct {
	store         Store
	policy        *retry.Policy
	hub           *events.Hub
	metrics       *telemetry.SyncMetrics
	logger        *slog.Logger
	onConflict    ConflictHandler
	sink          RemoteSink
	notify        chan struct{}
	submitter     Submitter
	onError       func(error)
	cancel        context.CancelFunc
	done          chan struct{}
	submitTimeout time.Duration
	mu            sync.Mutex
}

// Option настраивает Queue
type Option func(*Queue)

// WithPolicy задаёт политику повторов
func WithPolicy(p *retry.Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithHub задаёт шину событий
func WithHub(h *events.Hub) Option {
	return func(q *Queue) { q.hub = h }
}

// WithMetrics задаёт метрики
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger задаёт логгер
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithConflictHandler задаёт обработчик конфликтов версий
func WithConflictHandler(h ConflictHandler) Option {
	return func(q *Queue) { q.onConflict = h }
}

// WithRemoteSink задаёт приёмник авторитетных копий записей
func WithRemoteSink(s RemoteSink) Option {
	return func(q *Queue) { q.sink = s }
}

// WithSubmitTimeout задаёт таймаут одной отправки
func WithSubmitTimeout(d time.Duration) Option {
	return func(q *Queue) { q.submitTimeout = d }
}

// New creates a stopped queue.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:         store,
		notify:        make(chan struct{}, 1),
		submitTimeout: DefaultSubmitTimeout,
		onConflict: func(*models.MutationEvent, models.RemoteModel) ConflictAction {
			return ApplyRemote
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.policy == nil {
		q.policy = retry.New(retry.DefaultConfig())
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Enqueue persists ev, coalescing it with an unsent event for the same
// record, and wakes the worker. It works while the queue is paused.
func (q *Queue) Enqueue(ctx context.Context, ev *models.MutationEvent) (*models.MutationEvent, error) {
	queued, err := q.store.EnqueueMutation(ctx, ev, Coalesce)
	if err != nil {
		return nil, err
	}

	q.hub.Emit(events.OutboxMutationEnqueued, mutationData(ev))
	q.logger.Debug("Mutation enqueued",
		"event_id", ev.ID,
		"model", ev.ModelName,
		"model_id", ev.ModelID,
		"type", ev.MutationType,
		"coalesced", queued == nil || queued.ID != ev.ID)

	q.wake()
	q.publishStatus(ctx)
	return queued, nil
}

// Start launches the worker with the given transport. onError receives
// failures that cannot be handled inside the queue; the worker stops after
// reporting one.
func (q *Queue) Start(ctx context.Context, submitter Submitter, onError func(error)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopLocked()
	q.onError = onError
	q.startLocked(ctx, submitter)
}

// Resume restarts a paused worker, swapping in a new transport.
func (q *Queue) Resume(ctx context.Context, submitter Submitter) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.onError == nil {
		return ErrNotStarted
	}
	q.stopLocked()
	q.startLocked(ctx, submitter)
	return nil
}

// Pause stops draining the queue. An in-flight submission is allowed to
// complete; Pause returns after it did.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
}

// Running reports whether the worker is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done != nil
}

// Reset stops the worker and forgets the transport and error callback.
func (q *Queue) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopLocked()
	q.submitter = nil
	q.onError = nil
	q.policy.Reset()
	return nil
}

// Pending returns the number of queued events.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	pending, err := q.store.PendingMutations(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (q *Queue) startLocked(ctx context.Context, submitter Submitter) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	q.submitter = submitter
	q.cancel = cancel
	q.done = done

	go q.run(workerCtx, submitter, q.onError, done)
	q.wake()
}

func (q *Queue) stopLocked() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
	q.cancel = nil
	q.done = nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context, submitter Submitter, onError func(error), done chan struct{}) {
	defer close(done)

	q.logger.Debug("Outgoing queue started")
	defer q.logger.Debug("Outgoing queue stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		ev, err := q.store.ClaimNextMutation(ctx)
		if errors.Is(err, storage.ErrMutationNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		if err != nil {
			q.report(ctx, onError, fmt.Errorf("failed to load next mutation: %w", err))
			return
		}

		if err := q.process(ctx, submitter, ev); err != nil {
			q.report(ctx, onError, err)
			return
		}
	}
}

func (q *Queue) report(ctx context.Context, onError func(error), err error) {
	if ctx.Err() != nil || syncerr.Classify(err) == syncerr.ClassCanceled {
		return
	}
	q.logger.Error("Outgoing queue failed", "error", err)
	if onError != nil {
		onError(err)
	}
}

// process отправляет одно событие, повторяя при временных ошибках
func (q *Queue) process(ctx context.Context, submitter Submitter, ev *models.MutationEvent) error {
	// отправка и подтверждение не прерываются паузой
	base := context.WithoutCancel(ctx)

	expected, err := q.expectedVersion(base, ev.ModelID)
	if err != nil {
		return err
	}

	for {
		meta, err := q.submit(base, submitter, ev, expected)
		if err == nil {
			return q.ack(base, ev, meta)
		}

		switch syncerr.Classify(err) {
		case syncerr.ClassConflict:
			var conflict *syncerr.ConflictError
			errors.As(err, &conflict)

			if q.onConflict(ev, conflict.Remote) == RetryLocal {
				q.logger.Info("Resubmitting mutation over remote version",
					"event_id", ev.ID,
					"model_id", ev.ModelID,
					"remote_version", conflict.Remote.SyncMetadata.Version)
				q.metrics.RecordMutation(base, ev.ModelName, telemetry.OutcomeRetried)

				if ev.MutationType == models.MutationTypeCreate {
					ev.MutationType = models.MutationTypeUpdate
				}
				expected = conflict.Remote.SyncMetadata.Version
				if err := q.wait(ctx, err); err != nil {
					return err
				}
				continue
			}
			return q.applyRemote(base, ev, conflict.Remote)

		case syncerr.ClassPermanent:
			// бэкенд никогда не примет это событие
			q.logger.Error("Dropping rejected mutation",
				"event_id", ev.ID,
				"model_id", ev.ModelID,
				"error", err)
			if delErr := q.store.DiscardMutation(base, ev.ID, nil); delErr != nil {
				return fmt.Errorf("failed to drop rejected mutation %s: %w", ev.ID, delErr)
			}
			q.metrics.RecordMutation(base, ev.ModelName, telemetry.OutcomeDropped)
			q.hub.Publish(events.Event{Name: events.OutboxMutationProcessed, Data: mutationData(ev), Err: err})
			q.publishStatus(base)
			return nil

		case syncerr.ClassTransient:
			q.logger.Warn("Mutation submission failed, retrying",
				"event_id", ev.ID,
				"attempt", q.policy.Attempt(),
				"error", err)
			q.metrics.RecordMutation(base, ev.ModelName, telemetry.OutcomeRetried)
			if err := q.wait(ctx, err); err != nil {
				return err
			}

		default:
			return fmt.Errorf("submit mutation %s: %w", ev.ID, err)
		}
	}
}

func (q *Queue) submit(
	ctx context.Context,
	submitter Submitter,
	ev *models.MutationEvent,
	expected int64,
) (*models.MutationSyncMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, q.submitTimeout)
	defer cancel()
	return submitter.SubmitMutation(ctx, ev, expected)
}

// wait ждёт задержку политики повторов; пауза прерывает ожидание
func (q *Queue) wait(ctx context.Context, cause error) error {
	delay, ok := q.policy.Next(cause)
	if !ok {
		return fmt.Errorf("%w: %w", syncerr.ErrRetriesExhausted, cause)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *Queue) ack(ctx context.Context, ev *models.MutationEvent, meta *models.MutationSyncMetadata) error {
	ack := *meta
	if ack.ID == "" {
		ack.ID = ev.ModelID
	}
	if err := q.store.AckMutation(ctx, ev.ID, ack); err != nil {
		return fmt.Errorf("failed to ack mutation %s: %w", ev.ID, err)
	}

	q.policy.Reset()
	q.metrics.RecordMutation(ctx, ev.ModelName, telemetry.OutcomeAcked)
	q.hub.Emit(events.OutboxMutationProcessed, mutationData(ev))
	q.logger.Debug("Mutation acknowledged",
		"event_id", ev.ID,
		"model_id", ev.ModelID,
		"version", ack.Version)
	q.publishStatus(ctx)
	return nil
}

func (q *Queue) applyRemote(ctx context.Context, ev *models.MutationEvent, remote models.RemoteModel) error {
	q.logger.Info("Mutation conflicts with backend, applying remote version",
		"event_id", ev.ID,
		"model_id", ev.ModelID,
		"remote_version", remote.SyncMetadata.Version)

	if err := q.store.DiscardMutation(ctx, ev.ID, &remote); err != nil {
		return fmt.Errorf("failed to drop conflicting mutation %s: %w", ev.ID, err)
	}
	q.policy.Reset()
	q.metrics.RecordMutation(ctx, ev.ModelName, telemetry.OutcomeConflict)
	q.hub.Publish(events.Event{
		Name: events.OutboxMutationProcessed,
		Data: mutationData(ev),
		Err:  &syncerr.ConflictError{Remote: remote},
	})

	if q.sink != nil {
		if err := q.sink(ctx, []models.RemoteModel{remote}); err != nil {
			return fmt.Errorf("failed to reconcile remote copy of %s: %w", ev.ModelID, err)
		}
	}
	q.publishStatus(ctx)
	return nil
}

func (q *Queue) expectedVersion(ctx context.Context, modelID string) (int64, error) {
	meta, err := q.store.GetMetadata(ctx, modelID)
	if errors.Is(err, storage.ErrMetadataNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load metadata for %s: %w", modelID, err)
	}
	return meta.Version, nil
}

func (q *Queue) publishStatus(ctx context.Context) {
	pending, err := q.Pending(ctx)
	if err != nil {
		q.logger.Warn("Failed to count pending mutations", "error", err)
		return
	}
	q.metrics.RecordOutboxPending(ctx, pending)
	q.hub.Emit(events.OutboxStatus, events.OutboxStatusData{Pending: pending, Empty: pending == 0})
}

func mutationData(ev *models.MutationEvent) events.MutationData {
	return events.MutationData{
		EventID:   ev.ID,
		ModelID:   ev.ModelID,
		ModelName: ev.ModelName,
		Type:      string(ev.MutationType),
	}
}
