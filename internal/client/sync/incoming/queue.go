// Package incoming implements the incoming reconciliation queue. It owns the
// live change subscriptions and is the single path through which remote
// records reach the local store, whether they come from a subscription or
// from the initial sync.
package incoming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/reconcile"
	"github.com/iudanet/offlinesync/internal/client/telemetry"
	"github.com/iudanet/offlinesync/internal/models"
)

// ErrNotOpen is returned by Resume when no subscriptions were opened.
var ErrNotOpen = errors.New("incoming queue is not open")

// cursorNow подписка с текущего момента
const cursorNow int64 = -1

// Subscriber opens a live change feed for one model type.
type Subscriber interface {
	Subscribe(ctx context.Context, modelName string, cursor int64, handle func(models.RemoteChange) error) error
}

// Store is the part of local storage the queue uses.
type Store interface {
	PendingMutations(ctx context.Context) ([]*models.MutationEvent, error)
	GetMetadataBatch(ctx context.Context, ids []string) ([]models.MutationSyncMetadata, error)
	ApplyDisposition(ctx context.Context, d models.Disposition) error
}

// Result counts applied dispositions.
type Result struct {
	Created int
	Updated int
	Deleted int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
}

// Total returns the number of applied dispositions.
func (r Result) Total() int {
	return r.Created + r.Updated + r.Deleted
}

// Queue очередь входящих изменений
type Queue struct {
	store      Store
	locks      *keyLock
	hub        *events.Hub
	metrics    *telemetry.SyncMetrics
	logger     *slog.Logger
	subscriber Subscriber
	onError    func(error)
	cancel     context.CancelFunc
	cursors    map[string]int64
	modelNames []string
	buffer     []models.RemoteModel
	wg         sync.WaitGroup
	// lifecycle сериализует Open/Activate/Resume/Cancel/Reset
	lifecycle sync.Mutex
	// mu защищает буфер, курсоры и флаг active
	mu     sync.Mutex
	active bool
}

// Option настраивает Queue
type Option func(*Queue)

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

// New creates a closed queue.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:   store,
		locks:   newKeyLock(),
		cursors: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Open subscribes to every model type, tailing each feed from now on.
// Notifications are buffered until Activate. onError receives subscription
// and reconciliation failures; the failing subscription stops after it.
func (q *Queue) Open(ctx context.Context, subscriber Subscriber, modelNames []string, onError func(error)) {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	q.stop()

	q.mu.Lock()
	q.active = false
	q.buffer = nil
	q.cursors = make(map[string]int64, len(modelNames))
	for _, name := range modelNames {
		q.cursors[name] = cursorNow
	}
	q.mu.Unlock()

	q.modelNames = append([]string(nil), modelNames...)
	q.onError = onError
	q.start(ctx, subscriber)

	q.logger.Info("Subscriptions opened", "models", modelNames)
	q.hub.Emit(events.SubscriptionsEstablished, q.modelNames)
}

// Activate reconciles the buffered notifications in arrival order and
// switches to applying new ones as they come.
func (q *Queue) Activate(ctx context.Context) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	// обработчики подписок ждут, пока буфер не будет применён
	q.mu.Lock()
	defer q.mu.Unlock()

	buffered := q.buffer
	q.buffer = nil

	if len(buffered) > 0 {
		res, err := q.Reconcile(ctx, buffered)
		if err != nil {
			return fmt.Errorf("failed to apply buffered notifications: %w", err)
		}
		q.logger.Debug("Buffered notifications applied",
			"received", len(buffered),
			"applied", res.Total())
	}

	q.active = true
	return nil
}

// Resume reopens the subscriptions from their saved cursors with a new
// transport. Buffering state is kept.
func (q *Queue) Resume(ctx context.Context, subscriber Subscriber) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.onError == nil {
		return ErrNotOpen
	}
	q.stop()
	q.start(ctx, subscriber)
	q.logger.Debug("Subscriptions resumed")
	return nil
}

// Cancel stops the subscriptions and waits for their handlers to return.
// Cursors and buffered notifications are kept for Resume.
func (q *Queue) Cancel() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	q.stop()
}

// Reset stops the subscriptions and forgets cursors, buffered notifications
// and the transport.
func (q *Queue) Reset(ctx context.Context) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	q.stop()

	q.mu.Lock()
	q.active = false
	q.buffer = nil
	q.cursors = make(map[string]int64)
	q.mu.Unlock()

	q.modelNames = nil
	q.subscriber = nil
	q.onError = nil
	return nil
}

// Active reports whether notifications are applied immediately.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Cursor returns the saved feed position of a model type.
func (q *Queue) Cursor(modelName string) (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.cursors[modelName]
	return c, ok
}

// Reconcile applies remote models to the local store. Models are
// deduplicated by id, the ids are locked for the duration of the pass and
// the dispositions are applied in order. A disposition rejected as stale, or
// for a record that got a local change queued meanwhile, is logged and skipped.
func (q *Queue) Reconcile(ctx context.Context, remote []models.RemoteModel) (Result, error) {
	var res Result

	remote = reconcile.Dedupe(remote)
	if len(remote) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(remote))
	for _, rm := range remote {
		ids = append(ids, rm.ID())
	}

	unlock := q.locks.Lock(ids)
	defer unlock()

	pending, err := q.store.PendingMutations(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load pending mutations: %w", err)
	}
	local, err := q.store.GetMetadataBatch(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("failed to load sync metadata: %w", err)
	}

	for _, d := range reconcile.Reconcile(remote, pending, local) {
		err := q.store.ApplyDisposition(ctx, d)
		if errors.Is(err, storage.ErrStaleVersion) {
			q.logger.Warn("Skipping stale disposition",
				"id", d.Model.ID(),
				"action", d.Action,
				"version", d.Model.SyncMetadata.Version)
			continue
		}
		if errors.Is(err, storage.ErrPendingMutation) {
			q.logger.Debug("Skipping disposition for locally changed record",
				"id", d.Model.ID(),
				"action", d.Action)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to apply %s of %s: %w", d.Action, d.Model.ID(), err)
		}

		switch d.Action {
		case models.ActionCreate:
			res.Created++
		case models.ActionUpdate:
			res.Updated++
		case models.ActionDelete:
			res.Deleted++
		}
		q.metrics.RecordReconciled(ctx, d.Model.Model.ModelName, d.Action.String(), 1)
	}

	return res, nil
}

func (q *Queue) start(ctx context.Context, subscriber Subscriber) {
	subCtx, cancel := context.WithCancel(ctx)
	q.subscriber = subscriber
	q.cancel = cancel

	q.mu.Lock()
	cursors := make(map[string]int64, len(q.modelNames))
	for _, name := range q.modelNames {
		cursors[name] = q.cursors[name]
	}
	q.mu.Unlock()

	for _, name := range q.modelNames {
		q.wg.Add(1)
		go q.subscribe(subCtx, subscriber, name, cursors[name], q.onError)
	}
}

func (q *Queue) stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
	q.cancel = nil
}

func (q *Queue) subscribe(ctx context.Context, subscriber Subscriber, modelName string, cursor int64, onError func(error)) {
	defer q.wg.Done()

	q.logger.Debug("Subscribing to changes", "model", modelName, "cursor", cursor)

	err := subscriber.Subscribe(ctx, modelName, cursor, func(ch models.RemoteChange) error {
		return q.handle(ctx, modelName, ch)
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("feed closed")
	}

	err = fmt.Errorf("subscription to %s failed: %w", modelName, err)
	q.logger.Error("Subscription stopped", "model", modelName, "error", err)
	if onError != nil {
		onError(err)
	}
}

func (q *Queue) handle(ctx context.Context, modelName string, ch models.RemoteChange) error {
	q.mu.Lock()
	if !q.active {
		if !ch.Heartbeat() {
			q.buffer = append(q.buffer, ch.Model)
		}
		q.cursors[modelName] = ch.Cursor
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	if !ch.Heartbeat() {
		res, err := q.Reconcile(ctx, []models.RemoteModel{ch.Model})
		if err != nil {
			return err
		}
		q.logger.Debug("Remote change reconciled",
			"model", modelName,
			"id", ch.Model.ID(),
			"version", ch.Model.SyncMetadata.Version,
			"applied", res.Total())
	}

	q.mu.Lock()
	q.cursors[modelName] = ch.Cursor
	q.mu.Unlock()
	return nil
}
