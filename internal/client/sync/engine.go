// Package sync is the sync engine: it owns the lifecycle state machine and
// wires the incoming queue, the outgoing queue and the initial sync together
// in a fixed startup order.
//
// All state transitions happen on one command-loop goroutine. Components
// never call back into the engine directly; they post actions to the loop.
// Side effects of the states run one at a time on a serial executor and post
// their completion tagged with the transition that started them, so a late
// completion of an abandoned phase is ignored.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/incoming"
	"github.com/iudanet/offlinesync/internal/client/sync/initial"
	"github.com/iudanet/offlinesync/internal/client/sync/outgoing"
	"github.com/iudanet/offlinesync/internal/client/sync/retry"
	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
	"github.com/iudanet/offlinesync/internal/client/telemetry"
	"github.com/iudanet/offlinesync/internal/crdt"
	"github.com/iudanet/offlinesync/internal/models"
	"github.com/iudanet/offlinesync/internal/validation"
)

// ErrInvalidMutation is returned by Submit for a malformed mutation.
var ErrInvalidMutation = errors.New("invalid mutation")

// Config параметры движка синхронизации
type Config struct {
	// Models типы записей, которые синхронизируются
	Models []string `mapstructure:"models"`
	// Restart политика перезапуска конвейера
	Restart retry.Config `mapstructure:"restart"`
	// Mutations политика повторной отправки мутаций
	Mutations retry.Config `mapstructure:"mutations"`
	// InitialSync параметры начальной синхронизации
	InitialSync initial.Config `mapstructure:"initial_sync"`
	// SubmitTimeout таймаут отправки одной мутации
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// SubmitOutcome describes what Submit did with a mutation.
type SubmitOutcome struct {
	// Event is the stamped mutation as submitted
	Event *models.MutationEvent
	// Queued is the event now waiting in the outgoing queue. It differs from
	// Event when the mutation was merged into an unsent one and is nil when
	// both cancelled out.
	Queued *models.MutationEvent
}

// Coalesced reports whether the mutation was merged with a queued one.
func (o SubmitOutcome) Coalesced() bool {
	return o.Queued == nil || o.Queued.ID != o.Event.ID
}

// Engine движок синхронизации
type Engine struct {
	store       storage.SyncStorage
	transports  TransportFactory
	identity    IdentityProvider
	reach       Reachability
	outgoing    *outgoing.Queue
	incoming    *incoming.Queue
	initial     *initial.Orchestrator
	policy      *retry.Policy
	clock       *crdt.LamportClock
	hub         *events.Hub
	metrics     *telemetry.SyncMetrics
	logger      *slog.Logger
	onConflict  outgoing.ConflictHandler
	now         func() time.Time
	run         *runtime
	resettables []Resettable
	cfg         Config
	snapshot    State
	mu          stdsync.Mutex
	stopping    bool
}

// Option настраивает Engine
type Option func(*Engine)

// WithIdentity задаёт источник сведений об авторизации
func WithIdentity(p IdentityProvider) Option {
	return func(e *Engine) { e.identity = p }
}

// WithReachability задаёт монитор доступности бэкенда
func WithReachability(r Reachability) Option {
	return func(e *Engine) { e.reach = r }
}

// WithHub задаёт шину событий
func WithHub(h *events.Hub) Option {
	return func(e *Engine) { e.hub = h }
}

// WithMetrics задаёт метрики
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger задаёт логгер
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConflictHandler задаёт разрешение конфликтов версий при отправке
func WithConflictHandler(h outgoing.ConflictHandler) Option {
	return func(e *Engine) { e.onConflict = h }
}

// WithClock задаёт часы Лэмпорта для версий мутаций
func WithClock(c *crdt.LamportClock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine and its components on top of store.
// Returns syncerr.ErrStorageAdapterMissing if store is nil.
func New(store storage.SyncStorage, transports TransportFactory, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, syncerr.ErrStorageAdapterMissing
	}
	if transports == nil {
		return nil, errors.New("transport factory is required")
	}

	e := &Engine{
		store:      store,
		transports: transports,
		cfg:        cfg,
		now:        time.Now,
		snapshot:   State{Kind: NotStarted},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = crdt.NewLamportClock()
	}

	for _, name := range cfg.Models {
		if err := validation.ValidateModelName(name); err != nil {
			return nil, fmt.Errorf("invalid model %q: %w", name, err)
		}
	}

	e.policy = retry.New(cfg.Restart)
	e.incoming = incoming.New(store,
		incoming.WithHub(e.hub),
		incoming.WithMetrics(e.metrics),
		incoming.WithLogger(e.logger.With("component", "incoming")))

	outOpts := []outgoing.Option{
		outgoing.WithPolicy(retry.New(cfg.Mutations)),
		outgoing.WithHub(e.hub),
		outgoing.WithMetrics(e.metrics),
		outgoing.WithLogger(e.logger.With("component", "outgoing")),
		outgoing.WithRemoteSink(func(ctx context.Context, remote []models.RemoteModel) error {
			_, err := e.incoming.Reconcile(ctx, remote)
			return err
		}),
	}
	if e.onConflict != nil {
		outOpts = append(outOpts, outgoing.WithConflictHandler(e.onConflict))
	}
	if cfg.SubmitTimeout > 0 {
		outOpts = append(outOpts, outgoing.WithSubmitTimeout(cfg.SubmitTimeout))
	}
	e.outgoing = outgoing.New(store, outOpts...)

	e.initial = initial.New(e.incoming, store,
		initial.WithConfig(cfg.InitialSync),
		initial.WithHub(e.hub),
		initial.WithMetrics(e.metrics),
		initial.WithLogger(e.logger.With("component", "initial")))

	e.resettables = []Resettable{
		e.incoming,
		e.outgoing,
		resetFunc(func(context.Context) error {
			e.policy.Reset()
			return nil
		}),
	}

	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Pending returns the number of mutations waiting to be sent.
func (e *Engine) Pending(ctx context.Context) (int, error) {
	return e.outgoing.Pending(ctx)
}

// Start launches the command loop and drives the engine to SyncEngineActive.
// It returns immediately; progress is published on the hub. The engine
// terminates when ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopping {
		return syncerr.ErrEngineStopped
	}
	if e.run != nil {
		if e.run.finished {
			return syncerr.ErrEngineStopped
		}
		return syncerr.ErrEngineRunning
	}

	rt := newRuntime(ctx)
	e.run = rt

	l := &loop{
		e:      e,
		rt:     rt,
		state:  State{Kind: NotStarted},
		online: true,
	}

	go rt.exec.run()
	go l.run()
	go e.watch(rt)

	rt.inbox <- message{action: Action{Kind: ActionStart}}
	e.logger.Info("Sync engine starting", "models", e.cfg.Models)
	return nil
}

// Stop terminates the engine. New mutations are rejected from now on,
// an in-flight submission is allowed to finish. onComplete is called exactly
// once, with the error that terminated the engine if it gave up on its own.
func (e *Engine) Stop(onComplete func(error)) {
	done := onceFunc(onComplete)

	e.mu.Lock()
	e.stopping = true
	rt := e.run

	if rt == nil {
		e.mu.Unlock()
		done(nil)
		return
	}
	if rt.finished {
		err := rt.result
		e.mu.Unlock()
		done(err)
		return
	}
	rt.waiters = append(rt.waiters, done)
	e.mu.Unlock()

	e.logger.Info("Sync engine stopping")
	rt.post(message{action: Action{Kind: ActionFinished}})
}

// StopAndWait is Stop that blocks until the engine terminated or ctx is done.
func (e *Engine) StopAndWait(ctx context.Context) error {
	result := make(chan error, 1)
	e.Stop(func(err error) { result <- err })

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset stops the engine, releases every component concurrently and returns
// the engine to NotStarted. Queued mutations and local records are kept.
// onComplete is called exactly once.
func (e *Engine) Reset(onComplete func(error)) {
	done := onceFunc(onComplete)

	e.Stop(func(stopErr error) {
		if stopErr != nil {
			e.logger.Warn("Engine had terminated with error before reset", "error", stopErr)
		}

		go func() {
			ctx := context.Background()
			g, gctx := errgroup.WithContext(ctx)
			for _, r := range e.resettables {
				g.Go(func() error { return r.Reset(gctx) })
			}
			err := g.Wait()

			e.mu.Lock()
			e.run = nil
			e.stopping = false
			e.snapshot = State{Kind: NotStarted}
			e.mu.Unlock()

			if err != nil {
				e.logger.Error("Sync engine reset failed", "error", err)
				done(fmt.Errorf("reset: %w", err))
				return
			}
			e.logger.Info("Sync engine reset")
			done(nil)
		}()
	})
}

// Submit validates and stamps a local mutation and queues it for sending.
// Mutations are accepted before Start, so local writes work offline.
func (e *Engine) Submit(ctx context.Context, ev *models.MutationEvent) (SubmitOutcome, error) {
	e.mu.Lock()
	stopping := e.stopping
	e.mu.Unlock()
	if stopping {
		return SubmitOutcome{}, syncerr.ErrEngineStopped
	}

	if err := validateMutation(ev); err != nil {
		return SubmitOutcome{}, err
	}

	stamped := ev.Clone()
	if stamped.ID == "" {
		stamped.ID = uuid.NewString()
	}
	if stamped.CreatedAt.IsZero() {
		stamped.CreatedAt = e.now()
	}
	stamped.Version = e.clock.Tick()
	stamped.InProcess = false

	queued, err := e.outgoing.Enqueue(ctx, stamped)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	return SubmitOutcome{Event: stamped, Queued: queued}, nil
}

func validateMutation(ev *models.MutationEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidMutation)
	}
	if !ev.MutationType.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMutation, ev.MutationType)
	}
	if err := validation.ValidateModelName(ev.ModelName); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}
	if err := validation.ValidateRecordID(ev.ModelID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}
	if ev.MutationType != models.MutationTypeDelete {
		if err := validation.ValidatePayload(ev.Payload); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMutation, err)
		}
	}
	return nil
}

// watch переводит отмену контекста и смену доступности в сообщения цикла
func (e *Engine) watch(rt *runtime) {
	var reach <-chan bool
	if e.reach != nil {
		reach = e.reach.Watch(rt.ctx)
	}

	for {
		select {
		case <-rt.ctx.Done():
			rt.post(message{action: Action{Kind: ActionFinished}})
			return
		case online, ok := <-reach:
			if !ok {
				reach = nil
				continue
			}
			rt.post(message{online: &online})
		}
	}
}

func (e *Engine) buildTransport(ctx context.Context) (Transport, AuthMode, error) {
	mode := AuthModeAnonymous
	if e.identity != nil && e.identity.IsAuthenticated(ctx) {
		mode = AuthModeUser
	}

	t, err := e.transports(ctx, mode)
	if err != nil {
		return nil, mode, fmt.Errorf("failed to build %s transport: %w", mode, err)
	}
	return t, mode, nil
}

func (e *Engine) setSnapshot(s State) {
	e.mu.Lock()
	e.snapshot = s
	e.mu.Unlock()
}

// finishRun вызывает ожидающих Stop ровно один раз
func (e *Engine) finishRun(rt *runtime, result error) {
	e.mu.Lock()
	rt.finished = true
	rt.result = result
	waiters := rt.waiters
	rt.waiters = nil
	close(rt.done)
	e.mu.Unlock()

	rt.cancel()
	rt.exec.Close()

	for _, w := range waiters {
		w(result)
	}
}

func onceFunc(fn func(error)) func(error) {
	if fn == nil {
		return func(error) {}
	}
	var once stdsync.Once
	return func(err error) {
		once.Do(func() { fn(err) })
	}
}
