package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offlinesync/internal/client/storage/boltdb"
	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/retry"
	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
	"github.com/iudanet/offlinesync/internal/models"
)

// fakeTransport бэкенд в памяти
type fakeTransport struct {
	pages map[string][]models.RemoteModel
	feed  chan models.RemoteChange
	// gate если задан, FetchAll ждёт его закрытия
	gate      chan struct{}
	fetchErrs []error
	submitted []*models.MutationEvent
	fetches   int
	mu        stdsync.Mutex
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pages: map[string][]models.RemoteModel{},
		feed:  make(chan models.RemoteChange),
	}
}

func (f *fakeTransport) SubmitMutation(
	ctx context.Context,
	ev *models.MutationEvent,
	expected int64,
) (*models.MutationSyncMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, ev.Clone())
	return &models.MutationSyncMetadata{ID: ev.ModelID, Version: expected + 1}, nil
}

func (f *fakeTransport) Subscribe(
	ctx context.Context,
	modelName string,
	cursor int64,
	handle func(models.RemoteChange) error,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch := <-f.feed:
			if err := handle(ch); err != nil {
				return err
			}
		}
	}
}

func (f *fakeTransport) FetchAll(ctx context.Context, modelName, pageToken string, limit int) (*models.RemotePage, error) {
	f.mu.Lock()
	f.fetches++
	var err error
	if len(f.fetchErrs) > 0 {
		err = f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
	}
	gate := f.gate
	items := f.pages[modelName]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &models.RemotePage{Items: items}, nil
}

func (f *fakeTransport) Submitted() []*models.MutationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.MutationEvent(nil), f.submitted...)
}

func (f *fakeTransport) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeIdentity struct {
	authenticated bool
}

func (f fakeIdentity) IsAuthenticated(ctx context.Context) bool {
	return f.authenticated
}

type fakeReachability struct {
	ch chan bool
}

func (f *fakeReachability) Watch(ctx context.Context) <-chan bool {
	return f.ch
}

type fixture struct {
	engine    *Engine
	store     *boltdb.Storage
	transport *fakeTransport
	events    <-chan events.Event
	modes     []AuthMode
	builds    atomic.Int32
	mu        stdsync.Mutex
}

func (f *fixture) Modes() []AuthMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AuthMode(nil), f.modes...)
}

func fastRetry(maxAttempts int) retry.Config {
	return retry.Config{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxAttempts:         maxAttempts,
	}
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := events.NewHub(nil)
	ch, cancel := hub.Subscribe(1024)
	t.Cleanup(cancel)

	f := &fixture{store: store, transport: newFakeTransport(), events: ch}

	factory := func(ctx context.Context, mode AuthMode) (Transport, error) {
		f.builds.Add(1)
		f.mu.Lock()
		f.modes = append(f.modes, mode)
		f.mu.Unlock()
		return f.transport, nil
	}

	if cfg.Models == nil {
		cfg.Models = []string{"note"}
	}
	if cfg.Restart == (retry.Config{}) {
		cfg.Restart = fastRetry(0)
	}
	if cfg.Mutations == (retry.Config{}) {
		cfg.Mutations = fastRetry(0)
	}

	f.engine, err = New(store, factory, cfg, append([]Option{WithHub(hub)}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.engine.StopAndWait(ctx)
	})
	return f
}

func waitState(t *testing.T, e *Engine, kind StateKind) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State().Kind == kind },
		2*time.Second, time.Millisecond, "state is %s", e.State())
}

// transitions вычитывает накопленные события смены состояния
func transitions(ch <-chan events.Event) []string {
	var out []string
	for {
		select {
		case ev := <-ch:
			if ev.Name == events.SyncStateChanged {
				out = append(out, ev.Data.(events.StateChange).To)
			}
		default:
			return out
		}
	}
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func newNote(id, payload string) *models.MutationEvent {
	return &models.MutationEvent{
		ModelID:      id,
		ModelName:    "note",
		MutationType: models.MutationTypeCreate,
		Payload:      []byte(payload),
	}
}

var startup = []string{
	"pausingSubscriptions",
	"pausingMutationQueue",
	"clearingOutgoingMutationState",
	"initializingSubscriptions",
	"performingInitialSync",
	"activatingCloudSubscriptions",
	"activatingMutationQueue",
	"notifyingSyncStarted",
	"syncEngineActive",
}

func TestEngine_StartReachesActive(t *testing.T) {
	f := newFixture(t, Config{})
	f.transport.pages["note"] = []models.RemoteModel{{
		Model:        models.Record{ID: "n1", ModelName: "note", Payload: []byte(`{"a":1}`)},
		SyncMetadata: models.MutationSyncMetadata{ID: "n1", Version: 1},
	}}

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, SyncEngineActive)

	// каждая фаза выполняется ровно один раз
	assert.Equal(t, startup, transitions(f.events))

	rec, err := f.store.GetRecord(context.Background(), "note", "n1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(rec.Payload))

	assert.Equal(t, 1, f.engine.policy.Attempt())
	assert.Equal(t, []AuthMode{AuthModeAnonymous}, f.Modes())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.StopAndWait(ctx))
	assert.Equal(t, Terminate, f.engine.State().Kind)
	assert.Equal(t, []string{"cleaningUpForTermination", "terminate"}, transitions(f.events))
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, SyncEngineActive)

	names := map[events.Name]int{}
	for _, ev := range drain(f.events) {
		names[ev.Name]++
	}
	assert.Equal(t, 1, names[events.SubscriptionsEstablished])
	assert.Equal(t, 1, names[events.SyncQueriesStarted])
	assert.Equal(t, 1, names[events.ModelSynced])
	assert.Equal(t, 1, names[events.SyncQueriesReady])
	assert.Equal(t, 1, names[events.SyncStarted])
	assert.Equal(t, 1, names[events.Ready])
}

func TestEngine_UsesUserModeWhenAuthenticated(t *testing.T) {
	f := newFixture(t, Config{}, WithIdentity(fakeIdentity{authenticated: true}))

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, SyncEngineActive)
	assert.Equal(t, []AuthMode{AuthModeUser}, f.Modes())
}

func TestEngine_SubmitBeforeStartIsSent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	out, err := f.engine.Submit(ctx, newNote("n1", `{"title":"offline"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, out.Event.ID)
	assert.False(t, out.Event.CreatedAt.IsZero())
	assert.Positive(t, out.Event.Version)
	assert.False(t, out.Coalesced())

	n, err := f.engine.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// локальная запись доступна до синхронизации
	_, err = f.store.GetRecord(ctx, "note", "n1")
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(ctx))
	require.Eventually(t, func() bool { return len(f.transport.Submitted()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, out.Event.ID, f.transport.Submitted()[0].ID)

	require.Eventually(t, func() bool {
		n, err := f.engine.Pending(ctx)
		return err == nil && n == 0
	}, 2*time.Second, time.Millisecond)

	meta, err := f.store.GetMetadata(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.Version)
}

func TestEngine_SubmitCoalesces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	first, err := f.engine.Submit(ctx, newNote("n1", `{"v":1}`))
	require.NoError(t, err)

	update := newNote("n1", `{"v":2}`)
	update.MutationType = models.MutationTypeUpdate
	second, err := f.engine.Submit(ctx, update)
	require.NoError(t, err)
	assert.True(t, second.Coalesced())
	assert.Equal(t, first.Event.ID, second.Queued.ID)
	assert.Equal(t, models.MutationTypeCreate, second.Queued.MutationType)

	del := newNote("n1", "")
	del.MutationType = models.MutationTypeDelete
	third, err := f.engine.Submit(ctx, del)
	require.NoError(t, err)
	assert.Nil(t, third.Queued)

	n, err := f.engine.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_SubmitValidation(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name string
		ev   *models.MutationEvent
	}{
		{"nil event", nil},
		{"unknown type", &models.MutationEvent{ModelID: "a", ModelName: "note", MutationType: "upsert", Payload: []byte(`{}`)}},
		{"bad model name", &models.MutationEvent{ModelID: "a", ModelName: "Note!", MutationType: models.MutationTypeCreate, Payload: []byte(`{}`)}},
		{"empty record id", &models.MutationEvent{ModelName: "note", MutationType: models.MutationTypeCreate, Payload: []byte(`{}`)}},
		{"payload is not an object", &models.MutationEvent{ModelID: "a", ModelName: "note", MutationType: models.MutationTypeUpdate, Payload: []byte(`[1]`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(context.Background(), tt.ev)
			assert.ErrorIs(t, err, ErrInvalidMutation)
		})
	}
}

func TestEngine_ErrorDuringInitialSyncRestarts(t *testing.T) {
	f := newFixture(t, Config{})
	gate := make(chan struct{})
	f.transport.fetchErrs = []error{syncerr.ErrUnauthorized}
	f.transport.gate = gate

	require.NoError(t, f.engine.Start(context.Background()))

	// второй цикл застрял в начальной синхронизации
	require.Eventually(t, func() bool {
		return f.transport.Fetches() == 2 && f.engine.State().Kind == PerformingInitialSync
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 2, f.engine.policy.Attempt())

	got := transitions(f.events)
	want := append(append([]string{}, startup[:5]...), "cleaningUp", "schedulingRestart")
	want = append(want, startup[:5]...)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, int(f.builds.Load()))

	close(gate)
	waitState(t, f.engine, SyncEngineActive)
	assert.Equal(t, 1, f.engine.policy.Attempt())
}

func TestEngine_RetriesExhaustedTerminates(t *testing.T) {
	f := newFixture(t, Config{Restart: fastRetry(2)})
	f.transport.fetchErrs = []error{
		syncerr.Permanent(errors.New("no such model")),
		syncerr.Permanent(errors.New("no such model")),
	}

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, Terminate)

	var terminated *events.Event
	for _, ev := range drain(f.events) {
		if ev.Name == events.SyncTerminated {
			terminated = &ev
		}
	}
	require.NotNil(t, terminated)
	assert.ErrorIs(t, terminated.Err, syncerr.ErrRetriesExhausted)

	err := f.engine.StopAndWait(context.Background())
	assert.ErrorIs(t, err, syncerr.ErrRetriesExhausted)

	_, err = f.engine.Submit(context.Background(), newNote("n1", `{}`))
	assert.ErrorIs(t, err, syncerr.ErrEngineStopped)
	assert.ErrorIs(t, f.engine.Start(context.Background()), syncerr.ErrEngineStopped)
}

func TestEngine_StopDuringInitialSync(t *testing.T) {
	f := newFixture(t, Config{})
	f.transport.gate = make(chan struct{})

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, PerformingInitialSync)

	var calls atomic.Int32
	done := make(chan error, 1)
	f.engine.Stop(func(err error) {
		calls.Add(1)
		done <- err
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not complete")
	}
	assert.Equal(t, Terminate, f.engine.State().Kind)

	// повторный Stop завершается сразу и не вызывает первый колбэк снова
	second := make(chan error, 1)
	f.engine.Stop(func(err error) { second <- err })
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), calls.Load())

	_, err := f.engine.Submit(context.Background(), newNote("n1", `{}`))
	assert.ErrorIs(t, err, syncerr.ErrEngineStopped)
}

func TestEngine_StopBeforeStart(t *testing.T) {
	f := newFixture(t, Config{})

	called := make(chan error, 1)
	f.engine.Stop(func(err error) { called <- err })
	require.NoError(t, <-called)

	assert.ErrorIs(t, f.engine.Start(context.Background()), syncerr.ErrEngineStopped)
}

func TestEngine_StartTwice(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.engine.Start(context.Background()))
	assert.ErrorIs(t, f.engine.Start(context.Background()), syncerr.ErrEngineRunning)
}

func TestEngine_ContextCancelTerminates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.engine.Start(ctx))
	waitState(t, f.engine, SyncEngineActive)

	cancel()
	waitState(t, f.engine, Terminate)
}

func TestEngine_ReachabilityPausesAndResumes(t *testing.T) {
	ctx := context.Background()
	reach := &fakeReachability{ch: make(chan bool)}
	f := newFixture(t, Config{}, WithReachability(reach))

	require.NoError(t, f.engine.Start(ctx))
	waitState(t, f.engine, SyncEngineActive)
	require.Eventually(t, f.engine.outgoing.Running, time.Second, time.Millisecond)

	reach.ch <- false
	require.Eventually(t, func() bool { return !f.engine.outgoing.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, SyncEngineActive, f.engine.State().Kind)

	_, err := f.engine.Submit(ctx, newNote("n1", `{"offline":true}`))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.transport.Submitted())

	reach.ch <- true
	require.Eventually(t, func() bool { return len(f.transport.Submitted()) == 1 }, 2*time.Second, time.Millisecond)

	// при возобновлении транспорт строится заново, полного перезапуска нет
	assert.Equal(t, int32(2), f.builds.Load())
	assert.Equal(t, SyncEngineActive, f.engine.State().Kind)
	for _, s := range transitions(f.events) {
		assert.NotEqual(t, "cleaningUp", s)
	}
}

func TestEngine_OnlineSkipsRestartDelay(t *testing.T) {
	reach := &fakeReachability{ch: make(chan bool)}
	cfg := Config{Restart: retry.Config{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 1}}
	f := newFixture(t, cfg, WithReachability(reach))
	f.transport.fetchErrs = []error{syncerr.ErrUnauthorized}

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, SchedulingRestart)

	reach.ch <- false
	reach.ch <- true
	waitState(t, f.engine, SyncEngineActive)
}

func TestEngine_AppliesLiveChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.engine.Start(ctx))
	waitState(t, f.engine, SyncEngineActive)

	f.transport.feed <- models.RemoteChange{
		Model: models.RemoteModel{
			Model:        models.Record{ID: "live", ModelName: "note", Payload: []byte(`{"live":true}`)},
			SyncMetadata: models.MutationSyncMetadata{ID: "live", Version: 7},
		},
		Cursor: 1,
	}

	require.Eventually(t, func() bool {
		meta, err := f.store.GetMetadata(ctx, "live")
		return err == nil && meta.Version == 7
	}, 2*time.Second, time.Millisecond)
}

func TestEngine_Reset(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, SyncEngineActive)

	done := make(chan error, 1)
	f.engine.Reset(func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reset did not complete")
	}
	assert.Equal(t, NotStarted, f.engine.State().Kind)
	assert.False(t, f.engine.outgoing.Running())

	// после сброса движок можно запустить снова
	require.NoError(t, f.engine.Start(context.Background()))
	waitState(t, f.engine, SyncEngineActive)
}

func TestNew_Validation(t *testing.T) {
	factory := func(context.Context, AuthMode) (Transport, error) { return newFakeTransport(), nil }

	_, err := New(nil, factory, Config{})
	assert.ErrorIs(t, err, syncerr.ErrStorageAdapterMissing)

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "new.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = New(store, nil, Config{})
	assert.Error(t, err)

	_, err = New(store, factory, Config{Models: []string{"Bad Name"}})
	assert.Error(t, err)
}
