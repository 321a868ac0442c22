package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/syncerr"
)

// message вход командного цикла
type message struct {
	action Action
	// online задан для сообщений о доступности бэкенда
	online *bool
	// gen номер перехода, запустившего побочный эффект; 0 - без привязки
	gen uint64
	// cycle номер цикла запуска, из которого пришла ошибка компонента; 0 - без привязки
	cycle uint64
}

// runtime ресурсы одного запуска движка, от Start до Terminate
type runtime struct {
	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan message
	done      chan struct{}
	exec      *serial
	transport Transport // только на exec
	result    error
	waiters   []func(error)
	finished  bool
}

func newRuntime(parent context.Context) *runtime {
	ctx, cancel := context.WithCancel(parent)
	return &runtime{
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan message, 16),
		done:   make(chan struct{}),
		exec:   newSerial(),
	}
}

// post delivers msg to the loop unless the run has finished.
func (rt *runtime) post(msg message) {
	select {
	case rt.inbox <- msg:
	case <-rt.done:
	}
}

// loop владеет состоянием автомата; все поля меняются только в run
type loop struct {
	e            *Engine
	rt           *runtime
	phaseCancel  context.CancelFunc
	restartTimer *time.Timer
	termErr      error
	state        State
	gen          uint64
	cycle        uint64
	online       bool
	paused       bool
}

func (l *loop) run() {
	for {
		var msg message
		select {
		case msg = <-l.rt.inbox:
		case <-l.rt.done:
			return
		}

		if msg.online != nil {
			l.onReachability(*msg.online)
		} else {
			l.apply(msg)
		}

		if l.state.Kind == Terminate {
			l.e.logger.Info("Sync engine terminated", "error", l.termErr)
			l.e.finishRun(l.rt, l.termErr)
			return
		}
	}
}

func (l *loop) apply(msg message) {
	if msg.gen != 0 && msg.gen != l.gen {
		l.e.logger.Debug("Dropping stale completion",
			"action", msg.action.Kind,
			"state", l.state.Kind)
		return
	}
	if msg.cycle != 0 && msg.cycle != l.cycle {
		l.e.logger.Debug("Dropping error from a previous cycle", "error", msg.action.Err)
		return
	}

	next, ok := resolve(l.state, msg.action)
	if !ok {
		l.e.logger.Debug("Action ignored",
			"action", msg.action.Kind,
			"state", l.state.Kind,
			"error", msg.action.Err)
		return
	}
	l.transition(next)
}

func (l *loop) transition(next State) {
	prev := l.state
	l.state = next
	l.gen++

	l.e.logger.Debug("Sync state changed", "from", prev.Kind, "to", next.Kind)
	l.e.metrics.RecordStateTransition(l.rt.ctx, next.Kind.String())
	l.e.hub.Emit(events.SyncStateChanged, events.StateChange{
		From: prev.Kind.String(),
		To:   next.Kind.String(),
	})

	l.enter(next)
	// enter может сразу перейти дальше, поэтому берём актуальное состояние
	l.e.setSnapshot(l.state)
}

// enter запускает ровно один побочный эффект состояния
func (l *loop) enter(s State) {
	e := l.e
	rt := l.rt
	cycle := l.cycle

	switch s.Kind {
	case PausingSubscriptions:
		l.cycle++
		l.phase(func(context.Context) error {
			e.incoming.Cancel()
			return nil
		})

	case PausingMutationQueue:
		l.phase(func(context.Context) error {
			e.outgoing.Pause()
			return nil
		})

	case ClearingOutgoingMutationState:
		l.phase(func(ctx context.Context) error {
			return e.store.ClearTransientMutationState(ctx)
		})

	case InitializingSubscriptions:
		l.phase(func(ctx context.Context) error {
			t, mode, err := e.buildTransport(ctx)
			if err != nil {
				return err
			}
			rt.transport = t
			e.logger.Debug("Transport ready", "auth_mode", mode)
			e.incoming.Open(rt.ctx, t, e.cfg.Models, l.componentError(cycle))
			return nil
		})

	case PerformingInitialSync:
		l.phase(func(ctx context.Context) error {
			_, err := e.initial.Run(ctx, rt.transport, e.cfg.Models)
			return err
		})

	case ActivatingCloudSubscriptions:
		l.phase(func(ctx context.Context) error {
			return e.incoming.Activate(ctx)
		})

	case ActivatingMutationQueue:
		l.phase(func(context.Context) error {
			e.outgoing.Start(rt.ctx, rt.transport, l.componentError(cycle))
			return nil
		})

	case NotifyingSyncStarted:
		l.phase(func(context.Context) error {
			e.hub.Emit(events.SyncStarted, nil)
			return nil
		})

	case SyncEngineActive:
		e.policy.Reset()
		l.paused = false
		e.logger.Info("Sync engine active")
		e.hub.Emit(events.Ready, nil)
		if !l.online {
			l.pause()
		}

	case CleaningUp:
		e.logger.Warn("Sync pipeline failed, cleaning up", "error", s.Err)
		l.cancelPhase()
		l.cleanup()

	case SchedulingRestart:
		l.scheduleRestart(s.Err)

	case CleaningUpForTermination:
		l.stopRestartTimer()
		l.cancelPhase()
		l.cleanup()

	case Terminate:
	}
}

// phase ставит побочный эффект в очередь исполнителя; завершение приходит
// в цикл с номером текущего перехода
func (l *loop) phase(fn func(ctx context.Context) error) {
	gen := l.gen
	state := l.state.Kind
	ctx, cancel := context.WithCancel(l.rt.ctx)
	l.phaseCancel = cancel

	l.rt.exec.Do(func() {
		defer cancel()

		action := Action{Kind: ActionStepCompleted}
		if err := fn(ctx); err != nil {
			action = Action{Kind: ActionErrored, Err: fmt.Errorf("%s: %w", state, err)}
		}
		l.rt.post(message{action: action, gen: gen})
	})
}

// cleanup выполняется после прерванной фазы и не зависит от отмены запуска
func (l *loop) cleanup() {
	e := l.e
	gen := l.gen

	l.rt.exec.Do(func() {
		e.incoming.Cancel()
		e.outgoing.Pause()
		l.rt.post(message{action: Action{Kind: ActionStepCompleted}, gen: gen})
	})
}

func (l *loop) cancelPhase() {
	if l.phaseCancel != nil {
		l.phaseCancel()
		l.phaseCancel = nil
	}
}

func (l *loop) scheduleRestart(cause error) {
	e := l.e

	delay, ok := e.policy.Next(cause)
	if !ok {
		l.termErr = fmt.Errorf("%w: %w", syncerr.ErrRetriesExhausted, cause)
		e.logger.Error("Sync engine giving up", "error", l.termErr)
		e.hub.Publish(events.Event{Name: events.SyncTerminated, Err: l.termErr})
		l.apply(message{action: Action{Kind: ActionFinished}})
		return
	}

	attempt := e.policy.Attempt()
	e.metrics.RecordRestart(l.rt.ctx, attempt)
	e.logger.Info("Restarting sync pipeline",
		"attempt", attempt,
		"delay", delay,
		"class", syncerr.Classify(cause))

	gen := l.gen
	l.restartTimer = time.AfterFunc(delay, func() {
		l.rt.post(message{action: Action{Kind: ActionStepCompleted}, gen: gen})
	})
}

func (l *loop) stopRestartTimer() {
	if l.restartTimer != nil {
		l.restartTimer.Stop()
		l.restartTimer = nil
	}
}

// componentError направляет отказ компонента в цикл, привязав его к циклу запуска
func (l *loop) componentError(cycle uint64) func(error) {
	return func(err error) {
		l.rt.post(message{action: Action{Kind: ActionErrored, Err: err}, cycle: cycle})
	}
}

func (l *loop) onReachability(online bool) {
	if l.online == online {
		return
	}
	l.online = online
	l.e.logger.Info("Network status changed", "online", online, "state", l.state.Kind)

	switch {
	case l.state.Kind == SyncEngineActive && !online && !l.paused:
		l.pause()
	case l.state.Kind == SyncEngineActive && online && l.paused:
		l.resume()
	case l.state.Kind == SchedulingRestart && online:
		// не ждём задержку, сеть вернулась
		l.stopRestartTimer()
		l.apply(message{action: Action{Kind: ActionStepCompleted}, gen: l.gen})
	}
}

// pause останавливает обмен с бэкендом, оставаясь в SyncEngineActive
func (l *loop) pause() {
	e := l.e
	l.paused = true
	l.rt.exec.Do(func() {
		e.incoming.Cancel()
		e.outgoing.Pause()
		e.logger.Info("Sync paused while offline")
	})
}

// resume возобновляет подписки с сохранённых курсоров и очередь со свежим транспортом
func (l *loop) resume() {
	e := l.e
	rt := l.rt
	report := l.componentError(l.cycle)
	l.paused = false

	rt.exec.Do(func() {
		t, _, err := e.buildTransport(rt.ctx)
		if err != nil {
			report(err)
			return
		}
		rt.transport = t

		if err := e.incoming.Resume(rt.ctx, t); err != nil {
			report(fmt.Errorf("failed to resume subscriptions: %w", err))
			return
		}
		if err := e.outgoing.Resume(rt.ctx, t); err != nil {
			report(fmt.Errorf("failed to resume mutation queue: %w", err))
			return
		}
		e.logger.Info("Sync resumed")
	})
}
