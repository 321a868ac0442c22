package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	boom := errors.New("boom")
	step := Action{Kind: ActionStepCompleted}
	errored := Action{Kind: ActionErrored, Err: boom}
	finished := Action{Kind: ActionFinished}

	tests := []struct {
		name   string
		state  State
		action Action
		want   State
		wantOK bool
	}{
		{"start from not started", State{Kind: NotStarted}, Action{Kind: ActionStart}, State{Kind: PausingSubscriptions}, true},
		{"start while running", State{Kind: SyncEngineActive}, Action{Kind: ActionStart}, State{Kind: SyncEngineActive}, false},
		{"step from not started", State{Kind: NotStarted}, step, State{Kind: NotStarted}, false},
		{"step from active", State{Kind: SyncEngineActive}, step, State{Kind: SyncEngineActive}, false},
		{"step from terminate", State{Kind: Terminate}, step, State{Kind: Terminate}, false},
		{"cleanup keeps the error", State{Kind: CleaningUp, Err: boom}, step, State{Kind: SchedulingRestart, Err: boom}, true},
		{"restart scheduled", State{Kind: SchedulingRestart, Err: boom}, step, State{Kind: PausingSubscriptions}, true},
		{"termination cleanup done", State{Kind: CleaningUpForTermination}, step, State{Kind: Terminate}, true},
		{"errored during initial sync", State{Kind: PerformingInitialSync}, errored, State{Kind: CleaningUp, Err: boom}, true},
		{"errored while active", State{Kind: SyncEngineActive}, errored, State{Kind: CleaningUp, Err: boom}, true},
		{"errored while cleaning up", State{Kind: CleaningUp, Err: boom}, errored, State{Kind: CleaningUp, Err: boom}, false},
		{"errored while scheduling restart", State{Kind: SchedulingRestart}, errored, State{Kind: SchedulingRestart}, false},
		{"errored before start", State{Kind: NotStarted}, errored, State{Kind: NotStarted}, false},
		{"finished from not started", State{Kind: NotStarted}, finished, State{Kind: CleaningUpForTermination}, true},
		{"finished from active", State{Kind: SyncEngineActive}, finished, State{Kind: CleaningUpForTermination}, true},
		{"finished while cleaning up", State{Kind: CleaningUp, Err: boom}, finished, State{Kind: CleaningUpForTermination}, true},
		{"finished twice", State{Kind: CleaningUpForTermination}, finished, State{Kind: CleaningUpForTermination}, false},
		{"finished after terminate", State{Kind: Terminate}, finished, State{Kind: Terminate}, false},
		{"unknown action", State{Kind: SyncEngineActive}, Action{Kind: ActionKind(99)}, State{Kind: SyncEngineActive}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolve(tt.state, tt.action)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_StartupSequence(t *testing.T) {
	want := []StateKind{
		PausingSubscriptions,
		PausingMutationQueue,
		ClearingOutgoingMutationState,
		InitializingSubscriptions,
		PerformingInitialSync,
		ActivatingCloudSubscriptions,
		ActivatingMutationQueue,
		NotifyingSyncStarted,
		SyncEngineActive,
	}

	s, ok := resolve(State{Kind: NotStarted}, Action{Kind: ActionStart})
	assert.True(t, ok)

	got := []StateKind{s.Kind}
	for s.Kind != SyncEngineActive {
		s, ok = resolve(s, Action{Kind: ActionStepCompleted})
		if !assert.True(t, ok, "stuck in %s", s.Kind) {
			return
		}
		got = append(got, s.Kind)
	}
	assert.Equal(t, want, got)
}

func TestResolve_ErrorEveryPhaseRestarts(t *testing.T) {
	boom := errors.New("boom")

	for kind := PausingSubscriptions; kind <= SyncEngineActive; kind++ {
		t.Run(kind.String(), func(t *testing.T) {
			s, ok := resolve(State{Kind: kind}, Action{Kind: ActionErrored, Err: boom})
			assert.True(t, ok)
			assert.Equal(t, State{Kind: CleaningUp, Err: boom}, s)

			s, _ = resolve(s, Action{Kind: ActionStepCompleted})
			assert.Equal(t, SchedulingRestart, s.Kind)

			s, _ = resolve(s, Action{Kind: ActionStepCompleted})
			assert.Equal(t, PausingSubscriptions, s.Kind)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "syncEngineActive", State{Kind: SyncEngineActive}.String())
	assert.Equal(t, "cleaningUp(boom)", State{Kind: CleaningUp, Err: errors.New("boom")}.String())
	assert.Equal(t, "state(42)", StateKind(42).String())
	assert.Equal(t, "errored", ActionErrored.String())
}
