package sync

import "fmt"

// StateKind этап жизненного цикла движка синхронизации
type StateKind int

const (
	NotStarted StateKind = iota
	PausingSubscriptions
	PausingMutationQueue
	ClearingOutgoingMutationState
	InitializingSubscriptions
	PerformingInitialSync
	ActivatingCloudSubscriptions
	ActivatingMutationQueue
	NotifyingSyncStarted
	SyncEngineActive
	CleaningUp
	SchedulingRestart
	CleaningUpForTermination
	Terminate
)

var stateNames = map[StateKind]string{
	NotStarted:                    "notStarted",
	PausingSubscriptions:          "pausingSubscriptions",
	PausingMutationQueue:          "pausingMutationQueue",
	ClearingOutgoingMutationState: "clearingOutgoingMutationState",
	InitializingSubscriptions:     "initializingSubscriptions",
	PerformingInitialSync:         "performingInitialSync",
	ActivatingCloudSubscriptions:  "activatingCloudSubscriptions",
	ActivatingMutationQueue:       "activatingMutationQueue",
	NotifyingSyncStarted:          "notifyingSyncStarted",
	SyncEngineActive:              "syncEngineActive",
	CleaningUp:                    "cleaningUp",
	SchedulingRestart:             "schedulingRestart",
	CleaningUpForTermination:      "cleaningUpForTermination",
	Terminate:                     "terminate",
}

func (k StateKind) String() string {
	if name, ok := stateNames[k]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(k))
}

// startupSequence шаг "выполнено" переводит состояние в следующее
var startupSequence = map[StateKind]StateKind{
	PausingSubscriptions:          PausingMutationQueue,
	PausingMutationQueue:          ClearingOutgoingMutationState,
	ClearingOutgoingMutationState: InitializingSubscriptions,
	InitializingSubscriptions:     PerformingInitialSync,
	PerformingInitialSync:         ActivatingCloudSubscriptions,
	ActivatingCloudSubscriptions:  ActivatingMutationQueue,
	ActivatingMutationQueue:       NotifyingSyncStarted,
	NotifyingSyncStarted:          SyncEngineActive,
	CleaningUp:                    SchedulingRestart,
	SchedulingRestart:             PausingSubscriptions,
	CleaningUpForTermination:      Terminate,
}

// State is the engine lifecycle state. Err is set for CleaningUp and
// SchedulingRestart and carries the error that caused the restart.
type State struct {
	Err  error
	Kind StateKind
}

func (s State) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Err)
	}
	return s.Kind.String()
}

// ActionKind тип действия, переводящего автомат
type ActionKind int

const (
	// ActionStart starts the engine from NotStarted
	ActionStart ActionKind = iota + 1
	// ActionStepCompleted reports that the side effect of the current state finished
	ActionStepCompleted
	// ActionErrored routes the pipeline into cleanup and restart
	ActionErrored
	// ActionFinished requests termination
	ActionFinished
)

func (k ActionKind) String() string {
	switch k {
	case ActionStart:
		return "start"
	case ActionStepCompleted:
		return "stepCompleted"
	case ActionErrored:
		return "errored"
	case ActionFinished:
		return "finished"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is an input of the state machine.
type Action struct {
	Err  error
	Kind ActionKind
}

// resolve is the transition function. ok is false when the action has no
// meaning in the given state.
func resolve(s State, a Action) (next State, ok bool) {
	switch a.Kind {
	case ActionStart:
		if s.Kind == NotStarted {
			return State{Kind: PausingSubscriptions}, true
		}

	case ActionStepCompleted:
		to, found := startupSequence[s.Kind]
		if !found {
			return s, false
		}
		if s.Kind == CleaningUp {
			// ошибка переходит в планирование перезапуска
			return State{Kind: to, Err: s.Err}, true
		}
		return State{Kind: to}, true

	case ActionErrored:
		switch s.Kind {
		case NotStarted, CleaningUp, SchedulingRestart, CleaningUpForTermination, Terminate:
			return s, false
		}
		return State{Kind: CleaningUp, Err: a.Err}, true

	case ActionFinished:
		switch s.Kind {
		case CleaningUpForTermination, Terminate:
			return s, false
		}
		return State{Kind: CleaningUpForTermination}, true
	}

	return s, false
}
