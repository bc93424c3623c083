package hook

import (
	"context"
	stderrors "errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/ctagard/luahook/pkg/types"
)

// Run-state transition names
const (
	EventConnect      = "connect"
	EventEntry        = "entry"
	EventRun          = "run"
	EventStepOver     = "step_over"
	EventStepIn       = "step_in"
	EventStepOut      = "step_out"
	EventHit          = "hit"
	EventStepOverStop = "step_over_stop"
	EventStepInStop   = "step_in_stop"
	EventStepOutStop  = "step_out_stop"
	EventWait         = "wait"
	EventDisconnect   = "disconnect"
)

func names(states ...types.RunState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

var (
	pausedStates = []types.RunState{
		types.RunStateWaitingForCommand, types.RunStateStopOnEntry,
		types.RunStateStepOverStopped, types.RunStateStepInStopped,
		types.RunStateStepOutStopped, types.RunStateBreakpointHit,
	}
	activeStates = []types.RunState{
		types.RunStateRunning, types.RunStateSteppingOver,
		types.RunStateSteppingIn, types.RunStateSteppingOut,
	}
	allStates = append(append([]types.RunState{types.RunStateDisconnected}, pausedStates...), activeStates...)
)

func runStateEvents() fsm.Events {
	resumable := append(append([]types.RunState{}, pausedStates...), activeStates...)
	return fsm.Events{
		{Name: EventConnect, Src: names(types.RunStateDisconnected), Dst: types.RunStateWaitingForCommand.String()},
		{Name: EventEntry, Src: names(types.RunStateWaitingForCommand, types.RunStateRunning), Dst: types.RunStateStopOnEntry.String()},
		{Name: EventRun, Src: names(resumable...), Dst: types.RunStateRunning.String()},
		{Name: EventStepOver, Src: names(resumable...), Dst: types.RunStateSteppingOver.String()},
		{Name: EventStepIn, Src: names(resumable...), Dst: types.RunStateSteppingIn.String()},
		{Name: EventStepOut, Src: names(resumable...), Dst: types.RunStateSteppingOut.String()},
		{Name: EventHit, Src: names(append([]types.RunState{types.RunStateStopOnEntry}, activeStates...)...), Dst: types.RunStateBreakpointHit.String()},
		{Name: EventStepOverStop, Src: names(types.RunStateSteppingOver), Dst: types.RunStateStepOverStopped.String()},
		{Name: EventStepInStop, Src: names(types.RunStateSteppingIn), Dst: types.RunStateStepInStopped.String()},
		{Name: EventStepOutStop, Src: names(types.RunStateSteppingOut), Dst: types.RunStateStepOutStopped.String()},
		{Name: EventWait, Src: names(append(append([]types.RunState{}, pausedStates...), activeStates...)...), Dst: types.RunStateWaitingForCommand.String()},
		{Name: EventDisconnect, Src: names(allStates...), Dst: types.RunStateDisconnected.String()},
	}
}

// transitionEvent names the transition into to
func transitionEvent(from, to types.RunState) string {
	switch to {
	case types.RunStateDisconnected:
		return EventDisconnect
	case types.RunStateWaitingForCommand:
		if from == types.RunStateDisconnected {
			return EventConnect
		}
		return EventWait
	case types.RunStateStopOnEntry:
		return EventEntry
	case types.RunStateRunning:
		return EventRun
	case types.RunStateSteppingOver:
		return EventStepOver
	case types.RunStateSteppingIn:
		return EventStepIn
	case types.RunStateSteppingOut:
		return EventStepOut
	case types.RunStateBreakpointHit:
		return EventHit
	case types.RunStateStepOverStopped:
		return EventStepOverStop
	case types.RunStateStepInStopped:
		return EventStepInStop
	case types.RunStateStepOutStopped:
		return EventStepOutStop
	}
	return ""
}

// RunStateMachine holds the debugger-visible run state. Transitions are
// checked against the fsm table, but local state is authoritative: a
// transition the table does not allow is still committed and logged.
type RunStateMachine struct {
	machine *fsm.FSM
	current types.RunState
	logger  *zap.Logger
}

// NewRunStateMachine starts in Disconnected
func NewRunStateMachine(logger *zap.Logger) *RunStateMachine {
	m := &RunStateMachine{
		current: types.RunStateDisconnected,
		logger:  logger,
	}
	m.machine = fsm.NewFSM(
		types.RunStateDisconnected.String(),
		runStateEvents(),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debug("run state changed",
					zap.String("event", e.Event),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
			},
		},
	)
	return m
}

// Current returns the current run state
func (m *RunStateMachine) Current() types.RunState {
	return m.current
}

// Can reports whether the table allows moving to to from the current state
func (m *RunStateMachine) Can(to types.RunState) bool {
	if to == m.current {
		return true
	}
	event := transitionEvent(m.current, to)
	return event != "" && m.machine.Can(event)
}

// Transition moves to to and returns the previous state
func (m *RunStateMachine) Transition(ctx context.Context, to types.RunState) types.RunState {
	prev := m.current
	if prev == to {
		return prev
	}

	event := transitionEvent(prev, to)
	if err := m.machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if !stderrors.As(err, &noTransition) {
			m.logger.Warn("run state transition outside table",
				zap.String("from", prev.String()),
				zap.String("to", to.String()),
				zap.Error(err))
			m.machine.SetState(to.String())
		}
	}
	m.current = to
	return prev
}

// Restore sets the state directly, without running the transition table.
// Used to roll back a vetoed hit.
func (m *RunStateMachine) Restore(to types.RunState) {
	m.machine.SetState(to.String())
	m.current = to
}
