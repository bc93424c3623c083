package hook

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctagard/luahook/pkg/types"
)

// OnEvent processes one hook event. It is called by the interpreter on its
// own goroutine and returns once the script may continue.
func (s *Session) OnEvent(ctx context.Context, ev types.EventKind) {
	if !s.attached {
		return
	}
	s.events++

	if s.states.Current() == types.RunStateDisconnected {
		if s.gate.Allow() {
			s.reconnect(ctx)
		}
		return
	}

	// No frame inspection below Moderate
	if s.level <= types.HookLevelCoarse {
		if s.gate.Allow() {
			s.poll(ctx)
		}
		return
	}

	if s.states.Current().Active() && s.gate.Allow() {
		s.poll(ctx)
		if !s.attached || s.states.Current() == types.RunStateDisconnected {
			return
		}
		if s.held() {
			s.hold(ctx, false)
			return
		}
	}

	frame, ok := s.interp.FrameInfo()
	if !ok {
		return
	}

	if frame.Kind == types.FrameNative || frame.CurrentLine < 0 {
		state := s.states.Current()
		if frame.Source == "=(tail call)" && ev == types.EventTailReturn &&
			(state == types.RunStateSteppingOver || state == types.RunStateSteppingOut) {
			s.steps--
		}
		return
	}

	if s.ignoredSource(frame.Source) {
		return
	}
	if isCodeString(frame) {
		return
	}

	s.last = Location{
		Source:          frame.Source,
		ShortSource:     frame.ShortSource,
		Line:            frame.CurrentLine,
		LineDefined:     frame.LineDefined,
		LastLineDefined: frame.LastLineDefined,
	}
	if s.logLevel == types.LogLevelVerbose {
		s.log(ctx, fmt.Sprintf("[hook state] event:%s | source:%s | short_src:%s | line:%d | defined:%d | lastDefined:%d | runState:%s | hookLevel:%s",
			ev, frame.Source, frame.ShortSource, frame.CurrentLine, frame.LineDefined, frame.LastLineDefined,
			s.states.Current(), s.level), types.LogLevelVerbose)
	}

	if ev == types.EventLine && s.checkBreakpoint(ctx, frame) {
		return
	}

	if ev == types.EventLine && s.states.Current() == types.RunStateStopOnEntry {
		s.stop(ctx, types.RunStateWaitingForCommand, types.StopOnEntry)
		return
	}

	s.step(ctx, ev)

	if s.states.Current() == types.RunStateRunning && s.level != types.HookLevelDisabled {
		s.reselect(ctx, ev)
	}
}

// step applies the stepping rules for the current run state
func (s *Session) step(ctx context.Context, ev types.EventKind) {
	switch s.states.Current() {
	case types.RunStateSteppingOver:
		switch ev {
		case types.EventLine:
			if s.steps <= 0 {
				s.stop(ctx, types.RunStateStepOverStopped, types.StopOnStep)
			}
		case types.EventCall:
			s.steps++
		case types.EventReturn:
			if s.steps != 0 {
				s.steps--
			}
		}

	case types.RunStateSteppingIn:
		if ev == types.EventLine {
			s.stop(ctx, types.RunStateStepInStopped, types.StopOnStepIn)
		}

	case types.RunStateSteppingOut:
		switch ev {
		case types.EventLine:
			if s.steps <= -1 {
				s.stop(ctx, types.RunStateStepOutStopped, types.StopOnStepOut)
			}
		case types.EventCall:
			s.steps++
		case types.EventReturn:
			s.steps--
		}
	}
}

// isCodeString reports whether the frame runs an inline chunk loaded from a
// string that cannot be mapped to a file line
func isCodeString(frame types.Frame) bool {
	if !strings.HasPrefix(frame.ShortSource, `[string "`) {
		return false
	}
	return strings.ContainsAny(frame.Source, "\n;=")
}
