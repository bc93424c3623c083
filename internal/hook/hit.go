package hook

import (
	"context"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/pkg/types"
)

// checkBreakpoint decides whether a line event is a breakpoint stop. The
// table match is tentative until the channel confirms it; a stop vetoed while
// held is rolled back and reported as no hit.
func (s *Session) checkBreakpoint(ctx context.Context, frame types.Frame) bool {
	forced := s.forceHit
	s.forceHit = false

	hit := false
	if s.table.AnyExists() {
		hit = s.confirm(ctx, frame)
	}
	if !hit && !forced {
		return false
	}

	reason := types.StopOnBreakpoint
	if !hit {
		reason = types.StopOnCodeBreakpoint
	}

	prevSteps := s.steps
	prevState := s.states.Current()
	if s.stop(ctx, types.RunStateBreakpointHit, reason) {
		s.logger.Debug("breakpoint stop vetoed, rolling back")
		s.steps = prevSteps
		s.states.Restore(prevState)
		return false
	}
	return true
}

// confirm resolves the frame's path, looks it up and asks the channel to
// confirm a tentative hit
func (s *Session) confirm(ctx context.Context, frame types.Frame) bool {
	path := s.paths.Resolve(ctx, frame.Source)
	if path == "" {
		return false
	}
	spec, ok := s.table.Lookup(path, frame.CurrentLine)
	if !ok {
		return false
	}

	confirmed, err := s.ch.ConfirmBreakpoint(ctx, Hit{
		Path:   path,
		Source: frame.Source,
		Line:   frame.CurrentLine,
		Spec:   spec,
	})
	if err != nil {
		s.report(ctx, errors.ChannelFailed("confirm_breakpoint", err))
		return false
	}
	return confirmed
}
