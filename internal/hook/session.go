// Package hook implements the debug-hook engine: it turns the interpreter's
// call, return and line events into breakpoint stops, stepping and
// instrumentation-level decisions.
//
// A Session owns all mutable debugger state for one hooked interpreter and
// is driven from a single goroutine (the interpreter's). Commands from the
// control channel are only applied from within PollCommands, so the package
// needs no locks.
package hook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/pkg/types"
)

// Options configures a Session
type Options struct {
	Logger         *zap.Logger
	IgnoredSources []string         // Debugger implementation files, matched by name
	PollInterval   time.Duration    // Minimum spacing of poll-class calls
	Clock          func() time.Time // Injected clock for the poll gate
	LogLevel       types.LogLevel
	CaseSensitive  bool
}

// Session is the explicitly owned debugger context for one hooked interpreter
type Session struct {
	ch     Channel
	interp Interpreter
	logger *zap.Logger

	states   *RunStateMachine
	level    types.HookLevel
	attached bool
	steps    int

	table *BreakpointTable
	paths *PathCache
	gate  *PollGate

	forceHit bool
	veto     bool

	last          Location
	logLevel      types.LogLevel
	caseSensitive bool
	ignored       []string

	events int
	stops  int
}

// NewSession creates a session in Disconnected with the hook at Disabled
func NewSession(ch Channel, interp Interpreter, opts Options) *Session {
	logger := logging.OrNop(opts.Logger)
	s := &Session{
		ch:            ch,
		interp:        interp,
		logger:        logger,
		states:        NewRunStateMachine(logger),
		level:         types.HookLevelDisabled,
		attached:      true,
		table:         NewBreakpointTable(),
		gate:          NewPollGate(opts.PollInterval, opts.Clock),
		logLevel:      opts.LogLevel,
		caseSensitive: opts.CaseSensitive,
		ignored:       append([]string(nil), opts.IgnoredSources...),
	}
	s.paths = NewPathCache(ch.ResolvePath)
	s.paths.onError = func(ctx context.Context, raw string, err error) {
		s.report(ctx, errors.PathResolutionFailed(raw, err))
	}
	s.interp.SetHookLevel(s.level)
	return s
}

// RunState returns the current run state
func (s *Session) RunState() types.RunState {
	return s.states.Current()
}

// HookLevel returns the level currently requested from the interpreter
func (s *Session) HookLevel() types.HookLevel {
	return s.level
}

// StepCounter returns the call-depth offset of the step in progress
func (s *Session) StepCounter() int {
	return s.steps
}

// LastSource returns the raw chunk name of the last observed frame
func (s *Session) LastSource() string {
	return s.last.Source
}

// LastLocation returns the last observed frame metadata
func (s *Session) LastLocation() Location {
	return s.last
}

// Attached reports whether the hook is still installed
func (s *Session) Attached() bool {
	return s.attached
}

// Breakpoints exposes the table for introspection
func (s *Session) Breakpoints() *BreakpointTable {
	return s.table
}

// Events returns the number of events delivered to OnEvent
func (s *Session) Events() int {
	return s.events
}

// Stops returns the number of stops notified, vetoed ones included
func (s *Session) Stops() int {
	return s.stops
}

// Start makes the connection attempt a runtime performs before the script
// runs. It is a no-op unless the session is attached and Disconnected.
func (s *Session) Start(ctx context.Context) {
	if s.attached && s.states.Current() == types.RunStateDisconnected {
		s.reconnect(ctx)
	}
}

// SetRunState changes the run state and applies its side effects
func (s *Session) SetRunState(ctx context.Context, state types.RunState) {
	if !state.Valid() {
		s.logger.Warn("ignoring invalid run state", zap.Int("state", int(state)))
		return
	}
	s.states.Transition(ctx, state)

	switch {
	case state.Stepping() || state == types.RunStateStopOnEntry:
		s.applyLevel(types.HookLevelFull)
	case state == types.RunStateRunning:
		s.reselect(ctx, types.EventLine)
	case state == types.RunStateDisconnected:
		s.table.Clear()
		s.applyLevel(types.HookLevelDisabled)
	}
}

// SetHookLevel installs level until the next re-selection
func (s *Session) SetHookLevel(level types.HookLevel) {
	if !level.Valid() {
		s.logger.Warn("ignoring invalid hook level", zap.Int("level", int(level)))
		return
	}
	s.applyLevel(level)
}

// SetConfig updates the log level and the path case sensitivity. A change in
// case sensitivity invalidates every memoized path.
func (s *Session) SetConfig(level types.LogLevel, caseSensitive bool) {
	s.logLevel = level
	if caseSensitive != s.caseSensitive {
		s.caseSensitive = caseSensitive
		s.paths.Clear()
	}
}

// ForceBreakpointHit makes the next line check stop regardless of the table
func (s *Session) ForceBreakpointHit() {
	s.forceHit = true
}

// SyncBreakpoints replaces the breakpoint table. A malformed payload leaves
// the previous table in place.
func (s *Session) SyncBreakpoints(ctx context.Context, table map[string]map[int]types.BreakpointSpec) error {
	if err := s.table.ReplaceAll(table); err != nil {
		s.report(ctx, err)
		return err
	}
	if s.states.Current() == types.RunStateRunning {
		s.reselect(ctx, types.EventLine)
	}
	return nil
}

// ClearPathCache drops every memoized path resolution
func (s *Session) ClearPathCache() {
	s.paths.Clear()
}

// EndSession removes the hook, clears breakpoints and the path cache, and
// leaves the session Disconnected. No further events are expected.
func (s *Session) EndSession(ctx context.Context) {
	s.SetRunState(ctx, types.RunStateDisconnected)
	s.paths.Clear()
	s.forceHit = false
	s.veto = false
	s.attached = false
	s.interp.DetachHook()
}

// apply executes one inbound command
func (s *Session) apply(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdSetRunState:
		s.SetRunState(ctx, cmd.RunState)
	case CmdSyncBreakpoints:
		_ = s.SyncBreakpoints(ctx, cmd.Breakpoints)
	case CmdForceHit:
		s.ForceBreakpointHit()
	case CmdVetoHit:
		s.veto = true
	case CmdSetConfig:
		s.SetConfig(cmd.LogLevel, cmd.CaseSensitive)
	case CmdSetHookLevel:
		s.SetHookLevel(cmd.HookLevel)
	case CmdClearPathCache:
		s.ClearPathCache()
	case CmdEndSession:
		s.EndSession(ctx)
	default:
		s.logger.Warn("ignoring unknown command", zap.Int("kind", int(cmd.Kind)))
	}
}

// poll drains pending commands without blocking
func (s *Session) poll(ctx context.Context) {
	cmds, err := s.ch.PollCommands(ctx, false)
	if err != nil {
		s.report(ctx, errors.ChannelFailed("poll", err))
		return
	}
	for _, cmd := range cmds {
		s.apply(ctx, cmd)
	}
}

// reconnect asks the channel to reconnect and, on success, waits for the
// front end to configure the session
func (s *Session) reconnect(ctx context.Context) {
	if err := s.ch.Reconnect(ctx); err != nil {
		s.logger.Debug("reconnect failed", zap.Error(err))
		return
	}
	s.logger.Info("control channel connected")
	s.SetRunState(ctx, types.RunStateWaitingForCommand)
	s.hold(ctx, false)
}

// stop commits the transition to a stopped state, notifies the channel and
// holds until a resume-class command arrives. It returns true if the stop
// was vetoed while held.
func (s *Session) stop(ctx context.Context, to types.RunState, reason types.StopReason) bool {
	s.steps = 0
	if to != s.states.Current() {
		s.states.Transition(ctx, to)
	}
	s.stops++

	stack := s.interp.StackSnapshot()
	if err := s.ch.NotifyStopped(ctx, reason, stack); err != nil {
		s.report(ctx, errors.ChannelFailed("notify_stopped", err))
	}
	return s.hold(ctx, to == types.RunStateBreakpointHit)
}

// held reports whether the script must stay blocked. StopOnEntry is an armed
// state that waits for the first line, not a pause.
func (s *Session) held() bool {
	state := s.states.Current()
	return state.Paused() && state != types.RunStateStopOnEntry
}

// hold blocks on the channel until the run state leaves the paused set.
// A veto ends a vetoable hold and is reported to the caller; a channel
// failure drops the session to Disconnected and lets the script continue.
func (s *Session) hold(ctx context.Context, vetoable bool) bool {
	for s.held() {
		if ctx.Err() != nil {
			return false
		}
		cmds, err := s.ch.PollCommands(ctx, true)
		if err != nil {
			s.report(ctx, errors.ChannelFailed("poll", err))
			s.SetRunState(ctx, types.RunStateDisconnected)
			return false
		}
		for _, cmd := range cmds {
			s.apply(ctx, cmd)
		}
		if s.veto {
			s.veto = false
			if vetoable {
				return true
			}
			s.logger.Warn("ignoring veto outside a breakpoint stop")
		}
	}
	return false
}

// applyLevel records level and forwards it to the interpreter
func (s *Session) applyLevel(level types.HookLevel) {
	if level == s.level {
		return
	}
	s.level = level
	if s.attached {
		s.interp.SetHookLevel(level)
	}
}

// reselect recomputes the hook level from the last observed location
func (s *Session) reselect(ctx context.Context, ev types.EventKind) {
	if !s.attached {
		return
	}
	path := ""
	if s.table.AnyExists() && s.last.Source != "" {
		path = s.paths.Resolve(ctx, s.last.Source)
	}
	s.applyLevel(SelectLevel(s.table, path, s.last, ev))
}

// ignoredSource reports whether source belongs to the debugger itself or to
// a synthetic host buffer
func (s *Session) ignoredSource(source string) bool {
	// "=[C]", "=(tail call)", "=stdin" and other host buffers have no file
	if strings.HasPrefix(source, "=") {
		return true
	}
	name := strings.TrimPrefix(source, "@")
	for _, ig := range s.ignored {
		if ig == "" {
			continue
		}
		if name == ig || strings.HasSuffix(name, "/"+ig) || strings.HasSuffix(name, `\`+ig) {
			return true
		}
	}
	return false
}

// log forwards msg to the channel when it passes the log level
func (s *Session) log(ctx context.Context, msg string, level types.LogLevel) {
	if ce := s.logger.Check(logging.Level(level), msg); ce != nil {
		ce.Write()
	}
	if level < s.logLevel {
		return
	}
	if err := s.ch.Log(ctx, msg, level); err != nil {
		s.logger.Debug("channel log failed", zap.Error(err))
	}
}

// report logs a collaborator failure; it never changes session state
func (s *Session) report(ctx context.Context, err error) {
	s.log(ctx, fmt.Sprintf("[luahook] %v", err), types.LogLevelError)
}
