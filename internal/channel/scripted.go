package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/internal/hook"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/pkg/types"
)

// Action is how a scripted front end answers a stop
type Action string

const (
	ActionContinue   Action = "continue"
	ActionNext       Action = "next"
	ActionStepIn     Action = "stepIn"
	ActionStepOut    Action = "stepOut"
	ActionDisconnect Action = "disconnect"
)

var actionStates = map[Action]types.RunState{
	ActionContinue:   types.RunStateRunning,
	ActionNext:       types.RunStateSteppingOver,
	ActionStepIn:     types.RunStateSteppingIn,
	ActionStepOut:    types.RunStateSteppingOut,
	ActionDisconnect: types.RunStateDisconnected,
}

// ParseAction parses an action name
func ParseAction(name string) (Action, error) {
	a := Action(strings.TrimSpace(name))
	if _, ok := actionStates[a]; !ok {
		return "", errors.InvalidParameter("action", name, "continue, next, stepIn, stepOut or disconnect")
	}
	return a, nil
}

// ParseActions parses a comma separated action list
func ParseActions(list string) ([]Action, error) {
	var out []Action
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		a, err := ParseAction(name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ScriptedOptions configures a Scripted channel
type ScriptedOptions struct {
	Actions     []Action                          // One per stop; continue once exhausted
	Breakpoints map[string][]types.BreakpointSpec // Front-end file -> breakpoints
	StopOnEntry bool
	LogLevel    types.LogLevel
	OutputSize  int
	Logger      *zap.Logger
}

// Scripted is a headless control channel. It configures the session on
// connect, answers every stop with the next scripted action and keeps the
// debugger output in a ring buffer.
type Scripted struct {
	book   *Book
	logger *zap.Logger
	out    *OutputBuffer

	mu        sync.Mutex
	opts      ScriptedOptions
	connected bool
	ended     bool
	queue     []hook.Command
	actions   []Action
	stops     []types.StopRecord
}

// NewScripted creates a scripted channel and loads its breakpoints into book
func NewScripted(book *Book, opts ScriptedOptions) (*Scripted, error) {
	files := make([]string, 0, len(opts.Breakpoints))
	for file := range opts.Breakpoints {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		if _, err := book.Set(file, opts.Breakpoints[file]); err != nil {
			return nil, err
		}
	}

	s := &Scripted{
		book:    book,
		logger:  logging.OrNop(opts.Logger),
		out:     NewOutputBuffer(opts.OutputSize),
		opts:    opts,
		actions: append([]Action(nil), opts.Actions...),
	}
	book.SetOutput(func(ctx context.Context, msg string) {
		s.out.Append(msg)
	})
	return s, nil
}

// Output returns the captured debugger output
func (s *Scripted) Output() *OutputBuffer {
	return s.out
}

// Stops returns every stop reported so far
func (s *Scripted) Stops() []types.StopRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StopRecord(nil), s.stops...)
}

// Ended reports whether the script disconnected
func (s *Scripted) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Reconnect connects once and queues the initial configuration. After a
// scripted disconnect it keeps failing.
func (s *Scripted) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.PeerClosed()
	}
	if s.connected {
		return nil
	}
	s.connected = true

	start := types.RunStateRunning
	if s.opts.StopOnEntry {
		start = types.RunStateStopOnEntry
	}
	s.queue = append(s.queue,
		hook.SetConfigCommand(s.opts.LogLevel, s.book.CaseSensitive()),
		hook.SyncBreakpointsCommand(s.book.Table()),
		hook.SetRunStateCommand(start),
	)
	s.logger.Debug("scripted front end connected", zap.Int("breakpoints", s.book.Count()))
	return nil
}

// PollCommands returns the queued commands. A blocking poll with nothing
// queued resumes the script. The poll that delivers a scripted disconnect
// is the last one to succeed.
func (s *Scripted) PollCommands(ctx context.Context, block bool) ([]hook.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, errors.PeerClosed()
	}
	if len(s.queue) == 0 && block {
		s.queue = append(s.queue, hook.SetRunStateCommand(types.RunStateRunning))
	}
	cmds := s.queue
	s.queue = nil
	if s.ended {
		s.connected = false
	}
	return cmds, nil
}

// ResolvePath maps a chunk name to its breakpoint key
func (s *Scripted) ResolvePath(ctx context.Context, raw string) (string, error) {
	return s.book.Resolve(raw)
}

// ConfirmBreakpoint confirms a tentative hit through the book
func (s *Scripted) ConfirmBreakpoint(ctx context.Context, hit hook.Hit) (bool, error) {
	return s.book.Confirm(ctx, hit)
}

// NotifyStopped records the stop and queues the next action
func (s *Scripted) NotifyStopped(ctx context.Context, reason types.StopReason, stack []types.StackFrame) error {
	if s.book.Stopped(reason) {
		s.mu.Lock()
		s.queue = append(s.queue, hook.VetoHitCommand())
		s.mu.Unlock()
		return nil
	}

	rec := types.StopRecord{Reason: reason, Stack: stack}
	if len(stack) > 0 {
		rec.Source = stack[0].Source
		rec.Line = stack[0].Line
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, rec)

	action := ActionContinue
	if len(s.actions) > 0 {
		action = s.actions[0]
		s.actions = s.actions[1:]
	}
	if action == ActionDisconnect {
		s.ended = true
		s.book.Clear()
	}
	s.queue = append(s.queue, hook.SetRunStateCommand(actionStates[action]))
	s.out.Append(fmt.Sprintf("stopped: %s at %s:%d -> %s", reason, rec.Source, rec.Line, action))
	return nil
}

// Log captures a debugger message
func (s *Scripted) Log(ctx context.Context, msg string, level types.LogLevel) error {
	s.out.Append(fmt.Sprintf("[%s] %s", level, msg))
	return nil
}

// Inject queues commands for the next poll. It is safe to call from any
// goroutine.
func (s *Scripted) Inject(cmds ...hook.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, cmds...)
}
