package hook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ctagard/luahook/pkg/types"
)

type stopCall struct {
	reason types.StopReason
	state  types.RunState
	steps  int
}

// fakeChannel records every call and serves scripted commands. Non-blocking
// polls drain pending; blocking polls pop from held and otherwise resume
// with Running.
type fakeChannel struct {
	session *Session

	reconnectErr error
	reconnects   int

	pending  [][]Command
	held     [][]Command
	pollErr  error
	holdErr  error
	polls    int
	blocking int

	resolveErr   error
	resolveCalls int

	confirmResult bool
	confirmErr    error
	confirms      []Hit

	stops []stopCall
	logs  []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{confirmResult: true}
}

func (c *fakeChannel) Reconnect(ctx context.Context) error {
	c.reconnects++
	return c.reconnectErr
}

func (c *fakeChannel) PollCommands(ctx context.Context, block bool) ([]Command, error) {
	if !block {
		c.polls++
		if c.pollErr != nil {
			return nil, c.pollErr
		}
		if len(c.pending) == 0 {
			return nil, nil
		}
		cmds := c.pending[0]
		c.pending = c.pending[1:]
		return cmds, nil
	}

	c.blocking++
	if c.holdErr != nil {
		return nil, c.holdErr
	}
	if len(c.held) == 0 {
		return []Command{SetRunStateCommand(types.RunStateRunning)}, nil
	}
	cmds := c.held[0]
	c.held = c.held[1:]
	return cmds, nil
}

func (c *fakeChannel) ResolvePath(ctx context.Context, raw string) (string, error) {
	c.resolveCalls++
	if c.resolveErr != nil {
		return "", c.resolveErr
	}
	return raw, nil
}

func (c *fakeChannel) ConfirmBreakpoint(ctx context.Context, hit Hit) (bool, error) {
	c.confirms = append(c.confirms, hit)
	return c.confirmResult, c.confirmErr
}

func (c *fakeChannel) NotifyStopped(ctx context.Context, reason types.StopReason, stack []types.StackFrame) error {
	call := stopCall{reason: reason}
	if c.session != nil {
		call.state = c.session.RunState()
		call.steps = c.session.StepCounter()
	}
	c.stops = append(c.stops, call)
	return nil
}

func (c *fakeChannel) Log(ctx context.Context, msg string, level types.LogLevel) error {
	c.logs = append(c.logs, msg)
	return nil
}

// pollClass counts the throttled calls
func (c *fakeChannel) pollClass() int {
	return c.reconnects + c.polls
}

type fakeInterp struct {
	frame    types.Frame
	noFrame  bool
	levels   []types.HookLevel
	detached bool
}

func (i *fakeInterp) FrameInfo() (types.Frame, bool) {
	return i.frame, !i.noFrame
}

func (i *fakeInterp) StackSnapshot() []types.StackFrame {
	return []types.StackFrame{{Index: 0, Name: "main", Source: i.frame.Source, Line: i.frame.CurrentLine}}
}

func (i *fakeInterp) SetHookLevel(level types.HookLevel) {
	i.levels = append(i.levels, level)
}

func (i *fakeInterp) DetachHook() {
	i.detached = true
}

// at points the interpreter at a Lua frame
func (i *fakeInterp) at(source string, line, defined, lastDefined int) {
	i.frame = types.Frame{
		Source:          source,
		ShortSource:     source,
		CurrentLine:     line,
		LineDefined:     defined,
		LastLineDefined: lastDefined,
		Kind:            types.FrameLua,
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type harness struct {
	s     *Session
	ch    *fakeChannel
	in    *fakeInterp
	clock *fakeClock
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ch:    newFakeChannel(),
		in:    &fakeInterp{},
		clock: &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		ctx:   context.Background(),
	}
	h.s = NewSession(h.ch, h.in, Options{
		Logger:         zaptest.NewLogger(t),
		IgnoredSources: []string{"LuaPanda.lua"},
		PollInterval:   time.Second,
		Clock:          h.clock.Now,
		LogLevel:       types.LogLevelInfo,
		CaseSensitive:  true,
	})
	h.ch.session = h.s
	return h
}

// connect moves the session to state through WaitingForCommand
func (h *harness) connect(state types.RunState) {
	h.s.SetRunState(h.ctx, types.RunStateWaitingForCommand)
	h.s.SetRunState(h.ctx, state)
}

func (h *harness) sync(t *testing.T, table map[string]map[int]types.BreakpointSpec) {
	t.Helper()
	if err := h.s.SyncBreakpoints(h.ctx, table); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func lineBP(lines ...int) map[int]types.BreakpointSpec {
	out := make(map[int]types.BreakpointSpec, len(lines))
	for _, l := range lines {
		out[l] = types.BreakpointSpec{Kind: types.BreakpointLine}
	}
	return out
}

var errFake = fmt.Errorf("collaborator unavailable")
