package hook

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/pkg/types"
)

// TestPollRateLimit checks that poll-class calls run at most once per second
// in every run state.
func TestPollRateLimit(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		ev    types.EventKind
	}{
		{"disconnected", func(h *harness) { h.ch.reconnectErr = errFake }, types.EventReturn},
		{"waiting", func(h *harness) { h.s.SetRunState(h.ctx, types.RunStateWaitingForCommand) }, types.EventReturn},
		{"running coarse", func(h *harness) { h.connect(types.RunStateRunning) }, types.EventReturn},
		{"running moderate", func(h *harness) {
			h.sync(t, map[string]map[int]types.BreakpointSpec{"b.lua": lineBP(1)})
			h.connect(types.RunStateRunning)
		}, types.EventCall},
		{"stepping over", func(h *harness) { h.connect(types.RunStateSteppingOver) }, types.EventCall},
		{"stepping in", func(h *harness) { h.connect(types.RunStateSteppingIn) }, types.EventCall},
		{"stepping out", func(h *harness) { h.connect(types.RunStateSteppingOut) }, types.EventCall},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)
			h.in.at("a.lua", 3, 1, 9)

			for i := 0; i < 100; i++ {
				h.s.OnEvent(h.ctx, tc.ev)
			}
			if got := h.ch.pollClass(); got != 1 {
				t.Fatalf("expected 1 poll-class call in the first instant, got %d", got)
			}

			h.clock.Advance(999 * time.Millisecond)
			h.s.OnEvent(h.ctx, tc.ev)
			if got := h.ch.pollClass(); got != 1 {
				t.Fatalf("expected no poll before a second elapsed, got %d", got)
			}

			h.clock.Advance(time.Millisecond)
			for i := 0; i < 10; i++ {
				h.s.OnEvent(h.ctx, tc.ev)
			}
			if got := h.ch.pollClass(); got != 2 {
				t.Fatalf("expected exactly one more poll after a second, got %d", got)
			}
		})
	}
}

// TestPollGateShared checks that reconnect and command polls share one slot.
func TestPollGateShared(t *testing.T) {
	h := newHarness(t)
	h.ch.held = [][]Command{{SetRunStateCommand(types.RunStateRunning)}}

	h.s.OnEvent(h.ctx, types.EventReturn)
	if h.ch.reconnects != 1 || h.s.RunState() != types.RunStateRunning {
		t.Fatalf("expected a reconnect into running, got %d reconnects, state %s", h.ch.reconnects, h.s.RunState())
	}

	h.s.OnEvent(h.ctx, types.EventReturn)
	if h.ch.polls != 0 {
		t.Errorf("coarse poll must wait for the shared slot, got %d polls", h.ch.polls)
	}

	h.clock.Advance(time.Second)
	h.s.OnEvent(h.ctx, types.EventReturn)
	if h.ch.polls != 1 {
		t.Errorf("expected 1 coarse poll, got %d", h.ch.polls)
	}
}

func TestPollGate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := NewPollGate(time.Second, clock.Now)

	if !g.Allow() {
		t.Fatal("first call must be allowed")
	}
	if g.Allow() {
		t.Fatal("second call in the same instant must be refused")
	}
	clock.Advance(500 * time.Millisecond)
	if g.Allow() {
		t.Fatal("call after half a second must be refused")
	}
	clock.Advance(500 * time.Millisecond)
	if !g.Allow() {
		t.Fatal("call after a full second must be allowed")
	}
}

func TestSelectLevel(t *testing.T) {
	table := NewBreakpointTable()
	if err := table.ReplaceAll(map[string]map[int]types.BreakpointSpec{"a.lua": lineBP(10, 30)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		path string
		loc  Location
		ev   types.EventKind
		want types.HookLevel
	}{
		{"unresolved path", "", Location{Line: 3, LineDefined: 1, LastLineDefined: 9}, types.EventLine, types.HookLevelFull},
		{"other file", "b.lua", Location{Line: 3, LineDefined: 1, LastLineDefined: 9}, types.EventLine, types.HookLevelModerate},
		{"other file after return", "b.lua", Location{Line: 3, LineDefined: 1, LastLineDefined: 9}, types.EventReturn, types.HookLevelFull},
		{"function without breakpoints", "a.lua", Location{Line: 3, LineDefined: 1, LastLineDefined: 9}, types.EventLine, types.HookLevelModerate},
		{"function without breakpoints on call", "a.lua", Location{Line: 3, LineDefined: 1, LastLineDefined: 9}, types.EventCall, types.HookLevelModerate},
		{"function without breakpoints after tail return", "a.lua", Location{Line: 3, LineDefined: 1, LastLineDefined: 9}, types.EventTailReturn, types.HookLevelFull},
		{"breakpoint inside", "a.lua", Location{Line: 7, LineDefined: 5, LastLineDefined: 20}, types.EventLine, types.HookLevelFull},
		{"breakpoints on both boundaries", "a.lua", Location{Line: 15, LineDefined: 10, LastLineDefined: 30}, types.EventLine, types.HookLevelModerate},
		{"main chunk", "a.lua", Location{Line: 2, LineDefined: 0, LastLineDefined: 0}, types.EventLine, types.HookLevelFull},
		{"inverted range", "a.lua", Location{Line: 2, LineDefined: 9, LastLineDefined: 3}, types.EventLine, types.HookLevelFull},
		{"line outside range", "a.lua", Location{Line: 25, LineDefined: 1, LastLineDefined: 9}, types.EventLine, types.HookLevelFull},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectLevel(table, tc.path, tc.loc, tc.ev)
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
			if again := SelectLevel(table, tc.path, tc.loc, tc.ev); again != got {
				t.Errorf("selection not idempotent: %s then %s", got, again)
			}
		})
	}
}

// TestSelectLevelMonotonic adds a breakpoint inside the current function.
func TestSelectLevelMonotonic(t *testing.T) {
	start := []map[string]map[int]types.BreakpointSpec{
		{},
		{"b.lua": lineBP(4)},
		{"a.lua": lineBP(100)},
		{"a.lua": lineBP(5, 20)},
	}
	locations := []Location{
		{Source: "a.lua", Line: 8, LineDefined: 5, LastLineDefined: 20},
		{Source: "a.lua", Line: 6, LineDefined: 5, LastLineDefined: 20},
	}
	events := []types.EventKind{types.EventCall, types.EventReturn, types.EventLine}

	for i, base := range start {
		for _, loc := range locations {
			for _, ev := range events {
				table := NewBreakpointTable()
				if err := table.ReplaceAll(base); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				before := SelectLevel(table, loc.Source, loc, ev)

				grown := copyTable(base)
				if grown["a.lua"] == nil {
					grown["a.lua"] = map[int]types.BreakpointSpec{}
				}
				grown["a.lua"][12] = types.BreakpointSpec{Kind: types.BreakpointLine}
				if err := table.ReplaceAll(grown); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				after := SelectLevel(table, loc.Source, loc, ev)

				if after < before {
					t.Errorf("case %d %+v %s: level dropped from %s to %s", i, loc, ev, before, after)
				}
				if after != types.HookLevelFull {
					t.Errorf("case %d %+v %s: expected full with a breakpoint inside, got %s", i, loc, ev, after)
				}

				if err := table.ReplaceAll(nil); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := SelectLevel(table, loc.Source, loc, ev); got != types.HookLevelCoarse {
					t.Errorf("expected coarse after removing all breakpoints, got %s", got)
				}
			}
		}
	}
}

func copyTable(src map[string]map[int]types.BreakpointSpec) map[string]map[int]types.BreakpointSpec {
	out := make(map[string]map[int]types.BreakpointSpec, len(src))
	for path, lines := range src {
		out[path] = make(map[int]types.BreakpointSpec, len(lines))
		for line, spec := range lines {
			out[path][line] = spec
		}
	}
	return out
}

func TestBreakpointTable(t *testing.T) {
	table := NewBreakpointTable()
	if table.AnyExists() {
		t.Fatal("new table must be empty")
	}

	err := table.ReplaceAll(map[string]map[int]types.BreakpointSpec{
		"a.lua": {
			3:  {},
			10: {Condition: "x > 1"},
			12: {LogMessage: "x={x}"},
		},
		"b.lua": {},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if table.Len() != 3 || !table.AnyExists() {
		t.Errorf("expected 3 breakpoints, got %d", table.Len())
	}
	if !table.FileHasAny("a.lua") || table.FileHasAny("b.lua") || table.FileHasAny("c.lua") {
		t.Error("unexpected FileHasAny results")
	}
	spec, ok := table.Lookup("a.lua", 10)
	if !ok || spec.Kind != types.BreakpointCondition || spec.Line != 10 {
		t.Errorf("unexpected lookup result: %+v, %v", spec, ok)
	}
	if spec, _ := table.Lookup("a.lua", 12); spec.Kind != types.BreakpointLogPoint {
		t.Errorf("expected log point kind, got %s", spec.Kind)
	}
	if spec, _ := table.Lookup("a.lua", 3); spec.Kind != types.BreakpointLine {
		t.Errorf("expected line kind, got %s", spec.Kind)
	}
	if _, ok := table.Lookup("a.lua", 4); ok {
		t.Error("unexpected hit on line 4")
	}
	if !reflect.DeepEqual(table.Lines("a.lua"), []int{3, 10, 12}) {
		t.Errorf("unexpected lines: %v", table.Lines("a.lua"))
	}
	if table.HasLineInside("a.lua", 3, 10) || !table.HasLineInside("a.lua", 2, 4) {
		t.Error("HasLineInside must be strict on both ends")
	}

	table.Clear()
	if table.AnyExists() || table.Len() != 0 {
		t.Error("expected table cleared")
	}
}

// TestBreakpointTableAtomicReplace keeps the old table on a malformed payload.
func TestBreakpointTableAtomicReplace(t *testing.T) {
	bad := []struct {
		name    string
		payload map[string]map[int]types.BreakpointSpec
	}{
		{"empty path", map[string]map[int]types.BreakpointSpec{"ok.lua": lineBP(1), "": lineBP(2)}},
		{"zero line", map[string]map[int]types.BreakpointSpec{"ok.lua": lineBP(1), "b.lua": lineBP(0)}},
		{"negative line", map[string]map[int]types.BreakpointSpec{"b.lua": lineBP(-4)}},
		{"condition without expression", map[string]map[int]types.BreakpointSpec{"b.lua": {3: {Kind: types.BreakpointCondition}}}},
		{"log point without message", map[string]map[int]types.BreakpointSpec{"b.lua": {3: {Kind: types.BreakpointLogPoint}}}},
		{"unknown kind", map[string]map[int]types.BreakpointSpec{"b.lua": {3: {Kind: "watch"}}}},
	}

	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			table := NewBreakpointTable()
			if err := table.ReplaceAll(map[string]map[int]types.BreakpointSpec{"a.lua": lineBP(10)}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			err := table.ReplaceAll(tc.payload)
			if !errors.HasCode(err, errors.CodeBreakpointSyncInvalid) {
				t.Fatalf("expected %s, got %v", errors.CodeBreakpointSyncInvalid, err)
			}
			if _, ok := table.Lookup("a.lua", 10); !ok || table.Len() != 1 {
				t.Error("previous table must be retained")
			}
			if table.FileHasAny("ok.lua") {
				t.Error("no part of the rejected payload may be visible")
			}
		})
	}
}

// TestSyncBreakpointsInvalidIsLogged surfaces sync errors through the channel.
func TestSyncBreakpointsInvalidIsLogged(t *testing.T) {
	h := newHarness(t)
	h.sync(t, map[string]map[int]types.BreakpointSpec{"a.lua": lineBP(10)})
	h.s.apply(h.ctx, SyncBreakpointsCommand(map[string]map[int]types.BreakpointSpec{"a.lua": lineBP(0)}))

	if h.s.Breakpoints().Len() != 1 {
		t.Errorf("expected previous table retained, got %d", h.s.Breakpoints().Len())
	}
	if !containsLog(h.ch.logs, "invalid breakpoint") {
		t.Errorf("expected sync error to be logged, got %v", h.ch.logs)
	}
}

func TestPathCache(t *testing.T) {
	calls := 0
	fail := false
	var reported []string
	cache := NewPathCache(func(ctx context.Context, raw string) (string, error) {
		calls++
		if fail {
			return "", fmt.Errorf("no such file")
		}
		return "/work/" + raw, nil
	})
	cache.onError = func(ctx context.Context, raw string, err error) {
		reported = append(reported, raw)
	}
	ctx := context.Background()

	if got := cache.Resolve(ctx, "a.lua"); got != "/work/a.lua" {
		t.Errorf("unexpected path: %s", got)
	}
	cache.Resolve(ctx, "a.lua")
	if calls != 1 {
		t.Errorf("expected a memoized second lookup, got %d calls", calls)
	}

	fail = true
	if got := cache.Resolve(ctx, "b.lua"); got != "" {
		t.Errorf("expected empty path on failure, got %s", got)
	}
	cache.Resolve(ctx, "b.lua")
	if calls != 3 {
		t.Errorf("failures must not be memoized: %d calls", calls)
	}
	if len(reported) != 1 {
		t.Errorf("a failing id is reported once, got %d reports", len(reported))
	}
	if got := cache.Resolve(ctx, "a.lua"); got != "/work/a.lua" {
		t.Errorf("memoized entry lost: %s", got)
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d", cache.Len())
	}
	if got := cache.Resolve(ctx, "a.lua"); got != "" {
		t.Errorf("expected a fresh failing lookup after clear, got %s", got)
	}
	cache.Resolve(ctx, "b.lua")
	if len(reported) != 3 {
		t.Errorf("clear must re-arm failure reports, got %v", reported)
	}
}

func TestRunStateMachine(t *testing.T) {
	ctx := context.Background()
	m := NewRunStateMachine(zaptest.NewLogger(t))
	if m.Current() != types.RunStateDisconnected {
		t.Fatalf("expected disconnected, got %s", m.Current())
	}

	path := []types.RunState{
		types.RunStateWaitingForCommand,
		types.RunStateStopOnEntry,
		types.RunStateWaitingForCommand,
		types.RunStateRunning,
		types.RunStateBreakpointHit,
		types.RunStateSteppingOver,
		types.RunStateStepOverStopped,
		types.RunStateSteppingIn,
		types.RunStateStepInStopped,
		types.RunStateSteppingOut,
		types.RunStateStepOutStopped,
		types.RunStateRunning,
		types.RunStateDisconnected,
	}
	for _, to := range path {
		if !m.Can(to) {
			t.Errorf("expected %s -> %s to be allowed", m.Current(), to)
		}
		prev := m.Current()
		if got := m.Transition(ctx, to); got != prev {
			t.Errorf("expected previous state %s, got %s", prev, got)
		}
		if m.Current() != to || m.machine.Current() != to.String() {
			t.Errorf("expected %s, got %s / %s", to, m.Current(), m.machine.Current())
		}
	}

	// outside the table: committed anyway
	if m.Can(types.RunStateStepOutStopped) {
		t.Error("disconnected -> stepOutStopped must not be in the table")
	}
	m.Transition(ctx, types.RunStateStepOutStopped)
	if m.Current() != types.RunStateStepOutStopped || m.machine.Current() != "stepOutStopped" {
		t.Errorf("local state must be authoritative, got %s", m.Current())
	}

	m.Restore(types.RunStateSteppingIn)
	if m.Current() != types.RunStateSteppingIn || m.machine.Current() != "steppingIn" {
		t.Errorf("restore failed: %s", m.Current())
	}

	// same state is a no-op
	m.Transition(ctx, types.RunStateSteppingIn)
	if m.Current() != types.RunStateSteppingIn {
		t.Errorf("unexpected state %s", m.Current())
	}
}

func TestInvalidRunStateIgnored(t *testing.T) {
	h := newHarness(t)
	h.connect(types.RunStateRunning)
	h.s.SetRunState(h.ctx, types.RunState(42))
	if h.s.RunState() != types.RunStateRunning {
		t.Errorf("expected running, got %s", h.s.RunState())
	}
}
