package types

import (
	"encoding/json"
	"testing"
)

// TestRunStateNames verifies every run state round-trips through its name.
func TestRunStateNames(t *testing.T) {
	for state := RunStateDisconnected; state <= RunStateBreakpointHit; state++ {
		t.Run(state.String(), func(t *testing.T) {
			got, err := ParseRunState(state.String())
			if err != nil {
				t.Fatalf("ParseRunState(%q): %v", state.String(), err)
			}
			if got != state {
				t.Errorf("expected %v, got %v", state, got)
			}
		})
	}

	if _, err := ParseRunState("flying"); err == nil {
		t.Error("expected an error for an unknown state")
	}
	if RunState(42).Valid() {
		t.Error("42 is not a run state")
	}
}

func TestRunStateClasses(t *testing.T) {
	tests := []struct {
		state    RunState
		stepping bool
		active   bool
		paused   bool
	}{
		{RunStateDisconnected, false, false, false},
		{RunStateWaitingForCommand, false, false, true},
		{RunStateStopOnEntry, false, false, true},
		{RunStateRunning, false, true, false},
		{RunStateSteppingOver, true, true, false},
		{RunStateSteppingIn, true, true, false},
		{RunStateSteppingOut, true, true, false},
		{RunStateStepOverStopped, false, false, true},
		{RunStateBreakpointHit, false, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.state.String(), func(t *testing.T) {
			if tc.state.Stepping() != tc.stepping {
				t.Errorf("Stepping() = %v", tc.state.Stepping())
			}
			if tc.state.Active() != tc.active {
				t.Errorf("Active() = %v", tc.state.Active())
			}
			if tc.state.Paused() != tc.paused {
				t.Errorf("Paused() = %v", tc.state.Paused())
			}
		})
	}
}

func TestParseHookLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    HookLevel
		wantErr bool
	}{
		{"disabled", HookLevelDisabled, false},
		{"coarse", HookLevelCoarse, false},
		{" moderate ", HookLevelModerate, false},
		{"full", HookLevelFull, false},
		{"0", HookLevelDisabled, false},
		{"3", HookLevelFull, false},
		{"4", 0, true},
		{"verbose", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseHookLevel(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected an error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// TestHookLevelMask verifies the events each level admits.
func TestHookLevelMask(t *testing.T) {
	tests := []struct {
		level HookLevel
		call  bool
		ret   bool
		line  bool
	}{
		{HookLevelDisabled, false, true, false},
		{HookLevelCoarse, false, true, false},
		{HookLevelModerate, true, true, false},
		{HookLevelFull, true, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.level.String(), func(t *testing.T) {
			m := tc.level.Mask()
			if m.Has(EventCall) != tc.call {
				t.Errorf("call admitted = %v", m.Has(EventCall))
			}
			if m.Has(EventReturn) != tc.ret || m.Has(EventTailReturn) != tc.ret {
				t.Errorf("return admitted = %v", m.Has(EventReturn))
			}
			if m.Has(EventLine) != tc.line {
				t.Errorf("line admitted = %v", m.Has(EventLine))
			}
		})
	}
}

func TestParseEventKind(t *testing.T) {
	tests := []struct {
		input string
		want  EventKind
	}{
		{"call", EventCall},
		{"RETURN", EventReturn},
		{"line", EventLine},
		{"tail return", EventTailReturn},
		{"tail_return", EventTailReturn},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseEventKind(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if _, err := ParseEventKind("count"); err == nil {
		t.Error("count events are not supported")
	}
}

func TestBreakpointSpecNormalize(t *testing.T) {
	tests := []struct {
		name string
		spec BreakpointSpec
		want BreakpointKind
	}{
		{"plain", BreakpointSpec{Line: 3}, BreakpointLine},
		{"condition", BreakpointSpec{Line: 3, Condition: "x > 1"}, BreakpointCondition},
		{"log point wins", BreakpointSpec{Line: 3, Condition: "x", LogMessage: "x={x}"}, BreakpointLogPoint},
		{"explicit kind kept", BreakpointSpec{Line: 3, Kind: BreakpointLine, Condition: "x"}, BreakpointLine},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.spec.Normalize().Kind; got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

// TestBreakpointSpec_JSON verifies the field names used by the control channel.
func TestBreakpointSpec_JSON(t *testing.T) {
	var specs []BreakpointSpec
	data := `[{"line": 4}, {"line": 9, "condition": "n == 2", "hitCondition": ">= 3"}, {"line": 12, "logMessage": "n={n}"}]`
	if err := json.Unmarshal([]byte(data), &specs); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	if specs[1].Condition != "n == 2" || specs[1].HitCondition != ">= 3" {
		t.Errorf("unexpected condition fields %+v", specs[1])
	}
	if specs[2].Normalize().Kind != BreakpointLogPoint {
		t.Errorf("expected a log point, got %+v", specs[2])
	}
}
