// Package types defines shared data types used across luahook.
//
// This package provides type definitions for:
//   - RunState: the debugger-visible execution mode of a hooked interpreter
//   - HookLevel: how much instrumentation the interpreter is asked to deliver
//   - EventKind and Frame: a single hook event and the frame metadata behind it
//   - StopReason: why execution was paused
//   - BreakpointSpec: the breakpoint descriptor synced from the control channel
//   - StackFrame, StopRecord, SessionInfo: snapshots handed to collaborators
//
// These types are the contract between the hook core, the control-channel
// collaborators and the interpreter side.
package types

import (
	"fmt"
	"strings"
)

// RunState represents the execution mode of the debugged interpreter
type RunState int

const (
	RunStateDisconnected      RunState = 0
	RunStateWaitingForCommand RunState = 1
	RunStateStopOnEntry       RunState = 2
	RunStateRunning           RunState = 3
	RunStateSteppingOver      RunState = 4
	RunStateSteppingIn        RunState = 5
	RunStateSteppingOut       RunState = 6
	RunStateStepOverStopped   RunState = 7
	RunStateStepInStopped     RunState = 8
	RunStateStepOutStopped    RunState = 9
	RunStateBreakpointHit     RunState = 10
)

var runStateNames = map[RunState]string{
	RunStateDisconnected:      "disconnected",
	RunStateWaitingForCommand: "waitingForCommand",
	RunStateStopOnEntry:       "stopOnEntry",
	RunStateRunning:           "running",
	RunStateSteppingOver:      "steppingOver",
	RunStateSteppingIn:        "steppingIn",
	RunStateSteppingOut:       "steppingOut",
	RunStateStepOverStopped:   "stepOverStopped",
	RunStateStepInStopped:     "stepInStopped",
	RunStateStepOutStopped:    "stepOutStopped",
	RunStateBreakpointHit:     "breakpointHit",
}

func (s RunState) String() string {
	if name, ok := runStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("runState(%d)", int(s))
}

// Valid reports whether s is one of the defined run states
func (s RunState) Valid() bool {
	_, ok := runStateNames[s]
	return ok
}

// Stepping reports whether s is one of the stepping variants
func (s RunState) Stepping() bool {
	return s == RunStateSteppingOver || s == RunStateSteppingIn || s == RunStateSteppingOut
}

// Active reports whether the script is executing under the debugger's watch
func (s RunState) Active() bool {
	return s == RunStateRunning || s.Stepping()
}

// Paused reports whether the script is held waiting for a command
func (s RunState) Paused() bool {
	switch s {
	case RunStateWaitingForCommand, RunStateStopOnEntry, RunStateStepOverStopped,
		RunStateStepInStopped, RunStateStepOutStopped, RunStateBreakpointHit:
		return true
	}
	return false
}

// ParseRunState converts a state name back into a RunState
func ParseRunState(name string) (RunState, error) {
	for state, n := range runStateNames {
		if strings.EqualFold(n, name) {
			return state, nil
		}
	}
	return RunStateDisconnected, fmt.Errorf("unknown run state: %q", name)
}

// HookLevel represents the granularity of events the interpreter delivers
type HookLevel int

const (
	HookLevelDisabled HookLevel = 0 // Return events only, sampled
	HookLevelCoarse   HookLevel = 1 // Return events only
	HookLevelModerate HookLevel = 2 // Call and return events
	HookLevelFull     HookLevel = 3 // Call, return and line events
)

func (l HookLevel) String() string {
	switch l {
	case HookLevelDisabled:
		return "disabled"
	case HookLevelCoarse:
		return "coarse"
	case HookLevelModerate:
		return "moderate"
	case HookLevelFull:
		return "full"
	}
	return fmt.Sprintf("hookLevel(%d)", int(l))
}

// Valid reports whether l is one of the defined levels
func (l HookLevel) Valid() bool {
	return l >= HookLevelDisabled && l <= HookLevelFull
}

// ParseHookLevel parses a level name ("full") or number ("3")
func ParseHookLevel(name string) (HookLevel, error) {
	name = strings.TrimSpace(name)
	for l := HookLevelDisabled; l <= HookLevelFull; l++ {
		if name == l.String() || name == fmt.Sprint(int(l)) {
			return l, nil
		}
	}
	return HookLevelDisabled, fmt.Errorf("unknown hook level %q", name)
}

// EventMask is the set of event kinds an interpreter should report
type EventMask uint8

const (
	MaskCall EventMask = 1 << iota
	MaskReturn
	MaskLine
)

// Mask returns the event mask the interpreter must install for this level.
// Disabled and Coarse share a mask; the interpreter samples Disabled.
func (l HookLevel) Mask() EventMask {
	switch l {
	case HookLevelModerate:
		return MaskCall | MaskReturn
	case HookLevelFull:
		return MaskCall | MaskReturn | MaskLine
	default:
		return MaskReturn
	}
}

// Has reports whether the mask admits events of kind k
func (m EventMask) Has(k EventKind) bool {
	switch k {
	case EventCall:
		return m&MaskCall != 0
	case EventReturn, EventTailReturn:
		return m&MaskReturn != 0
	case EventLine:
		return m&MaskLine != 0
	}
	return false
}

// EventKind identifies the kind of hook event
type EventKind int

const (
	EventCall       EventKind = 0
	EventReturn     EventKind = 1
	EventLine       EventKind = 2
	EventTailReturn EventKind = 4
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	case EventLine:
		return "line"
	case EventTailReturn:
		return "tail return"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// ParseEventKind converts a trace event name into an EventKind
func ParseEventKind(name string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "call":
		return EventCall, nil
	case "return":
		return EventReturn, nil
	case "line":
		return EventLine, nil
	case "tail return", "tailreturn", "tail_return":
		return EventTailReturn, nil
	}
	return EventCall, fmt.Errorf("unknown event kind: %q", name)
}

// FrameKind classifies the function running in a frame
type FrameKind string

const (
	FrameLua    FrameKind = "Lua"
	FrameMain   FrameKind = "main"
	FrameNative FrameKind = "C"
)

// Frame is the metadata of the frame an event fired in
type Frame struct {
	Source          string    `json:"source"`      // Raw chunk name, e.g. "@scripts/a.lua"
	ShortSource     string    `json:"shortSource"` // Printable label, e.g. `[string "x = 1"]`
	CurrentLine     int       `json:"currentLine"`
	LineDefined     int       `json:"lineDefined"`
	LastLineDefined int       `json:"lastLineDefined"`
	Kind            FrameKind `json:"kind"`
	Event           EventKind `json:"event"`
}

// StopReason is the reason reported to the control channel on a stop
type StopReason string

const (
	StopOnBreakpoint     StopReason = "stopOnBreakpoint"
	StopOnCodeBreakpoint StopReason = "stopOnCodeBreakpoint"
	StopOnStep           StopReason = "stopOnStep"
	StopOnStepIn         StopReason = "stopOnStepIn"
	StopOnStepOut        StopReason = "stopOnStepOut"
	StopOnEntry          StopReason = "stopOnEntry"
)

// BreakpointKind is the flavour of a breakpoint
type BreakpointKind string

const (
	BreakpointLine      BreakpointKind = "line"
	BreakpointCondition BreakpointKind = "condition"
	BreakpointLogPoint  BreakpointKind = "logPoint"
)

// BreakpointSpec describes one breakpoint as synced from the control channel
type BreakpointSpec struct {
	Line         int            `json:"line"`
	Kind         BreakpointKind `json:"kind,omitempty"`
	Condition    string         `json:"condition,omitempty"`
	LogMessage   string         `json:"logMessage,omitempty"`
	HitCondition string         `json:"hitCondition,omitempty"`
}

// Normalize fills in the kind when only the condition or message is set
func (b BreakpointSpec) Normalize() BreakpointSpec {
	if b.Kind != "" {
		return b
	}
	switch {
	case b.LogMessage != "":
		b.Kind = BreakpointLogPoint
	case b.Condition != "":
		b.Kind = BreakpointCondition
	default:
		b.Kind = BreakpointLine
	}
	return b
}

// LogLevel is the debugger's own log verbosity, synced from the control channel
type LogLevel int

const (
	LogLevelVerbose LogLevel = 0
	LogLevelInfo    LogLevel = 1
	LogLevelError   LogLevel = 2
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelVerbose:
		return "verbose"
	case LogLevelInfo:
		return "info"
	case LogLevelError:
		return "error"
	}
	return fmt.Sprintf("logLevel(%d)", int(l))
}

// StackFrame is one entry of the stack snapshot sent with a stop
type StackFrame struct {
	Index  int            `json:"index"`
	Name   string         `json:"name"`
	Source string         `json:"source"`
	Line   int            `json:"line"`
	Locals map[string]any `json:"locals,omitempty"`
}

// StopRecord records one stop observed by a collaborator
type StopRecord struct {
	Reason StopReason   `json:"reason"`
	Source string       `json:"source,omitempty"`
	Line   int          `json:"line,omitempty"`
	Stack  []StackFrame `json:"stack,omitempty"`
}

// SessionStatus represents the status of a replay session
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusTerminated   SessionStatus = "terminated"
)

// SessionInfo represents information about a replay session
type SessionInfo struct {
	SessionID  string        `json:"sessionId"`
	Trace      string        `json:"trace"`
	Status     SessionStatus `json:"status"`
	RunState   string        `json:"runState"`
	HookLevel  string        `json:"hookLevel"`
	LastSource string        `json:"lastSource,omitempty"`
	Stops      int           `json:"stops"`
	Events     int           `json:"events"`
}
