package hook

import (
	"context"

	"github.com/ctagard/luahook/pkg/types"
)

// Channel is the control-channel collaborator the session talks to.
// All calls are made from the interpreter thread; implementations that
// read from a network connection must buffer commands until PollCommands.
type Channel interface {
	// Reconnect attempts to (re)establish the control channel.
	// A nil error means the peer is connected and the session should wait
	// for commands.
	Reconnect(ctx context.Context) error

	// PollCommands returns the pending commands. When block is false it
	// must return immediately; when true it waits until at least one
	// command is available.
	PollCommands(ctx context.Context, block bool) ([]Command, error)

	// ResolvePath maps a raw chunk name to the normalized path that
	// breakpoints are keyed by.
	ResolvePath(ctx context.Context, raw string) (string, error)

	// ConfirmBreakpoint checks a tentative hit against the authoritative
	// file identity and the breakpoint kind.
	ConfirmBreakpoint(ctx context.Context, hit Hit) (bool, error)

	// NotifyStopped reports a stop together with the stack snapshot.
	NotifyStopped(ctx context.Context, reason types.StopReason, stack []types.StackFrame) error

	// Log forwards a debugger message to the front end.
	Log(ctx context.Context, msg string, level types.LogLevel) error
}

// Interpreter is the hooked script interpreter.
type Interpreter interface {
	// FrameInfo returns the metadata of the frame the current event fired in.
	FrameInfo() (types.Frame, bool)

	// StackSnapshot captures the current call stack.
	StackSnapshot() []types.StackFrame

	// SetHookLevel installs the event mask for the given level.
	SetHookLevel(level types.HookLevel)

	// DetachHook removes the hook; no further events are delivered.
	DetachHook()
}

// Hit is a tentative breakpoint hit handed to the channel for confirmation
type Hit struct {
	Path   string               // Normalized path the table matched
	Source string               // Raw chunk name of the frame
	Line   int                  // Current line
	Spec   types.BreakpointSpec // Descriptor found in the table
}

// CommandKind identifies an inbound command
type CommandKind int

const (
	CmdSetRunState CommandKind = iota
	CmdSyncBreakpoints
	CmdForceHit
	CmdVetoHit
	CmdSetConfig
	CmdSetHookLevel
	CmdClearPathCache
	CmdEndSession
)

func (k CommandKind) String() string {
	switch k {
	case CmdSetRunState:
		return "setRunState"
	case CmdSyncBreakpoints:
		return "syncBreakpoints"
	case CmdForceHit:
		return "forceHit"
	case CmdVetoHit:
		return "vetoHit"
	case CmdSetConfig:
		return "setConfig"
	case CmdSetHookLevel:
		return "setHookLevel"
	case CmdClearPathCache:
		return "clearPathCache"
	case CmdEndSession:
		return "endSession"
	}
	return "unknown"
}

// Command is a single instruction delivered by PollCommands.
// Only the fields relevant to Kind are set.
type Command struct {
	Kind          CommandKind
	RunState      types.RunState
	HookLevel     types.HookLevel
	Breakpoints   map[string]map[int]types.BreakpointSpec
	LogLevel      types.LogLevel
	CaseSensitive bool
}

// SetRunStateCommand asks the session to change its run state
func SetRunStateCommand(state types.RunState) Command {
	return Command{Kind: CmdSetRunState, RunState: state}
}

// SyncBreakpointsCommand replaces the whole breakpoint table
func SyncBreakpointsCommand(table map[string]map[int]types.BreakpointSpec) Command {
	return Command{Kind: CmdSyncBreakpoints, Breakpoints: table}
}

// ForceHitCommand makes the next line check stop regardless of the table
func ForceHitCommand() Command {
	return Command{Kind: CmdForceHit}
}

// VetoHitCommand cancels the stop currently being held
func VetoHitCommand() Command {
	return Command{Kind: CmdVetoHit}
}

// SetConfigCommand updates the log level and path case sensitivity
func SetConfigCommand(level types.LogLevel, caseSensitive bool) Command {
	return Command{Kind: CmdSetConfig, LogLevel: level, CaseSensitive: caseSensitive}
}

// SetHookLevelCommand installs a hook level until the next re-selection
func SetHookLevelCommand(level types.HookLevel) Command {
	return Command{Kind: CmdSetHookLevel, HookLevel: level}
}

// ClearPathCacheCommand drops every memoized path resolution
func ClearPathCacheCommand() Command {
	return Command{Kind: CmdClearPathCache}
}

// EndSessionCommand detaches the hook and clears all breakpoints
func EndSessionCommand() Command {
	return Command{Kind: CmdEndSession}
}
