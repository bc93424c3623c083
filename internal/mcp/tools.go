package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the replay tool API
func (s *Server) registerTools() {
	// Sessions
	s.registerHookReplay()
	s.registerHookListSessions()
	s.registerHookEnd()

	// Inspection
	s.registerHookStatus()
	s.registerHookOutput()
	s.registerHookListConfigs()
	s.registerHookVersion()

	// Control
	s.registerHookSelectLevel()
}

// Session Tools

func (s *Server) registerHookReplay() {
	tool := mcp.NewTool("hook_replay",
		mcp.WithDescription("Replay a recorded Lua hook trace (JSON lines) through the debugger hook engine. Breakpoints and stop actions script the front end: every stop is answered by the next action, then 'continue'. Returns sessionId. Can use direct arguments OR a Lua configuration from .vscode/launch.json."),
		mcp.WithString("trace",
			mcp.Description("Path to the trace file. Not required if the launch.json configuration sets 'trace'."),
		),
		mcp.WithString("breakpoints",
			mcp.Description("JSON object mapping source paths to breakpoints: {\"src/main.lua\": [{line: number, condition?: string, hitCondition?: string, logMessage?: string}]}"),
		),
		mcp.WithString("actions",
			mcp.Description("Comma separated answers to the stops, in order: continue, next, stepIn, stepOut, disconnect. Example: 'next,stepIn,continue'"),
		),
		mcp.WithBoolean("stopOnEntry",
			mcp.Description("Stop on the first executed line (default: from configuration)"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the replay to finish before returning (default: true)"),
		),
		mcp.WithNumber("timeoutSeconds",
			mcp.Description("Maximum time to wait when wait=true (default: 30)"),
		),
		// Launch.json configuration support
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file. Auto-discovers from workspace if not provided."),
		),
		mcp.WithString("configName",
			mcp.Description("Name of a Lua configuration in launch.json. Sets cwd, luaFileExtension, pathCaseSensitivity, autoPathMode, stopOnEntry and logLevel."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace root for variable resolution (e.g., ${workspaceFolder}) and config discovery."),
		),
		mcp.WithString("inputValues",
			mcp.Description("JSON object with values for ${input:} variables in launch.json. Example: {\"traceName\": \"run.jsonl\"}"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookReplay)
}

func (s *Server) registerHookListSessions() {
	tool := mcp.NewTool("hook_list_sessions",
		mcp.WithDescription("List replay sessions with their status, run state and hook level"),
	)
	s.mcpServer.AddTool(tool, s.handleHookListSessions)
}

func (s *Server) registerHookEnd() {
	tool := mcp.NewTool("hook_end",
		mcp.WithDescription("End a replay session. A running replay is cancelled; its output is discarded."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookEnd)
}

// Inspection Tools

func (s *Server) registerHookStatus() {
	tool := mcp.NewTool("hook_status",
		mcp.WithDescription("Get the state of a replay session: status, run state, hook level, last source, event counters and every stop with its call stack."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookStatus)
}

func (s *Server) registerHookOutput() {
	tool := mcp.NewTool("hook_output",
		mcp.WithDescription("Get the debugger output of a replay session: log points, debugger messages and the stop log. The oldest lines are dropped when the buffer is full."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Only return the last N lines"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookOutput)
}

func (s *Server) registerHookListConfigs() {
	tool := mcp.NewTool("hook_list_configs",
		mcp.WithDescription("List the configurations of a launch.json and whether luahook can use them"),
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file. Auto-discovers from workspace if not provided."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace root used for discovery"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookListConfigs)
}

func (s *Server) registerHookVersion() {
	tool := mcp.NewTool("hook_version",
		mcp.WithDescription("Get the luahook version and hook protocol version, optionally checking an adapter version against the protocol"),
		mcp.WithString("adapterVersion",
			mcp.Description("Version a front end adapter would announce in attach/launch (e.g. 3.2.0)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookVersion)
}

// Control Tools

func (s *Server) registerHookSelectLevel() {
	tool := mcp.NewTool("hook_select_level",
		mcp.WithDescription("Force the hook level of a running replay: disabled, coarse, moderate or full (or 0-3). The engine re-selects the level on its own after the next resume, breakpoint sync or function boundary."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("level",
			mcp.Required(),
			mcp.Description("disabled, coarse, moderate or full"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleHookSelectLevel)
}
