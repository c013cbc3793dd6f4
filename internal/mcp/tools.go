package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the debug API
func (s *Server) registerTools() {
	// Session Management (both modes)
	s.registerDebugLaunch()
	s.registerDebugDisconnect()
	s.registerDebugListSessions()

	// Inspection (both modes)
	s.registerDebugSnapshot()
	s.registerDebugCommand()
	s.registerDebugEvaluate()

	// Control (full mode only)
	if s.config.CanUseControlTools() {
		s.registerDebugBreakpoints()
		s.registerDebugStep()
		s.registerDebugContinue()
		s.registerDebugConnectIDE()
	}
}

// Session Management Tools

func (s *Server) registerDebugLaunch() {
	tool := mcp.NewTool("debug_launch",
		mcp.WithDescription("Load a program listing and run it until the first pause. Returns sessionId needed for all other tools and the DBGp init packet. Use stopOnEntry=true to pause at the first statement."),
		mcp.WithString("program",
			mcp.Description("Path to the program listing (.dasm). Not required if source is provided."),
		),
		mcp.WithString("source",
			mcp.Description("Inline program listing. Used when program is empty."),
		),
		mcp.WithString("name",
			mcp.Description("Name reported for an inline listing (default: inline.dasm)"),
		),
		mcp.WithBoolean("stopOnEntry",
			mcp.Description("Pause before the first statement (default: false)"),
		),
		mcp.WithString("breakpoints",
			mcp.Description("JSON array of initial line breakpoints. Example: [{\"filename\": \"calc.src\", \"line\": 4}]"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugLaunch)
}

func (s *Server) registerDebugDisconnect() {
	tool := mcp.NewTool("debug_disconnect",
		mcp.WithDescription("Terminate a debug session"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugDisconnect)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List all active debug sessions"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListSessions)
}

// Inspection Tools

func (s *Server) registerDebugSnapshot() {
	tool := mcp.NewTool("debug_snapshot",
		mcp.WithDescription("Get the complete state of a session in one call: status, stack frames, locals per frame, breakpoints, the last hit and program output."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
		mcp.WithNumber("maxStackDepth",
			mcp.Description("Maximum frames to return (default: 20)"),
		),
		mcp.WithBoolean("expandVariables",
			mcp.Description("Include locals for each frame (default: true)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugSnapshot)
}

func (s *Server) registerDebugCommand() {
	tool := mcp.NewTool("debug_command",
		mcp.WithDescription("Run a raw DBGp command (e.g. 'stack_get', 'context_get -d 0', 'property_get -n $x') and return the XML response. Runs against a disposable copy of the paused session unless live=true."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("DBGp command line. A transaction id (-i) is added when missing."),
		),
		mcp.WithBoolean("live",
			mcp.Description("Run against the live session context (full mode only, default: false)"),
		),
		mcp.WithBoolean("framed",
			mcp.Description("Return the response as a length-prefixed DBGp packet (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugCommand)
}

func (s *Server) registerDebugEvaluate() {
	tool := mcp.NewTool("debug_evaluate",
		mcp.WithDescription("Evaluate an expression in a paused frame. Supports + - * on integers, string concatenation, parentheses and local variable names."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate"),
		),
		mcp.WithNumber("frameId",
			mcp.Description("Stack level to evaluate in (default: 0, the innermost frame)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugEvaluate)
}

// Control Tools

func (s *Server) registerDebugBreakpoints() {
	tool := mcp.NewTool("debug_breakpoints",
		mcp.WithDescription("Manage line breakpoints. action=set adds breakpoints for each line in a file, action=remove deletes one by id, action=list returns all."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
		mcp.WithString("action",
			mcp.Description("One of set, remove, list (default: set)"),
		),
		mcp.WithString("path",
			mcp.Description("Source file name for action=set"),
		),
		mcp.WithString("lines",
			mcp.Description("JSON array of line numbers for action=set. Example: [4, 5]"),
		),
		mcp.WithString("id",
			mcp.Description("Breakpoint id for action=remove"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugBreakpoints)
}

func (s *Server) registerDebugStep() {
	tool := mcp.NewTool("debug_step",
		mcp.WithDescription("Step the paused program. 'over' stops at the next location in the same or an outer frame, 'into' at the next location anywhere, 'out' after the current frame returns."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Step type: over, into, out"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStep)
}

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume execution until a breakpoint or the end of the program"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugConnectIDE() {
	tool := mcp.NewTool("debug_connect_ide",
		mcp.WithDescription("Connect a paused session to an IDE listening for DBGp debugger connections. The IDE then drives the session (run, step, breakpoints, inspection) until it detaches or stops. Returns immediately once connected."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The debug session ID"),
		),
		mcp.WithString("address",
			mcp.Description("host:port the IDE listens on (default: 127.0.0.1:9000)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugConnectIDE)
}
