package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"fortio.org/safecast"
	"github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/dontbug/internal/breakpoint"
	"github.com/ctagard/dontbug/internal/dbgp"
	"github.com/ctagard/dontbug/internal/errors"
	"github.com/ctagard/dontbug/internal/ide"
	"github.com/ctagard/dontbug/internal/session"
	"github.com/ctagard/dontbug/pkg/types"
)

const defaultStackDepth = 20

func (s *Server) handleDebugLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanLaunch() {
		return mcp.NewToolResultError(errors.PermissionDenied("launch", string(s.config.Mode)).Error()), nil
	}

	program, _ := request.RequireString("program")
	source, _ := request.RequireString("source")
	if program == "" && source == "" {
		return mcp.NewToolResultError(errors.MissingParameter("program", "path to a program listing, or an inline 'source'").Error()), nil
	}
	name, _ := request.RequireString("name")

	req := session.LaunchRequest{
		Path:        program,
		Source:      source,
		Name:        name,
		StopOnEntry: request.GetBool("stopOnEntry", false),
	}

	if bpsJSON, err := request.RequireString("breakpoints"); err == nil && bpsJSON != "" {
		if err := json.Unmarshal([]byte(bpsJSON), &req.Breakpoints); err != nil {
			return mcp.NewToolResultError(errors.InvalidParameter("breakpoints", bpsJSON, `[{"filename": "calc.src", "line": 4}]`).WithCause(err).Error()), nil
		}
	}

	sess, err := s.sessions.Launch(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"session":   sess.Info(),
		"init":      sess.InitPacket(),
	})
}

func (s *Server) handleDebugDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.sessions.Terminate(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"success": true,
		"message": "Session terminated",
	})
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.sessions.List()

	result := make([]types.SessionInfo, len(sessions))
	for i, sess := range sessions {
		result[i] = sess.Info()
	}

	return jsonResult(map[string]interface{}{
		"sessions": result,
	})
}

func (s *Server) handleDebugSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	maxStackDepth := defaultStackDepth
	if d, err := request.RequireFloat("maxStackDepth"); err == nil {
		if maxStackDepth, err = safecast.Convert[int](d); err != nil || maxStackDepth < 0 {
			return mcp.NewToolResultError(errors.InvalidParameter("maxStackDepth", d, "a non-negative integer").Error()), nil
		}
	}
	expandVariables := request.GetBool("expandVariables", true)

	snap := sess.Snapshot()

	frames := snap.Frames
	if len(frames) > maxStackDepth {
		frames = frames[:maxStackDepth]
	}
	stack := make([]dap.StackFrame, len(frames))
	variables := make(map[string][]dap.Variable)
	for i, f := range frames {
		stack[i] = dapFrame(f)
		if expandVariables {
			vars := make([]dap.Variable, len(f.Locals))
			for j, v := range f.Locals {
				vars[j] = dap.Variable{Name: v.Name, Value: v.Value, Type: v.Type}
			}
			variables[strconv.Itoa(f.Level)] = vars
		}
	}

	snapshot := map[string]interface{}{
		"sessionId":   sess.ID,
		"status":      snap.Info.Status,
		"reason":      snap.Info.Reason,
		"location":    snap.Info.Location,
		"depth":       snap.Info.Depth,
		"stack":       stack,
		"breakpoints": dapBreakpoints(snap.Breakpoints),
		"output":      snap.Output,
	}
	if expandVariables {
		snapshot["variables"] = variables
	}
	if snap.Hit != nil {
		snapshot["hit"] = map[string]interface{}{
			"kind":         snap.Hit.Kind,
			"breakpointId": snap.Hit.BreakpointID,
			"location":     snap.Hit.Location.String(),
			"depth":        snap.Hit.Depth,
		}
	}
	if snap.Info.Error != "" {
		snapshot["error"] = snap.Info.Error
	}

	return jsonResult(snapshot)
}

func (s *Server) handleDebugCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	live := request.GetBool("live", false)
	if live && !s.config.CanDispatchLive() {
		return mcp.NewToolResultError(errors.PermissionDenied("live", string(s.config.Mode)).Error()), nil
	}

	var resp string
	if live {
		resp, err = sess.Dispatch(command)
	} else {
		resp, err = sess.Query(command)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if request.GetBool("framed", false) {
		resp = dbgp.Packet(resp)
	}

	return jsonResult(map[string]interface{}{
		"command":  command,
		"live":     live,
		"response": resp,
	})
}

func (s *Server) handleDebugEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanEvaluate() {
		return mcp.NewToolResultError(errors.PermissionDenied("evaluate", string(s.config.Mode)).Error()), nil
	}

	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	expression, err := request.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	level := 0
	if f, err := request.RequireFloat("frameId"); err == nil {
		if level, err = safecast.Convert[int](f); err != nil || level < 0 {
			return mcp.NewToolResultError(errors.InvalidParameter("frameId", f, "a stack level from debug_snapshot").Error()), nil
		}
	}

	resp, err := sess.Evaluate(expression, level)
	if err != nil {
		return mcp.NewToolResultError(errors.EvaluationFailed(expression, err).Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"expression": expression,
		"frameId":    level,
		"response":   resp,
	})
}

func (s *Server) handleDebugBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	action, _ := request.RequireString("action")
	switch action {
	case "", "set":
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(errors.MissingParameter("path", "source file name of the breakpoints").Error()), nil
		}
		linesJSON, err := request.RequireString("lines")
		if err != nil {
			return mcp.NewToolResultError(errors.MissingParameter("lines", "JSON array of line numbers").Error()), nil
		}
		var lines []int
		if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
			return mcp.NewToolResultError(errors.InvalidParameter("lines", linesJSON, "[4, 5]").WithCause(err).Error()), nil
		}

		set := make([]breakpoint.Breakpoint, 0, len(lines))
		for _, line := range lines {
			bp, err := sess.SetBreakpoint(path, line)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			set = append(set, bp)
		}
		return jsonResult(map[string]interface{}{
			"breakpoints": dapBreakpoints(set),
		})

	case "remove":
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(errors.MissingParameter("id", "breakpoint id from action=list").Error()), nil
		}
		if err := sess.RemoveBreakpoint(id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{
			"success": true,
			"removed": id,
		})

	case "list":
		return jsonResult(map[string]interface{}{
			"breakpoints": dapBreakpoints(sess.Breakpoints()),
		})

	default:
		return mcp.NewToolResultError(errors.InvalidParameter("action", action, "set, remove or list").Error()), nil
	}
}

func (s *Server) handleDebugStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stepType, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	kind := types.StepKind(stepType)
	switch kind {
	case types.StepInto, types.StepOver, types.StepOut:
	default:
		return mcp.NewToolResultError(errors.InvalidParameter("type", stepType, "over, into or out").Error()), nil
	}

	info, err := sess.Step(ctx, kind)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(info)
}

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, err := sess.Continue(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(info)
}

func (s *Server) handleDebugConnectIDE(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	address, _ := request.RequireString("address")
	if address == "" {
		address = ide.DefaultAddress
	}

	t, err := ide.Dial(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(errors.IDEConnectFailed(address, err).Error()), nil
	}

	log := s.log.WithName("ide").WithValues("sessionId", sess.ID, "address", address)
	s.ideWG.Add(1)
	go func() {
		defer s.ideWG.Done()
		defer t.Close()

		outcome, err := ide.Serve(s.ideCtx, t, sess, log)
		if err != nil {
			log.Error(err, "IDE connection failed")
		}
		if outcome == ide.OutcomeStopped {
			_ = s.sessions.Terminate(sess.ID)
		}
	}()

	return jsonResult(map[string]interface{}{
		"success":   true,
		"sessionId": sess.ID,
		"address":   address,
	})
}

func (s *Server) getSession(request mcp.CallToolRequest) (*session.Session, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "the id returned by debug_launch")
	}
	return s.sessions.Get(sessionID)
}

func dapSource(filename string) *dap.Source {
	if filename == "" {
		return nil
	}
	return &dap.Source{Name: filepath.Base(filename), Path: filename}
}

func dapFrame(f types.StackFrame) dap.StackFrame {
	return dap.StackFrame{
		Id:     f.Level,
		Name:   f.Function,
		Source: dapSource(f.Filename),
		Line:   f.Line,
	}
}

func dapBreakpoints(bps []breakpoint.Breakpoint) []dap.Breakpoint {
	result := make([]dap.Breakpoint, len(bps))
	for i, bp := range bps {
		id, _ := strconv.Atoi(bp.ID)
		result[i] = dap.Breakpoint{
			Id:       id,
			Verified: bp.State == breakpoint.StateEnabled,
			Source:   dapSource(bp.Filename),
			Line:     bp.Line,
		}
		if bp.State != breakpoint.StateEnabled {
			result[i].Message = fmt.Sprintf("breakpoint is %s", bp.State)
		}
	}
	return result
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
