package dbgp

import (
	"strconv"

	"github.com/ctagard/dontbug/internal/breakpoint"
)

func breakpointNode(bp breakpoint.Breakpoint) *Node {
	return NewNode("breakpoint").
		SetAttr("id", bp.ID).
		SetAttr("type", string(bp.Type)).
		SetAttr("state", string(bp.State)).
		SetAttr("filename", FileURI(bp.Filename)).
		SetAttr("lineno", strconv.Itoa(bp.Line)).
		SetAttr("temporary", boolAttr(bp.Temporary)).
		SetAttr("hit_count", strconv.Itoa(bp.HitCount))
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func handleBreakpointSet(sc *Context, cmd Command, out *Node) error {
	raw, err := requireOption(cmd, "t")
	if err != nil {
		return err
	}
	t, err := breakpoint.ParseType(raw)
	if err != nil {
		return err
	}
	for _, opt := range []string{"h", "o", "m", "x"} {
		if _, ok := cmd.Option(opt); ok {
			return &breakpoint.Error{Code: breakpoint.CodeTypeNotSupported, Message: "hit conditions and function breakpoints are not supported"}
		}
	}
	state := breakpoint.StateEnabled
	if s, ok := cmd.Option("s"); ok {
		if state, err = breakpoint.ParseState(s); err != nil {
			return err
		}
	}

	var filename string
	var line int
	if t == breakpoint.TypeLine {
		f, err := requireOption(cmd, "f")
		if err != nil {
			return err
		}
		filename = StripFileURI(f)
		if line, err = intOption(cmd, "n", 0); err != nil {
			return err
		}
		if _, ok := cmd.Option("n"); !ok {
			return errorf(CodeInvalidOptions, "line breakpoints require option -n")
		}
	}
	temp, _ := cmd.Option("r")

	bp, err := sc.Breakpoints.Add(t, filename, line, state, temp == "1")
	if err != nil {
		return err
	}
	out.SetAttr("state", string(bp.State))
	out.SetAttr("id", bp.ID)
	return nil
}

func handleBreakpointGet(sc *Context, cmd Command, out *Node) error {
	id, err := requireOption(cmd, "d")
	if err != nil {
		return err
	}
	bp, ok := sc.Breakpoints.Get(id)
	if !ok {
		return &breakpoint.Error{Code: breakpoint.CodeNoSuchBreakpoint, Message: "no breakpoint with id " + id}
	}
	out.AddChild(breakpointNode(bp))
	return nil
}

func handleBreakpointList(sc *Context, _ Command, out *Node) error {
	for _, bp := range sc.Breakpoints.List() {
		out.AddChild(breakpointNode(bp))
	}
	return nil
}

func handleBreakpointRemove(sc *Context, cmd Command, _ *Node) error {
	id, err := requireOption(cmd, "d")
	if err != nil {
		return err
	}
	return sc.Breakpoints.Remove(id)
}

func handleBreakpointUpdate(sc *Context, cmd Command, _ *Node) error {
	id, err := requireOption(cmd, "d")
	if err != nil {
		return err
	}
	for _, opt := range []string{"n", "h", "o"} {
		if _, ok := cmd.Option(opt); ok {
			return errorf(CodeInvalidOptions, "breakpoint_update only supports -s")
		}
	}
	raw, err := requireOption(cmd, "s")
	if err != nil {
		return err
	}
	state, err := breakpoint.ParseState(raw)
	if err != nil {
		return err
	}
	return sc.Breakpoints.Update(id, state)
}
