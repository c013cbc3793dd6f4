// Package dbgp implements the DBGp command executor that answers debugger
// protocol commands against a session Context.
//
// Responses are built as Node trees and serialized deterministically, so
// the same read-only command against an unchanged context always renders
// the same bytes.
package dbgp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/ctagard/dontbug/internal/breakpoint"
)

// Flags modify how a command executes.
type Flags uint8

const (
	// FlagDiversion marks a disposable context. Commands that would
	// mutate session state are refused.
	FlagDiversion Flags = 1 << iota
)

// Status is the executor's result code.
type Status int

const (
	StatusOK      Status = 0
	StatusFailure Status = 1
)

// DBGp error codes.
const (
	CodeParse          = 1
	CodeInvalidOptions = 3
	CodeUnimplemented  = 4
	CodeNotAvailable   = 5
	CodeCannotOpenFile = 100
	CodeEvalFailed     = 206
	CodeNoSuchProperty = 300
	CodeInvalidDepth   = 302
	CodeInvalidContext = 303
)

// Error is a protocol-level failure rendered as an <error> element.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dbgp error %d: %s", e.Code, e.Message)
}

func errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type handlerFunc func(sc *Context, cmd Command, out *Node) error

type handler struct {
	fn      handlerFunc
	mutates bool
}

// Engine executes DBGp commands.
type Engine struct {
	log      logr.Logger
	handlers map[string]handler
}

// NewEngine returns an executor with every supported command registered.
func NewEngine(log logr.Logger) *Engine {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	e := &Engine{log: log, handlers: map[string]handler{}}

	e.register("status", handleStatus, false)
	e.register("feature_get", handleFeatureGet, false)
	e.register("feature_set", handleFeatureSet, true)

	e.register("stack_depth", handleStackDepth, false)
	e.register("stack_get", handleStackGet, false)
	e.register("context_names", handleContextNames, false)
	e.register("context_get", handleContextGet, false)
	e.register("typemap_get", handleTypemapGet, false)
	e.register("property_get", handlePropertyGet, false)
	e.register("property_value", handlePropertyValue, false)
	e.register("property_set", handleReadOnlyReplay, false)
	e.register("eval", handleEval, false)
	e.register("source", handleSource, false)

	e.register("breakpoint_set", handleBreakpointSet, true)
	e.register("breakpoint_get", handleBreakpointGet, false)
	e.register("breakpoint_list", handleBreakpointList, false)
	e.register("breakpoint_remove", handleBreakpointRemove, true)
	e.register("breakpoint_update", handleBreakpointUpdate, true)

	for _, name := range []string{"stdout", "stderr", "stdin"} {
		e.register(name, handleReadOnlyReplay, false)
	}
	for _, name := range []string{"run", "step_into", "step_over", "step_out", "stop", "detach", "break"} {
		e.register(name, handleContinuation, false)
	}
	return e
}

func (e *Engine) register(name string, fn handlerFunc, mutates bool) {
	e.handlers[name] = handler{fn: fn, mutates: mutates}
}

// Execute runs one command against sc and fills out, which should be an
// empty <response> node. StatusFailure means no usable response was
// produced.
func (e *Engine) Execute(sc *Context, command string, flags Flags, out *Node) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error(fmt.Errorf("%v", r), "Command handler panicked", "command", command)
			status = StatusFailure
		}
	}()

	if sc == nil || sc.Target == nil {
		e.log.Error(errors.New("no session context"), "Cannot execute command", "command", command)
		return StatusFailure
	}
	cmd, err := ParseCommand(command)
	if err != nil {
		e.log.Error(err, "Cannot parse command", "command", command)
		return StatusFailure
	}

	if flags&FlagDiversion == 0 {
		if cmd.TransactionID < sc.lastTxn {
			e.log.Error(fmt.Errorf("transaction id %d precedes %d", cmd.TransactionID, sc.lastTxn), "Out of order command", "command", cmd.Name)
			return StatusFailure
		}
		sc.lastTxn = cmd.TransactionID
	}

	out.SetAttr("command", cmd.Name)
	out.SetAttr("transaction_id", strconv.Itoa(cmd.TransactionID))

	h, ok := e.handlers[cmd.Name]
	switch {
	case !ok:
		writeError(out, errorf(CodeUnimplemented, "unimplemented command %s", cmd.Name))
		return StatusOK
	case h.mutates && flags&FlagDiversion != 0:
		writeError(out, errorf(CodeNotAvailable, "%s is not available in a diverted context", cmd.Name))
		return StatusOK
	}

	if err := h.fn(sc, cmd, out); err != nil {
		var perr *Error
		var berr *breakpoint.Error
		switch {
		case errors.As(err, &perr):
			writeError(out, perr)
		case errors.As(err, &berr):
			writeError(out, &Error{Code: int(berr.Code), Message: berr.Message})
		default:
			e.log.Error(err, "Command failed", "command", cmd.Name)
			return StatusFailure
		}
	}
	e.log.V(2).Info("Command executed", "command", cmd.Name, "transaction_id", cmd.TransactionID)
	return StatusOK
}

// writeError replaces whatever a handler produced with an error element.
// Only the command and transaction_id attributes survive.
func writeError(out *Node, err *Error) {
	kept := out.Attrs[:0:0]
	for _, a := range out.Attrs {
		if a.Name == "command" || a.Name == "transaction_id" {
			kept = append(kept, a)
		}
	}
	out.Attrs = kept
	out.Children = nil
	out.Text = ""
	e := out.AddChild(NewNode("error").SetAttr("code", strconv.Itoa(err.Code)))
	e.AddChild(NewNode("message").SetCDATA(err.Message))
}

func intOption(cmd Command, name string, def int) (int, error) {
	v, ok := cmd.Option(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errorf(CodeInvalidOptions, "option -%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func requireOption(cmd Command, name string) (string, error) {
	v, ok := cmd.Option(name)
	if !ok {
		return "", errorf(CodeInvalidOptions, "%s requires option -%s", cmd.Name, name)
	}
	return v, nil
}

// FileURI renders a filename the way stack and breakpoint responses do.
func FileURI(filename string) string {
	if filename == "" {
		return "dbgp://internal"
	}
	if strings.Contains(filename, "://") {
		return filename
	}
	return "file://" + filename
}

// StripFileURI is the inverse of FileURI for file:// names.
func StripFileURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func handleStatus(sc *Context, _ Command, out *Node) error {
	out.SetAttr("status", string(sc.Status))
	out.SetAttr("reason", string(sc.Reason))
	return nil
}

func handleFeatureGet(sc *Context, cmd Command, out *Node) error {
	name, err := requireOption(cmd, "n")
	if err != nil {
		return err
	}
	out.SetAttr("feature_name", name)
	f, ok := sc.Features.Get(name)
	if !ok {
		out.SetAttr("supported", "0")
		return nil
	}
	out.SetAttr("supported", "1")
	out.SetText(f.String())
	return nil
}

func handleFeatureSet(sc *Context, cmd Command, out *Node) error {
	name, err := requireOption(cmd, "n")
	if err != nil {
		return err
	}
	value, err := requireOption(cmd, "v")
	if err != nil {
		return err
	}
	f, ok := sc.Features.Get(name)
	if !ok {
		return errorf(CodeInvalidOptions, "unknown feature %s", name)
	}
	out.SetAttr("feature", name)
	if err := f.Set(value); err != nil {
		if errors.Is(err, ErrReadOnlyFeature) {
			out.SetAttr("success", "0")
			return nil
		}
		return &Error{Code: CodeInvalidOptions, Message: err.Error()}
	}
	out.SetAttr("success", "1")
	return nil
}

// handleReadOnlyReplay answers commands a replayed execution can never
// honour.
func handleReadOnlyReplay(_ *Context, _ Command, out *Node) error {
	out.SetAttr("success", "0")
	return nil
}

func handleContinuation(_ *Context, cmd Command, _ *Node) error {
	return errorf(CodeNotAvailable, "%s is driven by the replay controller", cmd.Name)
}
