// Package types defines shared data types used across dontbug.
//
// This package provides type definitions for:
//   - Directive and ExecContext: the callback contract between the host
//     interpreter's dispatch loop and the tracepoint handlers
//   - SourceLocation: a (filename, line) pair reported on transitions
//   - SessionStatus and StatusReason: DBGp engine states
//   - StackFrame and Variable: frozen interpreter state for inspection
//   - SessionInfo and StepKind: the controller-facing session view
//
// The vm, tracepoint, breakpoint and dbgp packages all speak these types,
// which keeps the core free of any dependency on a concrete interpreter.
package types

import "fmt"

// Directive tells the host interpreter what to do with the instruction
// that is about to be dispatched.
type Directive int

const (
	// Dispatch executes the instruction through the default path.
	Dispatch Directive = iota
	// Pause parks the interpreter before the instruction executes.
	Pause
)

func (d Directive) String() string {
	switch d {
	case Dispatch:
		return "dispatch"
	case Pause:
		return "pause"
	default:
		return fmt.Sprintf("directive(%d)", int(d))
	}
}

// ExecContext is the view of the active call frame handed to dispatch
// handlers. Filename reports false for synthetic frames that have no
// source file.
type ExecContext interface {
	Filename() (string, bool)
	Line() int
}

// OpcodeHandler is invoked by the host for every dispatched instruction of
// the opcode it is registered for.
type OpcodeHandler func(ec ExecContext) Directive

// StatementHandler is invoked by the host at every statement boundary.
type StatementHandler func(ec ExecContext) Directive

// SourceLocation is a source position captured for one instruction.
type SourceLocation struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d", l.Filename, l.Line)
}

// SessionStatus represents the DBGp status of a debug session
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusBreak    SessionStatus = "break"
	SessionStatusStopping SessionStatus = "stopping"
	SessionStatusStopped  SessionStatus = "stopped"
)

// StatusReason qualifies a SessionStatus
type StatusReason string

const (
	ReasonOK        StatusReason = "ok"
	ReasonError     StatusReason = "error"
	ReasonAborted   StatusReason = "aborted"
	ReasonException StatusReason = "exception"
)

// StepKind selects a stepping mode
type StepKind string

const (
	StepInto StepKind = "into"
	StepOver StepKind = "over"
	StepOut  StepKind = "out"
)

// Variable represents a local variable in a frozen frame
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StackFrame represents one interpreter call frame. Level 0 is the
// innermost frame.
type StackFrame struct {
	Level    int        `json:"level"`
	Function string     `json:"function"`
	Filename string     `json:"filename,omitempty"`
	Line     int        `json:"line"`
	Locals   []Variable `json:"locals,omitempty"`
}

// SessionInfo represents information about a debug session
type SessionInfo struct {
	SessionID   string        `json:"sessionId"`
	Program     string        `json:"program"`
	Status      SessionStatus `json:"status"`
	Reason      StatusReason  `json:"reason,omitempty"`
	Location    string        `json:"location,omitempty"`
	Depth       int           `json:"depth"`
	Granularity string        `json:"granularity"`
	Error       string        `json:"error,omitempty"`
}
