// Package vm is a small stack-based bytecode interpreter that hosts the
// tracepoint layer.
//
// The dispatch loop exposes three attachment points that mirror what a
// production interpreter offers its debugger extensions:
//   - per-opcode handlers over the whole 0..255 opcode space
//   - a statement handler invoked when a stmt marker dispatches
//   - a call observer fired on user-level call entry and return
//
// Handlers run synchronously on the goroutine that called Run. A handler
// returning types.Pause parks the VM before the instruction executes; the
// next Run executes that instruction without consulting the hooks again.
package vm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ctagard/dontbug/pkg/types"
)

// StopReason explains why Run returned.
type StopReason int

const (
	StopPaused StopReason = iota
	StopHalted
)

func (r StopReason) String() string {
	if r == StopHalted {
		return "halted"
	}
	return "paused"
}

// ErrHalted is returned by Run once the program has finished.
var ErrHalted = errors.New("vm: program has halted")

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 1024

// RuntimeError is a fault raised by the program itself.
type RuntimeError struct {
	Function string
	Filename string
	Line     int
	Msg      string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s:%d: in %s: %s", e.Filename, e.Line, e.Function, e.Msg)
}

// Frame is an active call frame. It implements types.ExecContext.
type Frame struct {
	fn     *Function
	ip     int
	locals []Value
	base   int
}

// Filename reports the frame's source file, or false for synthetic frames.
func (f *Frame) Filename() (string, bool) {
	return f.fn.Filename, f.fn.Filename != ""
}

// Line is the source line of the instruction about to execute.
func (f *Frame) Line() int {
	return f.fn.LineAt(f.ip)
}

// Function is the name of the executing function.
func (f *Frame) Function() string {
	return f.fn.Name
}

// VM executes a Program.
type VM struct {
	prog   *Program
	stack  []Value
	frames []*Frame
	out    bytes.Buffer

	handlers  [256]types.OpcodeHandler
	statement types.StatementHandler
	onCall    func()
	onReturn  func()

	resume bool
	halted bool
	err    error
	result Value
	steps  uint64
}

// New prepares a VM positioned at the first instruction of the entry
// function.
func New(prog *Program) *VM {
	m := &VM{prog: prog}
	entry := prog.Functions[prog.Entry]
	m.frames = append(m.frames, &Frame{fn: entry, locals: make([]Value, len(entry.Locals))})
	return m
}

// SetOpcodeHandler registers h for op. A nil handler restores the default
// dispatch path.
func (m *VM) SetOpcodeHandler(op uint8, h types.OpcodeHandler) {
	m.handlers[op] = h
}

// SetStatementHandler registers the statement-boundary hook.
func (m *VM) SetStatementHandler(h types.StatementHandler) {
	m.statement = h
}

// SetCallObserver registers callbacks for user-level call entry and
// return. The entry frame never fires either callback.
func (m *VM) SetCallObserver(onCall, onReturn func()) {
	m.onCall = onCall
	m.onReturn = onReturn
}

// Run executes until a hook pauses, the program halts, a runtime error
// occurs, or ctx is cancelled.
func (m *VM) Run(ctx context.Context) (StopReason, error) {
	if m.halted {
		if m.err != nil {
			return StopHalted, m.err
		}
		return StopHalted, ErrHalted
	}

	for {
		if m.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return StopPaused, err
			}
		}
		m.steps++

		fr := m.frames[len(m.frames)-1]
		if fr.ip >= len(fr.fn.Code) {
			if err := m.ret(Null()); err != nil {
				return StopHalted, err
			}
			if m.halted {
				return StopHalted, nil
			}
			continue
		}

		op := Opcode(fr.fn.Code[fr.ip])
		if m.resume {
			m.resume = false
		} else if m.hooks(op, fr) == types.Pause {
			m.resume = true
			return StopPaused, nil
		}

		if err := m.exec(op, fr); err != nil {
			m.halted = true
			m.err = err
			return StopHalted, err
		}
		if m.halted {
			return StopHalted, nil
		}
	}
}

func (m *VM) hooks(op Opcode, fr *Frame) types.Directive {
	if op == OpStmt && m.statement != nil {
		if m.statement(fr) == types.Pause {
			return types.Pause
		}
	}
	if h := m.handlers[op]; h != nil {
		return h(fr)
	}
	return types.Dispatch
}

func (m *VM) fault(fr *Frame, format string, args ...any) error {
	return &RuntimeError{
		Function: fr.fn.Name,
		Filename: fr.fn.Filename,
		Line:     fr.Line(),
		Msg:      fmt.Sprintf(format, args...),
	}
}

func (m *VM) push(v Value) { m.stack = append(m.stack, v) }

func (m *VM) pop(fr *Frame) (Value, error) {
	if len(m.stack) <= fr.base {
		return Value{}, m.fault(fr, "stack underflow")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *VM) pop2(fr *Frame) (Value, Value, error) {
	b, err := m.pop(fr)
	if err != nil {
		return Value{}, Value{}, err
	}
	a, err := m.pop(fr)
	if err != nil {
		return Value{}, Value{}, err
	}
	return a, b, nil
}

func (m *VM) exec(op Opcode, fr *Frame) error {
	code := fr.fn.Code
	if fr.ip+op.Width() > len(code) {
		return m.fault(fr, "truncated %s instruction", op)
	}

	switch op {
	case OpNop, OpStmt:

	case OpConst:
		idx := int(binary.BigEndian.Uint16(code[fr.ip+1:]))
		if idx >= len(fr.fn.Constants) {
			return m.fault(fr, "constant %d out of range", idx)
		}
		m.push(fr.fn.Constants[idx])

	case OpLoad:
		slot := int(code[fr.ip+1])
		if slot >= len(fr.locals) {
			return m.fault(fr, "local slot %d out of range", slot)
		}
		m.push(fr.locals[slot])

	case OpStore:
		slot := int(code[fr.ip+1])
		if slot >= len(fr.locals) {
			return m.fault(fr, "local slot %d out of range", slot)
		}
		v, err := m.pop(fr)
		if err != nil {
			return err
		}
		fr.locals[slot] = v

	case OpAdd, OpSub, OpMul, OpLt:
		a, b, err := m.pop2(fr)
		if err != nil {
			return err
		}
		v, err := m.arith(fr, op, a, b)
		if err != nil {
			return err
		}
		m.push(v)

	case OpEq:
		a, b, err := m.pop2(fr)
		if err != nil {
			return err
		}
		m.push(Bool(a.equal(b)))

	case OpJmp:
		fr.ip = int(binary.BigEndian.Uint16(code[fr.ip+1:]))
		return nil

	case OpJz:
		cond, err := m.pop(fr)
		if err != nil {
			return err
		}
		if !cond.Truthy() {
			fr.ip = int(binary.BigEndian.Uint16(code[fr.ip+1:]))
			return nil
		}

	case OpCall:
		return m.call(fr)

	case OpRet:
		v, err := m.pop(fr)
		if err != nil {
			return err
		}
		return m.ret(v)

	case OpPrint:
		v, err := m.pop(fr)
		if err != nil {
			return err
		}
		m.out.WriteString(v.String())
		m.out.WriteByte('\n')

	case OpPop:
		if _, err := m.pop(fr); err != nil {
			return err
		}

	case OpDup:
		v, err := m.pop(fr)
		if err != nil {
			return err
		}
		m.push(v)
		m.push(v)

	case OpHalt:
		if len(m.stack) > fr.base {
			m.result = m.stack[len(m.stack)-1]
		}
		m.halted = true
		return nil

	default:
		return m.fault(fr, "illegal opcode 0x%02x", byte(op))
	}

	fr.ip += op.Width()
	return nil
}

func (m *VM) arith(fr *Frame, op Opcode, a, b Value) (Value, error) {
	if op == OpAdd && a.kind == KindString && b.kind == KindString {
		return String(a.s + b.s), nil
	}
	x, okA := a.AsInt()
	y, okB := b.AsInt()
	if !okA || !okB {
		return Value{}, m.fault(fr, "%s on %s and %s", op, a.TypeName(), b.TypeName())
	}
	switch op {
	case OpAdd:
		return Int(x + y), nil
	case OpSub:
		return Int(x - y), nil
	case OpMul:
		return Int(x * y), nil
	default:
		return Bool(x < y), nil
	}
}

func (m *VM) call(fr *Frame) error {
	code := fr.fn.Code
	idx := int(binary.BigEndian.Uint16(code[fr.ip+1:]))
	argc := int(code[fr.ip+3])
	if idx >= len(m.prog.Functions) {
		return m.fault(fr, "function %d out of range", idx)
	}
	callee := m.prog.Functions[idx]
	if argc != callee.Params {
		return m.fault(fr, "%s expects %d arguments, got %d", callee.Name, callee.Params, argc)
	}
	if len(m.stack)-fr.base < argc {
		return m.fault(fr, "stack underflow")
	}

	locals := make([]Value, len(callee.Locals))
	base := len(m.stack) - argc
	copy(locals, m.stack[base:])
	m.stack = m.stack[:base]

	// The caller keeps ip on the call so its reported line stays on the
	// call site; ret advances it.
	m.frames = append(m.frames, &Frame{fn: callee, locals: locals, base: base})
	if m.onCall != nil {
		m.onCall()
	}
	return nil
}

func (m *VM) ret(v Value) error {
	fr := m.frames[len(m.frames)-1]
	m.stack = m.stack[:fr.base]
	m.frames = m.frames[:len(m.frames)-1]

	if len(m.frames) == 0 {
		m.result = v
		m.halted = true
		return nil
	}
	if m.onReturn != nil {
		m.onReturn()
	}
	caller := m.frames[len(m.frames)-1]
	caller.ip += OpCall.Width()
	m.push(v)
	return nil
}

// Halted reports whether the program has finished.
func (m *VM) Halted() bool { return m.halted }

// Err returns the runtime error that halted the program, if any.
func (m *VM) Err() error { return m.err }

// Result is the value the program halted with.
func (m *VM) Result() Value { return m.result }

// Output returns everything printed so far.
func (m *VM) Output() string { return m.out.String() }

// Program returns the program being executed.
func (m *VM) Program() *Program { return m.prog }

// CallDepth is the number of active frames above the entry frame.
func (m *VM) CallDepth() int {
	if len(m.frames) == 0 {
		return 0
	}
	return len(m.frames) - 1
}

// Location returns the location of the innermost frame.
func (m *VM) Location() (types.SourceLocation, bool) {
	if len(m.frames) == 0 {
		return types.SourceLocation{}, false
	}
	fr := m.frames[len(m.frames)-1]
	return types.SourceLocation{Filename: fr.fn.Filename, Line: fr.Line()}, true
}

// Frames returns the call stack innermost first, with locals.
func (m *VM) Frames() []types.StackFrame {
	out := make([]types.StackFrame, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		fr := m.frames[i]
		sf := types.StackFrame{
			Level:    len(out),
			Function: fr.fn.Name,
			Filename: fr.fn.Filename,
			Line:     fr.Line(),
		}
		for slot, name := range fr.fn.Locals {
			v := fr.locals[slot]
			sf.Locals = append(sf.Locals, types.Variable{Name: name, Type: v.TypeName(), Value: v.String()})
		}
		out = append(out, sf)
	}
	return out
}

// Source returns the text of a source file bundled with the program.
func (m *VM) Source(filename string) (string, bool) {
	src, ok := m.prog.Sources[filename]
	return src, ok
}

// Clone returns an independent copy of the interpreter state with no hooks
// attached.
func (m *VM) Clone() *VM {
	c := &VM{
		prog:   m.prog,
		stack:  append([]Value(nil), m.stack...),
		frames: make([]*Frame, len(m.frames)),
		resume: m.resume,
		halted: m.halted,
		err:    m.err,
		result: m.result,
		steps:  m.steps,
	}
	for i, fr := range m.frames {
		c.frames[i] = &Frame{
			fn:     fr.fn,
			ip:     fr.ip,
			locals: append([]Value(nil), fr.locals...),
			base:   fr.base,
		}
	}
	c.out.Write(m.out.Bytes())
	return c
}
