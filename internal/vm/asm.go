package vm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// AsmError reports a problem in an assembler listing.
type AsmError struct {
	Name string
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Name, e.Line, e.Msg)
}

type labelFixup struct {
	pos    int
	label  string
	lineno int
}

type callFixup struct {
	fn     *Function
	pos    int
	callee string
	lineno int
}

type assembler struct {
	name   string
	prog   *Program
	file   string
	entry  string
	lineno int

	fn     *Function
	line   int
	labels map[string]int
	jumps  []labelFixup
	calls  []callFixup
}

// LoadFile assembles the listing at path.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Assemble(filepath.Base(path), string(data))
}

// Assemble builds a Program from a textual listing.
//
// Directives:
//
//	.engine <constraint>   semver constraint on the engine version
//	.file <name>|-         source file for following functions, - for none
//	.source <name>         raw source text up to .endsource
//	.entry <func>          entry function, main by default
//	func <name> [nparams]  begins a function, closed by end
//
// Inside a function: locals, line N, label:, and one instruction per line.
// Comments start with ';'.
func Assemble(name, text string) (*Program, error) {
	a := &assembler{
		name:  name,
		prog:  &Program{Name: name, Sources: map[string]string{}},
		entry: "main",
	}
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		a.lineno = i + 1
		fields, err := splitFields(lines[i])
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		if len(fields) == 0 {
			continue
		}

		if fields[0] == ".source" {
			if len(fields) != 2 {
				return nil, a.errorf(".source takes one file name")
			}
			var body strings.Builder
			closed := false
			for i++; i < len(lines); i++ {
				if strings.TrimSpace(lines[i]) == ".endsource" {
					closed = true
					break
				}
				body.WriteString(lines[i])
				body.WriteByte('\n')
			}
			if !closed {
				return nil, a.errorf("unterminated .source %s", fields[1])
			}
			a.prog.Sources[fields[1]] = body.String()
			continue
		}

		if err := a.statement(fields); err != nil {
			return nil, err
		}
	}

	if a.fn != nil {
		return nil, a.errorf("function %s is missing end", a.fn.Name)
	}
	if err := a.link(); err != nil {
		return nil, err
	}
	return a.prog, nil
}

func (a *assembler) errorf(format string, args ...any) error {
	return &AsmError{Name: a.name, Line: a.lineno, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) statement(f []string) error {
	if a.fn == nil {
		return a.directive(f)
	}

	switch {
	case f[0] == "end":
		return a.endFunction()
	case f[0] == "locals":
		a.fn.Locals = append(a.fn.Locals, f[1:]...)
		return nil
	case f[0] == "line":
		if len(f) != 2 {
			return a.errorf("line takes one number")
		}
		n, err := strconv.Atoi(f[1])
		if err != nil || n < 0 {
			return a.errorf("bad line number %q", f[1])
		}
		a.line = n
		return nil
	case len(f) == 1 && strings.HasSuffix(f[0], ":"):
		label := strings.TrimSuffix(f[0], ":")
		if _, dup := a.labels[label]; dup {
			return a.errorf("duplicate label %s", label)
		}
		a.labels[label] = len(a.fn.Code)
		return nil
	}
	return a.instruction(f)
}

func (a *assembler) directive(f []string) error {
	switch f[0] {
	case ".engine":
		a.prog.Engine = strings.Join(f[1:], " ")
	case ".file":
		if len(f) != 2 {
			return a.errorf(".file takes one file name")
		}
		a.file = f[1]
		if a.file == "-" {
			a.file = ""
		}
	case ".entry":
		if len(f) != 2 {
			return a.errorf(".entry takes one function name")
		}
		a.entry = f[1]
	case "func":
		if len(f) < 2 || len(f) > 3 {
			return a.errorf("usage: func <name> [nparams]")
		}
		if _, _, dup := a.prog.Lookup(f[1]); dup {
			return a.errorf("duplicate function %s", f[1])
		}
		params := 0
		if len(f) == 3 {
			n, err := strconv.Atoi(f[2])
			if err != nil || n < 0 {
				return a.errorf("bad parameter count %q", f[2])
			}
			params = n
		}
		a.fn = &Function{Name: f[1], Filename: a.file, Params: params}
		a.line = 0
		a.labels = map[string]int{}
		a.jumps = nil
	default:
		return a.errorf("unknown directive %s", f[0])
	}
	return nil
}

func (a *assembler) endFunction() error {
	fn := a.fn
	if len(fn.Locals) < fn.Params {
		return a.errorf("%s declares %d params but only %d locals", fn.Name, fn.Params, len(fn.Locals))
	}
	for _, j := range a.jumps {
		target, ok := a.labels[j.label]
		if !ok {
			a.lineno = j.lineno
			return a.errorf("undefined label %s", j.label)
		}
		off, err := safecast.Conv[uint16](target)
		if err != nil {
			return a.errorf("jump target %d: %v", target, err)
		}
		binary.BigEndian.PutUint16(fn.Code[j.pos:], off)
	}
	a.prog.Functions = append(a.prog.Functions, fn)
	a.fn = nil
	return nil
}

func (a *assembler) emit(bs ...byte) {
	for _, b := range bs {
		a.fn.Code = append(a.fn.Code, b)
		a.fn.Lines = append(a.fn.Lines, a.line)
	}
}

func (a *assembler) instruction(f []string) error {
	op, ok := LookupOpcode(f[0])
	if !ok {
		return a.errorf("unknown instruction %s", f[0])
	}

	want := map[Opcode]int{OpConst: 1, OpLoad: 1, OpStore: 1, OpJmp: 1, OpJz: 1, OpCall: 2}[op]
	if len(f)-1 != want {
		return a.errorf("%s takes %d operand(s)", op, want)
	}

	switch op {
	case OpConst:
		v, err := parseLiteral(f[1])
		if err != nil {
			return a.errorf("%v", err)
		}
		a.fn.Constants = append(a.fn.Constants, v)
		idx, err := safecast.Conv[uint16](len(a.fn.Constants) - 1)
		if err != nil {
			return a.errorf("too many constants in %s: %v", a.fn.Name, err)
		}
		a.emit(byte(op), byte(idx>>8), byte(idx))

	case OpLoad, OpStore:
		slot := -1
		for i, name := range a.fn.Locals {
			if name == f[1] {
				slot = i
				break
			}
		}
		if slot < 0 {
			return a.errorf("undeclared local %s", f[1])
		}
		s, err := safecast.Conv[uint8](slot)
		if err != nil {
			return a.errorf("local %s: %v", f[1], err)
		}
		a.emit(byte(op), s)

	case OpJmp, OpJz:
		a.jumps = append(a.jumps, labelFixup{pos: len(a.fn.Code) + 1, label: f[1], lineno: a.lineno})
		a.emit(byte(op), 0, 0)

	case OpCall:
		n, err := strconv.Atoi(f[2])
		if err != nil {
			return a.errorf("bad argument count %q", f[2])
		}
		argc, err := safecast.Conv[uint8](n)
		if err != nil {
			return a.errorf("argument count %d: %v", n, err)
		}
		a.calls = append(a.calls, callFixup{fn: a.fn, pos: len(a.fn.Code) + 1, callee: f[1], lineno: a.lineno})
		a.emit(byte(op), 0, 0, argc)

	default:
		a.emit(byte(op))
	}
	return nil
}

func (a *assembler) link() error {
	for _, c := range a.calls {
		idx, _, ok := a.prog.Lookup(c.callee)
		if !ok {
			a.lineno = c.lineno
			return a.errorf("call to undefined function %s", c.callee)
		}
		off, err := safecast.Conv[uint16](idx)
		if err != nil {
			return a.errorf("function index %d: %v", idx, err)
		}
		binary.BigEndian.PutUint16(c.fn.Code[c.pos:], off)
	}

	entry, _, ok := a.prog.Lookup(a.entry)
	if !ok {
		a.lineno = 0
		return a.errorf("entry function %s not defined", a.entry)
	}
	a.prog.Entry = entry
	return nil
}

func parseLiteral(s string) (Value, error) {
	switch s {
	case "null":
		return Null(), nil
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	if strings.HasPrefix(s, `"`) {
		str, err := strconv.Unquote(s)
		if err != nil {
			return Value{}, fmt.Errorf("bad string literal %s", s)
		}
		return String(str), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("bad literal %s", s)
	}
	return Int(n), nil
}

// splitFields splits a listing line on whitespace, keeping double-quoted
// strings whole and dropping everything after an unquoted ';'.
func splitFields(line string) ([]string, error) {
	var fields []string
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == ';':
			return fields, nil
		case c == '"':
			j := i + 1
			for ; j < len(line); j++ {
				if line[j] == '\\' {
					j++
					continue
				}
				if line[j] == '"' {
					break
				}
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			fields = append(fields, line[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != '\r' && line[j] != ';' {
				j++
			}
			fields = append(fields, line[i:j])
			i = j
		}
	}
	return fields, nil
}
