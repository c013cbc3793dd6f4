package dbgp

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/ctagard/dontbug/pkg/types"
)

func frameAt(sc *Context, cmd Command) (types.StackFrame, error) {
	depth, err := intOption(cmd, "d", 0)
	if err != nil {
		return types.StackFrame{}, err
	}
	frames := sc.Target.Frames()
	if depth < 0 || depth >= len(frames) {
		return types.StackFrame{}, errorf(CodeInvalidDepth, "invalid stack depth %d", depth)
	}
	return frames[depth], nil
}

func handleStackDepth(sc *Context, _ Command, out *Node) error {
	out.SetAttr("depth", strconv.Itoa(len(sc.Target.Frames())))
	return nil
}

func handleStackGet(sc *Context, cmd Command, out *Node) error {
	frames := sc.Target.Frames()
	if _, ok := cmd.Option("d"); ok {
		f, err := frameAt(sc, cmd)
		if err != nil {
			return err
		}
		frames = []types.StackFrame{f}
	}
	for _, f := range frames {
		out.AddChild(stackNode(f))
	}
	return nil
}

func stackNode(f types.StackFrame) *Node {
	kind := "file"
	if f.Filename == "" {
		kind = "eval"
	}
	return NewNode("stack").
		SetAttr("where", f.Function).
		SetAttr("level", strconv.Itoa(f.Level)).
		SetAttr("type", kind).
		SetAttr("filename", FileURI(f.Filename)).
		SetAttr("lineno", strconv.Itoa(f.Line))
}

func handleContextNames(_ *Context, _ Command, out *Node) error {
	out.AddChild(NewNode("context").SetAttr("name", "Locals").SetAttr("id", "0"))
	return nil
}

func handleContextGet(sc *Context, cmd Command, out *Node) error {
	id, err := intOption(cmd, "c", 0)
	if err != nil {
		return err
	}
	if id != 0 {
		return errorf(CodeInvalidContext, "invalid context %d", id)
	}
	f, err := frameAt(sc, cmd)
	if err != nil {
		return err
	}
	out.SetAttr("context", "0")

	locals := f.Locals
	if limit := sc.Features.Int("max_children"); limit > 0 && len(locals) > limit {
		locals = locals[:limit]
	}
	maxData := sc.Features.Int("max_data")
	for _, v := range locals {
		out.AddChild(propertyNode(v.Name, v, maxData))
	}
	return nil
}

func lookupLocal(f types.StackFrame, name string) (types.Variable, bool) {
	name = strings.TrimPrefix(name, "$")
	for _, v := range f.Locals {
		if v.Name == name {
			return v, true
		}
	}
	return types.Variable{}, false
}

func propertyFor(sc *Context, cmd Command) (string, types.Variable, error) {
	name, err := requireOption(cmd, "n")
	if err != nil {
		return "", types.Variable{}, err
	}
	f, err := frameAt(sc, cmd)
	if err != nil {
		return "", types.Variable{}, err
	}
	v, ok := lookupLocal(f, name)
	if !ok {
		return "", types.Variable{}, errorf(CodeNoSuchProperty, "no such property %s", name)
	}
	return name, v, nil
}

func handlePropertyGet(sc *Context, cmd Command, out *Node) error {
	name, v, err := propertyFor(sc, cmd)
	if err != nil {
		return err
	}
	out.AddChild(propertyNode(name, v, sc.Features.Int("max_data")))
	return nil
}

func handlePropertyValue(sc *Context, cmd Command, out *Node) error {
	_, v, err := propertyFor(sc, cmd)
	if err != nil {
		return err
	}
	writeValue(out, v, sc.Features.Int("max_data"))
	return nil
}

func propertyNode(name string, v types.Variable, maxData int) *Node {
	p := NewNode("property").
		SetAttr("name", name).
		SetAttr("fullname", name).
		SetAttr("type", v.Type).
		SetAttr("constant", "0").
		SetAttr("children", "0")
	writeValue(p, v, maxData)
	return p
}

// writeValue attaches a value to a property or property_value node.
// Strings are base64-encoded and truncated to maxData bytes.
func writeValue(n *Node, v types.Variable, maxData int) {
	switch v.Type {
	case "null":
	case "string":
		s := v.Value
		if maxData > 0 && len(s) > maxData {
			s = s[:maxData]
		}
		n.SetAttr("size", strconv.Itoa(len(v.Value)))
		n.SetAttr("encoding", "base64")
		n.SetCDATA(base64.StdEncoding.EncodeToString([]byte(s)))
	default:
		n.SetCDATA(v.Value)
	}
}

func handleEval(sc *Context, cmd Command, out *Node) error {
	if cmd.Data == "" {
		return errorf(CodeInvalidOptions, "eval requires an expression")
	}
	raw, err := base64.StdEncoding.DecodeString(cmd.Data)
	if err != nil {
		return errorf(CodeInvalidOptions, "expression is not valid base64")
	}
	f, err := frameAt(sc, cmd)
	if err != nil {
		return err
	}
	v, err := Evaluate(string(raw), f.Locals)
	if err != nil {
		return &Error{Code: CodeEvalFailed, Message: err.Error()}
	}
	out.SetAttr("success", "1")
	out.AddChild(propertyNode(string(raw), v, sc.Features.Int("max_data")))
	return nil
}

func handleTypemapGet(_ *Context, _ Command, out *Node) error {
	out.SetAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	out.SetAttr("xmlns:xsd", "http://www.w3.org/2001/XMLSchema")
	for _, m := range []struct{ name, typ, schema string }{
		{"bool", "bool", "xsd:boolean"},
		{"int", "int", "xsd:long"},
		{"string", "string", "xsd:string"},
		{"null", "null", ""},
	} {
		n := out.AddChild(NewNode("map").SetAttr("name", m.name).SetAttr("type", m.typ))
		if m.schema != "" {
			n.SetAttr("xsi:type", m.schema)
		}
	}
	return nil
}

func handleSource(sc *Context, cmd Command, out *Node) error {
	filename := ""
	if f, ok := cmd.Option("f"); ok {
		filename = StripFileURI(f)
	} else if frames := sc.Target.Frames(); len(frames) > 0 {
		filename = frames[0].Filename
	}
	text, ok := sc.Target.Source(filename)
	if !ok {
		return errorf(CodeCannotOpenFile, "can not open file %s", filename)
	}

	begin, err := intOption(cmd, "b", 1)
	if err != nil {
		return err
	}
	end, err := intOption(cmd, "e", 0)
	if err != nil {
		return err
	}
	lines := strings.SplitAfter(text, "\n")
	if begin < 1 {
		begin = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if begin > end {
		return errorf(CodeInvalidOptions, "invalid source range %d-%d", begin, end)
	}

	out.SetAttr("success", "1")
	out.SetAttr("encoding", "base64")
	out.SetCDATA(base64.StdEncoding.EncodeToString([]byte(strings.Join(lines[begin-1:end], ""))))
	return nil
}
