package vm

import "strconv"

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindBool
	KindString
)

// Value is an interpreter value.
type Value struct {
	kind Kind
	i    int64
	s    string
}

func Null() Value           { return Value{} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func String(s string) Value { return Value{kind: KindString, s: s} }

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

func (v Value) Kind() Kind { return v.kind }

// AsInt returns the integer payload and whether the value is an int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// TypeName is the DBGp type name of the value.
func (v Value) TypeName() string {
	switch v.kind {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindString:
		return v.s
	default:
		return "null"
	}
}

// Truthy reports whether the value counts as true for jz.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt, KindBool:
		return v.i != 0
	case KindString:
		return v.s != ""
	default:
		return false
	}
}

func (v Value) equal(o Value) bool {
	return v.kind == o.kind && v.i == o.i && v.s == o.s
}
