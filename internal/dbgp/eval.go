package dbgp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ctagard/dontbug/pkg/types"
)

// Evaluate computes a side-effect free expression over a frame's locals.
//
// The grammar is small:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { "*" unary }
//	unary  = "-" unary | atom
//	atom   = int | string | ident | "(" expr ")"
//
// Identifiers may carry a leading "$". "+" concatenates when either side
// is a string.
func Evaluate(expr string, locals []types.Variable) (types.Variable, error) {
	toks, err := lex(expr)
	if err != nil {
		return types.Variable{}, err
	}
	p := &evalParser{toks: toks, locals: locals}
	v, err := p.expr()
	if err != nil {
		return types.Variable{}, err
	}
	if p.pos != len(p.toks) {
		return types.Variable{}, fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	v.Name = expr
	return v, nil
}

type tokKind int

const (
	tokInt tokKind = iota
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.IndexByte("+-*()", c) >= 0:
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			toks = append(toks, token{tokInt, s[i:j]})
			i = j
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, errors.New("unterminated string")
			}
			lit, err := strconv.Unquote(s[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("bad string literal: %w", err)
			}
			toks = append(toks, token{tokString, lit})
			i = j + 1
		case c == '$' || c == '_' || unicode.IsLetter(rune(c)):
			j := i + 1
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			toks = append(toks, token{tokIdent, strings.TrimPrefix(s[i:j], "$")})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

type evalParser struct {
	toks   []token
	pos    int
	locals []types.Variable
}

func (p *evalParser) peekOp(ops string) (string, bool) {
	if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokOp || !strings.Contains(ops, p.toks[p.pos].text) {
		return "", false
	}
	return p.toks[p.pos].text, true
}

func (p *evalParser) expr() (types.Variable, error) {
	left, err := p.term()
	if err != nil {
		return left, err
	}
	for {
		op, ok := p.peekOp("+-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return right, err
		}
		if left, err = binary(op, left, right); err != nil {
			return left, err
		}
	}
}

func (p *evalParser) term() (types.Variable, error) {
	left, err := p.unary()
	if err != nil {
		return left, err
	}
	for {
		if _, ok := p.peekOp("*"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return right, err
		}
		if left, err = binary("*", left, right); err != nil {
			return left, err
		}
	}
}

func (p *evalParser) unary() (types.Variable, error) {
	if _, ok := p.peekOp("-"); ok {
		p.pos++
		v, err := p.unary()
		if err != nil {
			return v, err
		}
		return binary("-", intVar(0), v)
	}
	return p.atom()
}

func (p *evalParser) atom() (types.Variable, error) {
	if p.pos >= len(p.toks) {
		return types.Variable{}, errors.New("unexpected end of expression")
	}
	t := p.toks[p.pos]
	p.pos++
	switch t.kind {
	case tokInt:
		if _, err := strconv.ParseInt(t.text, 10, 64); err != nil {
			return types.Variable{}, fmt.Errorf("integer %s out of range", t.text)
		}
		return types.Variable{Type: "int", Value: t.text}, nil
	case tokString:
		return types.Variable{Type: "string", Value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true", "false":
			return types.Variable{Type: "bool", Value: t.text}, nil
		case "null":
			return types.Variable{Type: "null", Value: "null"}, nil
		}
		for _, v := range p.locals {
			if v.Name == t.text {
				return v, nil
			}
		}
		return types.Variable{}, fmt.Errorf("undefined variable %s", t.text)
	}
	if t.text != "(" {
		return types.Variable{}, fmt.Errorf("unexpected %q", t.text)
	}
	v, err := p.expr()
	if err != nil {
		return v, err
	}
	if _, ok := p.peekOp(")"); !ok {
		return types.Variable{}, errors.New("missing )")
	}
	p.pos++
	return v, nil
}

func intVar(n int64) types.Variable {
	return types.Variable{Type: "int", Value: strconv.FormatInt(n, 10)}
}

func binary(op string, a, b types.Variable) (types.Variable, error) {
	if op == "+" && (a.Type == "string" || b.Type == "string") {
		return types.Variable{Type: "string", Value: a.Value + b.Value}, nil
	}
	if a.Type != "int" || b.Type != "int" {
		return types.Variable{}, fmt.Errorf("operator %s needs int operands, got %s and %s", op, a.Type, b.Type)
	}
	x, _ := strconv.ParseInt(a.Value, 10, 64)
	y, _ := strconv.ParseInt(b.Value, 10, 64)
	switch op {
	case "+":
		return intVar(x + y), nil
	case "-":
		return intVar(x - y), nil
	default:
		return intVar(x * y), nil
	}
}
