package dbgp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command is a parsed DBGp command line:
//
//	name -i txn [-x value ...] [-- base64data]
type Command struct {
	Name          string
	TransactionID int
	Options       map[string]string
	Data          string
}

// ErrMissingTransactionID is returned for commands without a usable -i.
var ErrMissingTransactionID = errors.New("dbgp: missing or invalid transaction id")

// Option returns an option value.
func (c Command) Option(name string) (string, bool) {
	v, ok := c.Options[name]
	return v, ok
}

// ParseCommand parses a command line. Option values may be double-quoted
// with backslash escapes.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\x00")
	head, data, hasData := strings.Cut(line, " -- ")
	if !hasData && strings.HasSuffix(head, " --") {
		head = strings.TrimSuffix(head, " --")
	}

	tokens, err := tokenize(head)
	if err != nil {
		return Command{}, err
	}
	if len(tokens) == 0 {
		return Command{}, errors.New("dbgp: empty command")
	}

	cmd := Command{Name: tokens[0], Options: map[string]string{}, Data: strings.TrimSpace(data)}
	rest := tokens[1:]
	for i := 0; i < len(rest); i += 2 {
		flag := rest[i]
		if len(flag) < 2 || flag[0] != '-' {
			return Command{}, fmt.Errorf("dbgp: expected option, got %q", flag)
		}
		if i+1 >= len(rest) {
			return Command{}, fmt.Errorf("dbgp: option %s has no value", flag)
		}
		cmd.Options[flag[1:]] = rest[i+1]
	}

	txn, ok := cmd.Options["i"]
	if !ok {
		return Command{}, ErrMissingTransactionID
	}
	cmd.TransactionID, err = strconv.Atoi(txn)
	if err != nil || cmd.TransactionID < 0 {
		return Command{}, ErrMissingTransactionID
	}
	return cmd, nil
}

func tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken, quoted := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted && c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case quoted && c == '"':
			quoted = false
		case quoted:
			cur.WriteByte(c)
		case c == '"':
			quoted, inToken = true, true
		case c == ' ' || c == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if quoted {
		return nil, errors.New("dbgp: unterminated quoted value")
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
