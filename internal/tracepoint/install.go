package tracepoint

import (
	"errors"
	"fmt"

	"github.com/ctagard/dontbug/pkg/types"
)

// Granularity selects the dispatch policy.
type Granularity string

const (
	GranularityInstruction Granularity = "instruction"
	GranularityStatement   Granularity = "statement"
)

// ParseGranularity validates a configured granularity. The empty string
// selects GranularityInstruction.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "", GranularityInstruction:
		return GranularityInstruction, nil
	case GranularityStatement:
		return GranularityStatement, nil
	default:
		return "", fmt.Errorf("unknown dispatch granularity %q (want %q or %q)", s, GranularityInstruction, GranularityStatement)
	}
}

// Host is the registration surface of the interpreter being traced.
type Host interface {
	SetOpcodeHandler(op uint8, h types.OpcodeHandler)
	SetStatementHandler(h types.StatementHandler)
	SetCallObserver(onCall, onReturn func())
}

// Options configures Install.
type Options struct {
	Granularity    Granularity
	Matcher        Matcher
	Level          LevelMatcher
	Depth          *DepthTracker
	MaxLocationLen int
}

// Installation is one policy attached to a host.
type Installation struct {
	host        Host
	granularity Granularity

	Depth       *DepthTracker
	Interceptor *Interceptor
	Statement   *StatementHook
}

// Install attaches exactly one dispatch policy to host, plus the call
// observer that drives the depth tracker.
func Install(host Host, opts Options) (*Installation, error) {
	if opts.Matcher == nil {
		return nil, errors.New("tracepoint: a matcher is required")
	}
	g, err := ParseGranularity(string(opts.Granularity))
	if err != nil {
		return nil, err
	}
	depth := opts.Depth
	if depth == nil {
		depth = &DepthTracker{}
	}

	in := &Installation{host: host, granularity: g, Depth: depth}
	switch g {
	case GranularityInstruction:
		in.Interceptor = NewInterceptor(opts.Matcher, opts.Level, depth, opts.MaxLocationLen)
		for op := 0; op < 256; op++ {
			host.SetOpcodeHandler(uint8(op), in.Interceptor.Dispatch)
		}
	case GranularityStatement:
		in.Statement = NewStatementHook(opts.Matcher, opts.Level, depth)
		host.SetStatementHandler(in.Statement.Dispatch)
	}
	host.SetCallObserver(depth.Enter, depth.Return)
	return in, nil
}

// Granularity is the installed policy.
func (in *Installation) Granularity() Granularity {
	return in.granularity
}

// Uninstall restores the host's default dispatch path.
func (in *Installation) Uninstall() {
	switch in.granularity {
	case GranularityInstruction:
		for op := 0; op < 256; op++ {
			in.host.SetOpcodeHandler(uint8(op), nil)
		}
	case GranularityStatement:
		in.host.SetStatementHandler(nil)
	}
	in.host.SetCallObserver(nil, nil)
}
