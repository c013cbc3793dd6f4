// Package tracepoint turns the host interpreter's dispatch stream into
// source-location transitions for a breakpoint matcher.
//
// Two dispatch policies are available and exactly one is installed per
// session:
//
//   - GranularityInstruction registers an Interceptor on all 256 opcodes.
//     Runs of instructions on the same file and line are coalesced by a
//     single-slot LocationCache, so the matcher sees one report per line
//     touched.
//   - GranularityStatement registers a StatementHook on statement
//     boundaries and reports every statement without caching.
//
// Both report the same (filename, line, depth) triple. The depth comes
// from a DepthTracker fed by the host's call observer.
package tracepoint

import "github.com/ctagard/dontbug/pkg/types"

// Matcher decides whether execution should pause at a location.
type Matcher interface {
	MatchLocation(filename string, ec types.ExecContext, line, depth int) types.Directive
}

// LevelMatcher decides whether execution should pause at a call depth.
type LevelMatcher interface {
	MatchLevel(filename string, line, depth int) types.Directive
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(filename string, ec types.ExecContext, line, depth int) types.Directive

func (f MatcherFunc) MatchLocation(filename string, ec types.ExecContext, line, depth int) types.Directive {
	return f(filename, ec, line, depth)
}

func resolveFilename(ec types.ExecContext) string {
	if name, ok := ec.Filename(); ok {
		return name
	}
	return SentinelFilename
}

// Interceptor is the per-instruction dispatch handler. It owns its
// location cache; nothing else writes to it.
type Interceptor struct {
	cache   *LocationCache
	matcher Matcher
	level   LevelMatcher
	depth   *DepthTracker

	transitions uint64
}

// NewInterceptor builds an interceptor reporting to matcher. level and
// depth may be nil.
func NewInterceptor(matcher Matcher, level LevelMatcher, depth *DepthTracker, maxLocationLen int) *Interceptor {
	return &Interceptor{
		cache:   NewLocationCache(maxLocationLen),
		matcher: matcher,
		level:   level,
		depth:   depth,
	}
}

// Dispatch handles one instruction. Unless the location changed since the
// previous instruction it returns types.Dispatch without further work.
func (i *Interceptor) Dispatch(ec types.ExecContext) types.Directive {
	filename := resolveFilename(ec)
	line := ec.Line()
	if !i.cache.Observe(filename, line) {
		return types.Dispatch
	}

	i.transitions++
	depth := i.depth.Depth()
	d := i.matcher.MatchLocation(filename, ec, line, depth)
	if i.level != nil && i.level.MatchLevel(filename, line, depth) == types.Pause {
		d = types.Pause
	}
	return d
}

// Transitions is the number of location changes reported so far.
func (i *Interceptor) Transitions() uint64 {
	return i.transitions
}

// Cache exposes the interceptor's location cache.
func (i *Interceptor) Cache() *LocationCache {
	return i.cache
}

// StatementHook is the per-statement dispatch handler. Statements are
// coarse enough that every one is reported.
type StatementHook struct {
	matcher Matcher
	level   LevelMatcher
	depth   *DepthTracker

	reports uint64
}

// NewStatementHook builds a statement hook. level and depth may be nil.
func NewStatementHook(matcher Matcher, level LevelMatcher, depth *DepthTracker) *StatementHook {
	return &StatementHook{matcher: matcher, level: level, depth: depth}
}

// Dispatch reports the statement to both matchers unconditionally.
func (s *StatementHook) Dispatch(ec types.ExecContext) types.Directive {
	filename := resolveFilename(ec)
	line := ec.Line()
	depth := s.depth.Depth()

	s.reports++
	d := s.matcher.MatchLocation(filename, ec, line, depth)
	if s.level != nil && s.level.MatchLevel(filename, line, depth) == types.Pause {
		d = types.Pause
	}
	return d
}

// Reports is the number of statements reported so far.
func (s *StatementHook) Reports() uint64 {
	return s.reports
}
