// Package breakpoint implements the location and level matchers consulted
// by the tracepoint layer.
//
// A Registry holds line breakpoints and the current step target. Location
// matching handles breakpoints and step-into; level matching handles
// step-over and step-out as comparisons against the reported call depth,
// so neither needs to walk the interpreter stack.
//
// A Registry is used from the interpreter goroutine only and is not safe
// for concurrent use; callers serialize access.
package breakpoint

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/ctagard/dontbug/pkg/types"
)

// Type is a DBGp breakpoint type.
type Type string

const (
	TypeLine        Type = "line"
	TypeCall        Type = "call"
	TypeReturn      Type = "return"
	TypeException   Type = "exception"
	TypeConditional Type = "conditional"
	TypeWatch       Type = "watch"
)

// State is the enablement of a breakpoint.
type State string

const (
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)

// ErrorCode is the DBGp error code reported for a failed breakpoint
// operation.
type ErrorCode int

const (
	CodeCouldNotSet      ErrorCode = 200
	CodeTypeNotSupported ErrorCode = 201
	CodeNoSuchBreakpoint ErrorCode = 205
)

// Error is a breakpoint operation failure.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("breakpoint error %d: %s", e.Code, e.Message)
}

// ParseType validates a breakpoint type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeLine, TypeCall, TypeReturn, TypeException, TypeConditional, TypeWatch:
		return t, nil
	default:
		return "", &Error{Code: CodeTypeNotSupported, Message: fmt.Sprintf("unknown breakpoint type %q", s)}
	}
}

// ParseState validates a breakpoint state name.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateEnabled, StateDisabled:
		return st, nil
	default:
		return "", &Error{Code: CodeCouldNotSet, Message: fmt.Sprintf("unknown breakpoint state %q", s)}
	}
}

// Breakpoint is a registered breakpoint.
type Breakpoint struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Filename  string `json:"filename"`
	Line      int    `json:"line"`
	State     State  `json:"state"`
	Temporary bool   `json:"temporary"`
	HitCount  int    `json:"hitCount"`
}

// HitKind is the reason a matcher paused.
type HitKind string

const (
	HitBreakpoint HitKind = "breakpoint"
	HitStep       HitKind = "step"
)

// Hit records the most recent pause decision.
type Hit struct {
	Kind         HitKind
	BreakpointID string
	Location     types.SourceLocation
	Depth        int
}

// Registry is the breakpoint table plus the armed step target.
type Registry struct {
	log    logr.Logger
	nextID int
	points map[string]*Breakpoint

	stepInto   bool
	levelArmed bool
	levelLimit int

	last *Hit
}

// NewRegistry returns an empty registry.
func NewRegistry(log logr.Logger) *Registry {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Registry{
		log:    log,
		nextID: 1,
		points: make(map[string]*Breakpoint),
	}
}

// Add registers a breakpoint. Only line breakpoints are supported.
func (r *Registry) Add(t Type, filename string, line int, state State, temporary bool) (Breakpoint, error) {
	if t != TypeLine {
		return Breakpoint{}, &Error{Code: CodeTypeNotSupported, Message: fmt.Sprintf("breakpoint type %q is not supported", t)}
	}
	if filename == "" || line <= 0 {
		return Breakpoint{}, &Error{Code: CodeCouldNotSet, Message: fmt.Sprintf("invalid location %s:%d", filename, line)}
	}
	if state == "" {
		state = StateEnabled
	}

	bp := &Breakpoint{
		ID:        strconv.Itoa(r.nextID),
		Type:      t,
		Filename:  filename,
		Line:      line,
		State:     state,
		Temporary: temporary,
	}
	r.nextID++
	r.points[bp.ID] = bp
	r.log.V(1).Info("Breakpoint set", "id", bp.ID, "location", fmt.Sprintf("%s:%d", filename, line), "state", state, "temporary", temporary)
	return *bp, nil
}

// AddLine registers an enabled line breakpoint.
func (r *Registry) AddLine(filename string, line int) (Breakpoint, error) {
	return r.Add(TypeLine, filename, line, StateEnabled, false)
}

// Remove deletes a breakpoint.
func (r *Registry) Remove(id string) error {
	if _, ok := r.points[id]; !ok {
		return &Error{Code: CodeNoSuchBreakpoint, Message: fmt.Sprintf("no breakpoint with id %s", id)}
	}
	delete(r.points, id)
	return nil
}

// Update changes the state of a breakpoint.
func (r *Registry) Update(id string, state State) error {
	bp, ok := r.points[id]
	if !ok {
		return &Error{Code: CodeNoSuchBreakpoint, Message: fmt.Sprintf("no breakpoint with id %s", id)}
	}
	bp.State = state
	return nil
}

// Get returns a copy of a breakpoint.
func (r *Registry) Get(id string) (Breakpoint, bool) {
	bp, ok := r.points[id]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// List returns all breakpoints ordered by id.
func (r *Registry) List() []Breakpoint {
	out := make([]Breakpoint, 0, len(r.points))
	for _, bp := range r.points {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		log:        r.log,
		nextID:     r.nextID,
		points:     make(map[string]*Breakpoint, len(r.points)),
		stepInto:   r.stepInto,
		levelArmed: r.levelArmed,
		levelLimit: r.levelLimit,
	}
	for id, bp := range r.points {
		cp := *bp
		c.points[id] = &cp
	}
	if r.last != nil {
		hit := *r.last
		c.last = &hit
	}
	return c
}

// StepInto pauses at the next reported location.
func (r *Registry) StepInto() {
	r.ClearStep()
	r.stepInto = true
}

// StepOver pauses at the next location at depth or shallower.
func (r *Registry) StepOver(depth int) {
	r.ClearStep()
	r.levelArmed = true
	r.levelLimit = depth
}

// StepOut pauses at the next location shallower than depth. At depth zero
// it behaves like StepOver.
func (r *Registry) StepOut(depth int) {
	limit := depth
	if depth > 0 {
		limit = depth - 1
	}
	r.ClearStep()
	r.levelArmed = true
	r.levelLimit = limit
}

// ClearStep disarms any step target.
func (r *Registry) ClearStep() {
	r.stepInto = false
	r.levelArmed = false
}

// Stepping reports whether a step target is armed.
func (r *Registry) Stepping() bool {
	return r.stepInto || r.levelArmed
}

// LastHit returns the most recent pause decision.
func (r *Registry) LastHit() (Hit, bool) {
	if r.last == nil {
		return Hit{}, false
	}
	return *r.last, true
}

// MatchLocation pauses on an enabled breakpoint at the location or an
// armed step-into. A hit clears the step target and consumes temporary
// breakpoints.
func (r *Registry) MatchLocation(filename string, _ types.ExecContext, line, depth int) types.Directive {
	loc := types.SourceLocation{Filename: filename, Line: line}
	var hit *Hit

	for _, bp := range r.points {
		if bp.State != StateEnabled || bp.Line != line || bp.Filename != filename {
			continue
		}
		bp.HitCount++
		if hit == nil || lessID(bp.ID, hit.BreakpointID) {
			hit = &Hit{Kind: HitBreakpoint, BreakpointID: bp.ID, Location: loc, Depth: depth}
		}
		if bp.Temporary {
			delete(r.points, bp.ID)
		}
	}

	if hit == nil && r.stepInto {
		hit = &Hit{Kind: HitStep, Location: loc, Depth: depth}
	}
	if hit == nil {
		return types.Dispatch
	}

	r.ClearStep()
	r.last = hit
	r.log.V(2).Info("Pause at location", "kind", hit.Kind, "id", hit.BreakpointID, "location", loc.String(), "depth", depth)
	return types.Pause
}

// MatchLevel pauses once the depth reaches an armed step-over or step-out
// limit.
func (r *Registry) MatchLevel(filename string, line, depth int) types.Directive {
	if !r.levelArmed || depth > r.levelLimit {
		return types.Dispatch
	}
	r.ClearStep()
	r.last = &Hit{Kind: HitStep, Location: types.SourceLocation{Filename: filename, Line: line}, Depth: depth}
	r.log.V(2).Info("Pause at level", "location", r.last.Location.String(), "depth", depth)
	return types.Pause
}

func lessID(a, b string) bool {
	x, _ := strconv.Atoi(a)
	y, _ := strconv.Atoi(b)
	return x < y
}
