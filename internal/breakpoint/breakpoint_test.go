package breakpoint

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/dontbug/pkg/types"
)

func newRegistry() *Registry {
	return NewRegistry(logr.Discard())
}

// TestAddAndList verifies ids are sequential and listing is ordered.
func TestAddAndList(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	for line := 1; line <= 11; line++ {
		_, err := r.AddLine("a.src", line)
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 11)
	assert.Equal(t, "1", list[0].ID)
	assert.Equal(t, "2", list[1].ID)
	assert.Equal(t, "11", list[10].ID)
	assert.Equal(t, StateEnabled, list[0].State)
}

// TestAddRejectsUnsupported verifies unsupported types and bad locations
// carry their DBGp codes.
func TestAddRejectsUnsupported(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	_, err := r.Add(TypeCall, "a.src", 1, StateEnabled, false)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, CodeTypeNotSupported, berr.Code)

	_, err = r.Add(TypeLine, "", 1, StateEnabled, false)
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, CodeCouldNotSet, berr.Code)

	_, err = ParseType("tracepoint")
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, CodeTypeNotSupported, berr.Code)

	_, err = ParseState("sleepy")
	assert.Error(t, err)
}

// TestRemoveAndUpdate verifies missing ids report CodeNoSuchBreakpoint.
func TestRemoveAndUpdate(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	bp, err := r.AddLine("a.src", 3)
	require.NoError(t, err)

	require.NoError(t, r.Update(bp.ID, StateDisabled))
	got, ok := r.Get(bp.ID)
	require.True(t, ok)
	assert.Equal(t, StateDisabled, got.State)

	require.NoError(t, r.Remove(bp.ID))
	var berr *Error
	require.ErrorAs(t, r.Remove(bp.ID), &berr)
	assert.Equal(t, CodeNoSuchBreakpoint, berr.Code)
	require.ErrorAs(t, r.Update(bp.ID, StateEnabled), &berr)
}

// TestMatchLocationBreakpoints verifies enabled breakpoints pause and
// count hits while disabled ones do not.
func TestMatchLocationBreakpoints(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	on, _ := r.AddLine("a.src", 5)
	off, _ := r.Add(TypeLine, "a.src", 6, StateDisabled, false)

	assert.Equal(t, types.Dispatch, r.MatchLocation("a.src", nil, 4, 0))
	assert.Equal(t, types.Dispatch, r.MatchLocation("b.src", nil, 5, 0))
	assert.Equal(t, types.Pause, r.MatchLocation("a.src", nil, 5, 2))
	assert.Equal(t, types.Dispatch, r.MatchLocation("a.src", nil, 6, 0))

	hit, ok := r.LastHit()
	require.True(t, ok)
	assert.Equal(t, HitBreakpoint, hit.Kind)
	assert.Equal(t, on.ID, hit.BreakpointID)
	assert.Equal(t, 2, hit.Depth)

	got, _ := r.Get(on.ID)
	assert.Equal(t, 1, got.HitCount)
	got, _ = r.Get(off.ID)
	assert.Equal(t, 0, got.HitCount)
}

// TestTemporaryBreakpoint verifies a temporary breakpoint is consumed by
// its first hit.
func TestTemporaryBreakpoint(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	bp, err := r.Add(TypeLine, "a.src", 7, StateEnabled, true)
	require.NoError(t, err)

	assert.Equal(t, types.Pause, r.MatchLocation("a.src", nil, 7, 0))
	_, ok := r.Get(bp.ID)
	assert.False(t, ok)
	assert.Equal(t, types.Dispatch, r.MatchLocation("a.src", nil, 7, 0))
}

// TestStepInto verifies step-into pauses at the next location regardless
// of depth and then disarms.
func TestStepInto(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	r.StepInto()
	assert.True(t, r.Stepping())
	assert.Equal(t, types.Pause, r.MatchLocation("a.src", nil, 9, 3))
	assert.False(t, r.Stepping())
	assert.Equal(t, types.Dispatch, r.MatchLocation("a.src", nil, 10, 3))
}

// TestStepOverAndOut verifies level stepping is a depth comparison.
func TestStepOverAndOut(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		arm    func(r *Registry)
		depths []int
		pause  int
	}{
		{"over skips deeper frames", func(r *Registry) { r.StepOver(1) }, []int{2, 3, 2, 1}, 3},
		{"over pauses on shallower frame", func(r *Registry) { r.StepOver(1) }, []int{2, 0}, 1},
		{"out waits for caller", func(r *Registry) { r.StepOut(2) }, []int{2, 3, 2, 1}, 3},
		{"out at top level acts as over", func(r *Registry) { r.StepOut(0) }, []int{0}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRegistry()
			tc.arm(r)
			paused := -1
			for i, depth := range tc.depths {
				if r.MatchLevel("a.src", i+1, depth) == types.Pause {
					paused = i
					break
				}
			}
			assert.Equal(t, tc.pause, paused)
			assert.False(t, r.Stepping())
		})
	}
}

// TestBreakpointClearsStep verifies a breakpoint hit disarms a pending
// step-over so the level matcher does not pause twice.
func TestBreakpointClearsStep(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	_, _ = r.AddLine("a.src", 20)
	r.StepOver(0)

	assert.Equal(t, types.Pause, r.MatchLocation("a.src", nil, 20, 0))
	assert.Equal(t, types.Dispatch, r.MatchLevel("a.src", 20, 0))
}

// TestClone verifies clones do not share breakpoint state.
func TestClone(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	bp, _ := r.AddLine("a.src", 1)
	c := r.Clone()

	require.NoError(t, c.Update(bp.ID, StateDisabled))
	_, err := c.AddLine("a.src", 2)
	require.NoError(t, err)

	got, _ := r.Get(bp.ID)
	assert.Equal(t, StateEnabled, got.State)
	assert.Len(t, r.List(), 1)
	assert.Len(t, c.List(), 2)
}
