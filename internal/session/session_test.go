package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/dontbug/internal/dbgp"
	"github.com/ctagard/dontbug/internal/errors"
	"github.com/ctagard/dontbug/internal/tracepoint"
	"github.com/ctagard/dontbug/pkg/types"
)

const calc = `
.engine >= 0.1
.file calc.src
.source calc.src
function add(a, b) {
  return a + b
}
x = add(2, 3)
print(x)
.endsource

func add 2
  locals a b
  line 2
  stmt
  load a
  load b
  add
  ret
end

func main
  locals x
  line 4
  stmt
  const 2
  const 3
  call add 2
  store x
  line 5
  stmt
  load x
  print
  halt
end
`

func newManager(g tracepoint.Granularity) *Manager {
	return NewManager(4, time.Minute, Options{
		Log:         logr.Discard(),
		Granularity: g,
		IDEKey:      "test",
		Features:    dbgp.FeatureDefaults{MaxChildren: 32, MaxData: 1024, MaxDepth: 1},
	})
}

func launch(t *testing.T, m *Manager, req LaunchRequest) *Session {
	t.Helper()
	if req.Source == "" && req.Path == "" {
		req.Source = calc
	}
	s, err := m.Launch(context.Background(), req)
	require.NoError(t, err)
	return s
}

// TestStopOnEntryAndStepping walks the calc program with every step kind.
func TestStopOnEntryAndStepping(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{StopOnEntry: true})
	ctx := context.Background()

	info := s.Info()
	assert.Equal(t, types.SessionStatusBreak, info.Status)
	assert.Equal(t, "calc.src:4", info.Location)
	assert.Equal(t, 0, info.Depth)
	assert.Equal(t, "instruction", info.Granularity)

	info, err := s.Step(ctx, types.StepInto)
	require.NoError(t, err)
	assert.Equal(t, "calc.src:2", info.Location)
	assert.Equal(t, 1, info.Depth)

	info, err = s.Step(ctx, types.StepOut)
	require.NoError(t, err)
	assert.Equal(t, "calc.src:4", info.Location)
	assert.Equal(t, 0, info.Depth)

	info, err = s.Step(ctx, types.StepOver)
	require.NoError(t, err)
	assert.Equal(t, "calc.src:5", info.Location)

	info, err = s.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusStopped, info.Status)
	assert.Equal(t, types.ReasonOK, info.Reason)
	assert.Equal(t, "5\n", s.Snapshot().Output)

	_, err = s.Continue(ctx)
	assert.True(t, errors.HasCode(err, errors.CodeSessionTerminated))

	_, err = s.Step(ctx, "sideways")
	assert.True(t, errors.HasCode(err, errors.CodeSessionTerminated))
}

// TestStatementGranularityStepOver verifies step-over skips the callee in
// statement mode.
func TestStatementGranularityStepOver(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityStatement)
	s := launch(t, m, LaunchRequest{StopOnEntry: true})

	info, err := s.Step(context.Background(), types.StepOver)
	require.NoError(t, err)
	assert.Equal(t, "calc.src:5", info.Location)
	assert.Equal(t, "statement", info.Granularity)

	_, err = s.Step(context.Background(), "sideways")
	assert.True(t, errors.HasCode(err, errors.CodeStepFailed))
}

// TestBreakpointAndQuery verifies inspection through a disposable copy.
func TestBreakpointAndQuery(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{Breakpoints: []types.SourceLocation{{Filename: "calc.src", Line: 2}}})

	snap := s.Snapshot()
	assert.Equal(t, types.SessionStatusBreak, snap.Info.Status)
	require.Len(t, snap.Frames, 2)
	assert.Equal(t, "add", snap.Frames[0].Function)
	require.NotNil(t, snap.Hit)
	assert.Equal(t, "1", snap.Hit.BreakpointID)

	resp, err := s.Query("stack_get")
	require.NoError(t, err)
	assert.Contains(t, resp, `xmlns="urn:debugger_protocol_v1"`)
	assert.Contains(t, resp, `where="add"`)
	assert.Contains(t, resp, `where="main"`)

	resp, err = s.Query("context_get -d 0")
	require.NoError(t, err)
	assert.Contains(t, resp, `name="a"`)
	assert.Contains(t, resp, `<![CDATA[2]]>`)

	resp, err = s.Evaluate("a + b", 0)
	require.NoError(t, err)
	assert.Contains(t, resp, `<![CDATA[5]]>`)

	// Mutations are refused in the copy and never reach the session.
	resp, err = s.Query("breakpoint_set -t line -f calc.src -n 5")
	require.NoError(t, err)
	assert.Contains(t, resp, `<error code="5">`)
	assert.Len(t, s.Breakpoints(), 1)

	_, err = s.Query("")
	assert.True(t, errors.HasCode(err, errors.CodeCommandFailed))

	info, err := s.Continue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusStopped, info.Status)

	_, err = s.Query("stack_get")
	assert.True(t, errors.HasCode(err, errors.CodeNotPaused))
}

// TestDispatchLive verifies live commands mutate the session and keep
// transaction ids ordered.
func TestDispatchLive(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{StopOnEntry: true})

	resp, err := s.Dispatch("status")
	require.NoError(t, err)
	assert.Contains(t, resp, `transaction_id="1"`)
	assert.Contains(t, resp, `status="break"`)

	resp, err = s.Dispatch("breakpoint_set -i 10 -t line -f calc.src -n 5")
	require.NoError(t, err)
	assert.Contains(t, resp, `id="1"`)
	assert.Len(t, s.Breakpoints(), 1)

	resp, err = s.Dispatch("status")
	require.NoError(t, err)
	assert.Contains(t, resp, `transaction_id="11"`)

	_, err = s.Dispatch("status -i 3")
	assert.True(t, errors.HasCode(err, errors.CodeCommandFailed))

	info, err := s.Continue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "calc.src:5", info.Location)
}

// TestBreakpointHelpers verifies the controller-side breakpoint calls.
func TestBreakpointHelpers(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{StopOnEntry: true})

	bp, err := s.SetBreakpoint("calc.src", 5)
	require.NoError(t, err)
	assert.Equal(t, "1", bp.ID)

	_, err = s.SetBreakpoint("calc.src", 0)
	assert.True(t, errors.HasCode(err, errors.CodeBreakpointFailed))

	require.NoError(t, s.RemoveBreakpoint("1"))
	assert.True(t, errors.HasCode(s.RemoveBreakpoint("1"), errors.CodeInvalidParameter))
	assert.Empty(t, s.Breakpoints())
}

// TestRuntimeFault verifies a faulting program stops with reason error.
func TestRuntimeFault(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{Source: `
.file bad.src
func main
  line 1
  stmt
  add
  halt
end
`})
	info := s.Info()
	assert.Equal(t, types.SessionStatusStopped, info.Status)
	assert.Equal(t, types.ReasonError, info.Reason)
	assert.NotEmpty(t, info.Error)
}

// TestLaunchFailures verifies load, constraint and limit errors.
func TestLaunchFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(tracepoint.GranularityInstruction)

	_, err := m.Launch(ctx, LaunchRequest{Source: "func main\n  bogus\nend\n"})
	assert.True(t, errors.HasCode(err, errors.CodeProgramLoadFailed))

	_, err = m.Launch(ctx, LaunchRequest{Path: "/nonexistent/prog.dasm"})
	assert.True(t, errors.HasCode(err, errors.CodeProgramLoadFailed))

	_, err = m.Launch(ctx, LaunchRequest{Source: ".engine >= 99.0\nfunc main\n  halt\nend\n"})
	assert.True(t, errors.HasCode(err, errors.CodeEngineIncompatible))

	_, err = m.Launch(ctx, LaunchRequest{Source: calc, Breakpoints: []types.SourceLocation{{Filename: "calc.src", Line: -1}}})
	assert.True(t, errors.HasCode(err, errors.CodeBreakpointFailed))

	small := NewManager(1, time.Minute, Options{})
	launch(t, small, LaunchRequest{StopOnEntry: true})
	_, err = small.Launch(ctx, LaunchRequest{Source: calc})
	assert.True(t, errors.HasCode(err, errors.CodeSessionLimitReached))
}

// TestLaunchFromFile verifies listings load from disk.
func TestLaunchFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "calc.dasm")
	require.NoError(t, os.WriteFile(path, []byte(calc), 0o644))

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{Path: path, StopOnEntry: true})
	assert.Equal(t, path, s.Program)
	assert.Contains(t, s.InitPacket(), `fileuri="file://calc.src"`)
}

// TestManagerLifecycle covers get, list, terminate and idle cleanup.
func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	a := launch(t, m, LaunchRequest{StopOnEntry: true})
	b := launch(t, m, LaunchRequest{StopOnEntry: true})

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Len(t, m.List(), 2)

	require.NoError(t, m.Terminate(a.ID))
	assert.True(t, errors.HasCode(m.Terminate(a.ID), errors.CodeSessionNotFound))
	_, err = m.Get(a.ID)
	assert.True(t, errors.HasCode(err, errors.CodeSessionNotFound))
	assert.Equal(t, types.SessionStatusStopped, a.Info().Status)
	assert.Equal(t, types.ReasonAborted, a.Info().Reason)

	m.cleanupExpired(time.Now().Add(2 * time.Minute))
	assert.Empty(t, m.List())
	_, err = b.Dispatch("status")
	assert.True(t, errors.HasCode(err, errors.CodeSessionTerminated))
}

// TestManagerRunClosesOnCancel verifies Run shuts every session down.
func TestManagerRunClosesOnCancel(t *testing.T) {
	t.Parallel()

	m := newManager(tracepoint.GranularityInstruction)
	s := launch(t, m, LaunchRequest{StopOnEntry: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))
	assert.Empty(t, m.List())
	assert.Equal(t, types.SessionStatusStopped, s.Info().Status)
}
