package bridge

import (
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/dontbug/internal/breakpoint"
	"github.com/ctagard/dontbug/internal/dbgp"
	"github.com/ctagard/dontbug/pkg/types"
)

type stubTarget struct{}

func (stubTarget) Frames() []types.StackFrame {
	return []types.StackFrame{
		{Level: 0, Function: "add", Filename: "calc.src", Line: 2},
		{Level: 1, Function: "main", Filename: "calc.src", Line: 4},
	}
}

func (stubTarget) Source(string) (string, bool) { return "", false }

type failingExecutor struct{ calls int }

func (f *failingExecutor) Execute(*dbgp.Context, string, dbgp.Flags, *dbgp.Node) dbgp.Status {
	f.calls++
	return dbgp.StatusFailure
}

func newContext() *dbgp.Context {
	return dbgp.NewContext(stubTarget{}, breakpoint.NewRegistry(logr.Discard()), dbgp.NewFeatureMap(dbgp.FeatureDefaults{}))
}

func newBridge(t *testing.T, exec Executor, flags dbgp.Flags) (*Bridge, *[]error) {
	t.Helper()
	var terminated []error
	b := New(exec, Options{
		Log:       logr.Discard(),
		Flags:     flags,
		Terminate: func(err error) { terminated = append(terminated, err) },
	})
	return b, &terminated
}

// TestExecuteStackGet verifies a full response is serialized with the
// protocol namespaces first.
func TestExecuteStackGet(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t, dbgp.NewEngine(logr.Discard()), dbgp.FlagDiversion)
	resp, err := b.Execute(newContext(), "stack_get -i 1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp, dbgp.XMLHeader+`<response xmlns="urn:debugger_protocol_v1" xmlns:xdebug="https://xdebug.org/dbgp/xdebug" command="stack_get" transaction_id="1">`))
	assert.Equal(t, 2, strings.Count(resp, "<stack "))
	assert.Less(t, strings.Index(resp, `where="add"`), strings.Index(resp, `where="main"`))
}

// TestExecuteIsIdempotent verifies the bridge retains nothing between calls.
func TestExecuteIsIdempotent(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t, dbgp.NewEngine(logr.Discard()), dbgp.FlagDiversion)
	sc := newContext()
	first, err := b.Execute(sc, "stack_get -i 1")
	require.NoError(t, err)
	second, err := b.Execute(sc, "stack_get -i 1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestProtocolErrorsAreResponses verifies DBGp errors are not fatal.
func TestProtocolErrorsAreResponses(t *testing.T) {
	t.Parallel()

	b, terminated := newBridge(t, dbgp.NewEngine(logr.Discard()), dbgp.FlagDiversion)
	resp := b.RunDebugCommand(newContext(), "breakpoint_remove -i 2 -d 1")
	assert.Contains(t, resp, `<error code="5">`)
	assert.Empty(t, *terminated)
}

// TestFatalPaths verifies fatal errors reach the terminator.
func TestFatalPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		exec    Executor
		command string
		cause   error
	}{
		{name: "empty command", exec: dbgp.NewEngine(logr.Discard()), command: "", cause: ErrEmptyCommand},
		{name: "executor failure", exec: &failingExecutor{}, command: "status -i 1", cause: ErrExecutorFailure},
		{name: "missing transaction id", exec: dbgp.NewEngine(logr.Discard()), command: "status", cause: ErrExecutorFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, terminated := newBridge(t, tt.exec, dbgp.FlagDiversion)

			_, err := b.Execute(newContext(), tt.command)
			require.Error(t, err)
			assert.True(t, IsFatal(err))
			assert.ErrorIs(t, err, tt.cause)

			assert.Equal(t, "", b.RunDebugCommand(newContext(), tt.command))
			require.Len(t, *terminated, 1)
			assert.ErrorIs(t, (*terminated)[0], tt.cause)
		})
	}
}

// TestNilContextIsFatal verifies a missing context is a hard failure.
func TestNilContextIsFatal(t *testing.T) {
	t.Parallel()

	b, _ := newBridge(t, dbgp.NewEngine(logr.Discard()), 0)
	_, err := b.Execute(nil, "status -i 1")
	assert.True(t, IsFatal(err))
}

// TestDecorate verifies namespaces replace existing values and lead.
func TestDecorate(t *testing.T) {
	t.Parallel()

	n := dbgp.NewNode("response").SetAttr("command", "status").SetAttr("xmlns", "other")
	Decorate(n)
	require.Len(t, n.Attrs, 3)
	assert.Equal(t, "xmlns", n.Attrs[0].Name)
	assert.Equal(t, dbgp.NamespaceDBGp, n.Attrs[0].Value)
	assert.Equal(t, "xmlns:xdebug", n.Attrs[1].Name)
	assert.Equal(t, "command", n.Attrs[2].Name)
}
