package mcp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/dontbug/internal/config"
	"github.com/ctagard/dontbug/internal/ide"
)

const calc = `
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

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s := NewServer(cfg, logr.Discard())
	t.Cleanup(s.Close)
	return s
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func decode(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, "unexpected tool error: %s", text(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &out))
	return out
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return tc.Text
}

func launchCalc(t *testing.T, s *Server, args map[string]any) string {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	args["source"] = calc
	args["name"] = "calc.dasm"
	res, err := s.handleDebugLaunch(context.Background(), call("debug_launch", args))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Contains(t, out["init"], `idekey="dontbug"`)
	return out["sessionId"].(string)
}

func TestLaunchSnapshotAndStep(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{
		"breakpoints": `[{"filename": "calc.src", "line": 2}]`,
	})

	res, err := s.handleDebugSnapshot(ctx, call("debug_snapshot", map[string]any{"sessionId": id}))
	require.NoError(t, err)
	snap := decode(t, res)
	assert.Equal(t, "break", snap["status"])
	assert.Equal(t, "calc.src:2", snap["location"])

	stack := snap["stack"].([]any)
	require.Len(t, stack, 2)
	top := stack[0].(map[string]any)
	assert.Equal(t, "add", top["name"])
	assert.Equal(t, "calc.src", top["source"].(map[string]any)["name"])

	vars := snap["variables"].(map[string]any)["0"].([]any)
	require.Len(t, vars, 2)
	assert.Equal(t, "a", vars[0].(map[string]any)["name"])
	assert.Equal(t, "2", vars[0].(map[string]any)["value"])

	bps := snap["breakpoints"].([]any)
	require.Len(t, bps, 1)
	assert.Equal(t, true, bps[0].(map[string]any)["verified"])
	assert.Equal(t, "breakpoint", snap["hit"].(map[string]any)["kind"])

	res, err = s.handleDebugStep(ctx, call("debug_step", map[string]any{"sessionId": id, "type": "out"}))
	require.NoError(t, err)
	assert.Equal(t, "calc.src:4", decode(t, res)["location"])

	res, err = s.handleDebugStep(ctx, call("debug_step", map[string]any{"sessionId": id, "type": "sideways"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleDebugContinue(ctx, call("debug_continue", map[string]any{"sessionId": id}))
	require.NoError(t, err)
	assert.Equal(t, "stopped", decode(t, res)["status"])

	res, err = s.handleDebugSnapshot(ctx, call("debug_snapshot", map[string]any{"sessionId": id}))
	require.NoError(t, err)
	snap = decode(t, res)
	assert.Equal(t, "5\n", snap["output"])
	assert.Empty(t, snap["stack"])
}

func TestSnapshotLimitsDepth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	id := launchCalc(t, s, map[string]any{
		"breakpoints": `[{"filename": "calc.src", "line": 2}]`,
	})

	res, err := s.handleDebugSnapshot(context.Background(), call("debug_snapshot", map[string]any{
		"sessionId":       id,
		"maxStackDepth":   float64(1),
		"expandVariables": false,
	}))
	require.NoError(t, err)
	snap := decode(t, res)
	assert.Len(t, snap["stack"], 1)
	assert.NotContains(t, snap, "variables")
}

func TestNumericArgumentsMustBeWholeNumbers(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{
		"breakpoints": `[{"filename": "calc.src", "line": 2}]`,
	})

	for _, depth := range []any{float64(-1), 1.5} {
		res, err := s.handleDebugSnapshot(ctx, call("debug_snapshot", map[string]any{
			"sessionId":     id,
			"maxStackDepth": depth,
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError, "maxStackDepth %v", depth)
		assert.Contains(t, text(t, res), "invalid value for parameter 'maxStackDepth'")
	}

	for _, frame := range []any{float64(-1), 1.5} {
		res, err := s.handleDebugEvaluate(ctx, call("debug_evaluate", map[string]any{
			"sessionId":  id,
			"expression": "a",
			"frameId":    frame,
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError, "frameId %v", frame)
		assert.Contains(t, text(t, res), "invalid value for parameter 'frameId'")
	}
}

func TestEvaluateInFrame(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{
		"breakpoints": `[{"filename": "calc.src", "line": 2}]`,
	})

	res, err := s.handleDebugEvaluate(ctx, call("debug_evaluate", map[string]any{
		"sessionId":  id,
		"expression": "a + b",
		"frameId":    float64(0),
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, float64(0), out["frameId"])
	assert.Contains(t, out["response"], "<![CDATA[5]]>")

	// add's parameters are not visible from main
	res, err = s.handleDebugEvaluate(ctx, call("debug_evaluate", map[string]any{
		"sessionId":  id,
		"expression": "a",
		"frameId":    float64(1),
	}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, float64(1), out["frameId"])
	assert.Contains(t, out["response"], `code="206"`)
}

func TestCommandAndEvaluate(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{"stopOnEntry": true})

	res, err := s.handleDebugCommand(ctx, call("debug_command", map[string]any{
		"sessionId": id,
		"command":   "stack_get",
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, false, out["live"])
	assert.Contains(t, out["response"], `where="main"`)
	assert.Contains(t, out["response"], `xmlns:xdebug="https://xdebug.org/dbgp/xdebug"`)

	res, err = s.handleDebugCommand(ctx, call("debug_command", map[string]any{
		"sessionId": id,
		"command":   "status",
		"live":      true,
		"framed":    true,
	}))
	require.NoError(t, err)
	out = decode(t, res)
	resp := out["response"].(string)
	assert.Regexp(t, `^\d+\x00<\?xml`, resp)
	assert.Contains(t, resp, `status="break"`)

	res, err = s.handleDebugEvaluate(ctx, call("debug_evaluate", map[string]any{
		"sessionId":  id,
		"expression": `"x" + "y"`,
	}))
	require.NoError(t, err)
	assert.Contains(t, decode(t, res)["response"], "eHk=")

	res, err = s.handleDebugCommand(ctx, call("debug_command", map[string]any{"sessionId": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBreakpointsTool(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{"stopOnEntry": true})

	res, err := s.handleDebugBreakpoints(ctx, call("debug_breakpoints", map[string]any{
		"sessionId": id,
		"path":      "calc.src",
		"lines":     "[2, 5]",
	}))
	require.NoError(t, err)
	assert.Len(t, decode(t, res)["breakpoints"], 2)

	res, err = s.handleDebugBreakpoints(ctx, call("debug_breakpoints", map[string]any{
		"sessionId": id,
		"action":    "remove",
		"id":        "1",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["success"])

	res, err = s.handleDebugBreakpoints(ctx, call("debug_breakpoints", map[string]any{
		"sessionId": id,
		"action":    "list",
	}))
	require.NoError(t, err)
	bps := decode(t, res)["breakpoints"].([]any)
	require.Len(t, bps, 1)
	assert.Equal(t, float64(5), bps[0].(map[string]any)["line"])

	for _, args := range []map[string]any{
		{"sessionId": id, "lines": "[1]"},
		{"sessionId": id, "path": "calc.src", "lines": "nope"},
		{"sessionId": id, "path": "calc.src", "lines": "[0]"},
		{"sessionId": id, "action": "remove", "id": "42"},
		{"sessionId": id, "action": "toggle"},
		{"sessionId": "missing", "action": "list"},
	} {
		res, err := s.handleDebugBreakpoints(ctx, call("debug_breakpoints", args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "args %v", args)
	}
}

func TestListAndDisconnect(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{"stopOnEntry": true})

	res, err := s.handleDebugListSessions(ctx, call("debug_list_sessions", nil))
	require.NoError(t, err)
	sessions := decode(t, res)["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].(map[string]any)["sessionId"])

	res, err = s.handleDebugDisconnect(ctx, call("debug_disconnect", map[string]any{"sessionId": id}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["success"])

	res, err = s.handleDebugDisconnect(ctx, call("debug_disconnect", map[string]any{"sessionId": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not found")
}

func TestPermissions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	noLaunch := newTestServer(t, func(c *config.Config) { c.AllowLaunch = false })
	res, err := noLaunch.handleDebugLaunch(ctx, call("debug_launch", map[string]any{"source": calc}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	readonly := newTestServer(t, func(c *config.Config) {
		c.Mode = config.ModeReadOnly
		c.AllowExecute = false
	})
	id := launchCalc(t, readonly, map[string]any{"stopOnEntry": true})

	res, err = readonly.handleDebugCommand(ctx, call("debug_command", map[string]any{
		"sessionId": id,
		"command":   "status",
		"live":      true,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "live is not allowed")

	res, err = readonly.handleDebugEvaluate(ctx, call("debug_evaluate", map[string]any{
		"sessionId":  id,
		"expression": "x",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = readonly.handleDebugLaunch(ctx, call("debug_launch", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestConnectIDE(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	id := launchCalc(t, s, map[string]any{"stopOnEntry": true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	res, err := s.handleDebugConnectIDE(ctx, call("debug_connect_ide", map[string]any{
		"sessionId": id,
		"address":   ln.Addr().String(),
	}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["success"])

	conn, err := ln.Accept()
	require.NoError(t, err)
	client := ide.NewTransport(conn)
	defer client.Close()

	initPacket, err := client.ReadPacket()
	require.NoError(t, err)
	assert.Contains(t, initPacket, `appid="`+id+`"`)

	require.NoError(t, client.SendCommand("stop -i 1"))
	resp, err := client.ReadPacket()
	require.NoError(t, err)
	assert.Contains(t, resp, `status="stopped"`)

	require.Eventually(t, func() bool {
		_, err := s.sessions.Get(id)
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectIDEUnreachable(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	id := launchCalc(t, s, map[string]any{"stopOnEntry": true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res, err := s.handleDebugConnectIDE(context.Background(), call("debug_connect_ide", map[string]any{
		"sessionId": id,
		"address":   addr,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not reachable")
}
