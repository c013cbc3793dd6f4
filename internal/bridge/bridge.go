// Package bridge executes one DBGp command against a session context that
// was frozen at a point in replayed history and returns the serialized
// response.
//
// The context is borrowed for a single call. The bridge keeps no
// reference to it, and callers must not invoke the bridge concurrently
// against the same context.
package bridge

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/ctagard/dontbug/internal/dbgp"
)

var (
	// ErrEmptyCommand is the cause when the command string is empty.
	ErrEmptyCommand = errors.New("empty debug command")
	// ErrExecutorFailure is the cause when the executor reports a hard
	// failure.
	ErrExecutorFailure = errors.New("debug command executor failed")
)

// FatalError means the disposable context can no longer be trusted. The
// controller is expected to discard the whole diversion.
type FatalError struct {
	Command string
	Cause   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error executing %q in diverted context: %v", e.Command, e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether err is a disposable-context fatal.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Executor runs a DBGp command against a context. *dbgp.Engine satisfies
// it.
type Executor interface {
	Execute(sc *dbgp.Context, command string, flags dbgp.Flags, out *dbgp.Node) dbgp.Status
}

// Options configures a Bridge.
type Options struct {
	Log logr.Logger
	// Terminate is called by RunDebugCommand on a fatal error. The default
	// logs and exits the process with status 1.
	Terminate func(err error)
	// Flags are passed to the executor on every call.
	Flags dbgp.Flags
}

// Bridge adapts an Executor to a string-in, string-out call.
type Bridge struct {
	exec      Executor
	log       logr.Logger
	terminate func(err error)
	flags     dbgp.Flags
}

// New returns a bridge over exec.
func New(exec Executor, opts Options) *Bridge {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	b := &Bridge{exec: exec, log: log, terminate: opts.Terminate, flags: opts.Flags}
	if b.terminate == nil {
		b.terminate = func(err error) {
			b.log.Error(err, "Aborting: diverted session is unusable")
			os.Exit(1)
		}
	}
	return b
}

// Execute runs command against sc and returns the serialized response.
// Protocol-level errors are rendered into the response. Only failures
// that make sc unusable return an error, always a *FatalError.
func (b *Bridge) Execute(sc *dbgp.Context, command string) (string, error) {
	if command == "" {
		return "", &FatalError{Command: command, Cause: ErrEmptyCommand}
	}

	out := dbgp.NewNode("response")
	if status := b.exec.Execute(sc, command, b.flags, out); status != dbgp.StatusOK {
		return "", &FatalError{Command: command, Cause: fmt.Errorf("%w: status %d", ErrExecutorFailure, status)}
	}
	Decorate(out)

	resp := out.Serialize()
	b.log.V(2).Info("Debug command executed", "command", command, "bytes", len(resp))
	return resp, nil
}

// RunDebugCommand is the entry point used by the replay controller. A fatal
// error terminates through Options.Terminate; "" is returned only if that
// function returns.
func (b *Bridge) RunDebugCommand(sc *dbgp.Context, command string) string {
	resp, err := b.Execute(sc, command)
	if err != nil {
		b.terminate(err)
		return ""
	}
	return resp
}

// Decorate attaches the fixed protocol namespaces ahead of every other
// attribute.
func Decorate(n *dbgp.Node) *dbgp.Node {
	return n.Decorate(dbgp.Namespaces()...)
}
