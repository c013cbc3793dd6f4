// Package session owns debug sessions: an interpreter with the tracepoint
// policy installed, its breakpoint registry, the live DBGp context and the
// bridges that execute protocol commands against it.
package session

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/ctagard/dontbug/internal/breakpoint"
	"github.com/ctagard/dontbug/internal/bridge"
	"github.com/ctagard/dontbug/internal/dbgp"
	"github.com/ctagard/dontbug/internal/errors"
	"github.com/ctagard/dontbug/internal/tracepoint"
	"github.com/ctagard/dontbug/internal/version"
	"github.com/ctagard/dontbug/internal/vm"
	"github.com/ctagard/dontbug/pkg/types"
)

// Options are the per-session settings shared by every launch.
type Options struct {
	Log            logr.Logger
	Granularity    tracepoint.Granularity
	MaxLocationLen int
	IDEKey         string
	Features       dbgp.FeatureDefaults
}

// Session is one debugged program. All interpreter access is serialized
// by the session lock.
type Session struct {
	ID        string
	Program   string
	CreatedAt time.Time

	lastUsed atomic.Int64

	mu       sync.Mutex
	log      logr.Logger
	machine  *vm.VM
	registry *breakpoint.Registry
	install  *tracepoint.Installation
	live     *dbgp.Context
	engine   *dbgp.Engine
	direct   *bridge.Bridge
	diverted *bridge.Bridge
	txn      int
	fatal    error
	closed   bool
}

// Snapshot is the frozen state of a paused session.
type Snapshot struct {
	Info        types.SessionInfo
	Frames      []types.StackFrame
	Breakpoints []breakpoint.Breakpoint
	Output      string
	Hit         *breakpoint.Hit
}

func newSession(id, name string, prog *vm.Program, opts Options) (*Session, error) {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithValues("sessionId", id)

	machine := vm.New(prog)
	registry := breakpoint.NewRegistry(log.WithName("breakpoints"))
	install, err := tracepoint.Install(machine, tracepoint.Options{
		Granularity:    opts.Granularity,
		Matcher:        registry,
		Level:          registry,
		MaxLocationLen: opts.MaxLocationLen,
	})
	if err != nil {
		return nil, err
	}

	features := opts.Features
	if features.LanguageVersion == "" {
		features.LanguageVersion = version.Version
	}
	live := dbgp.NewContext(machine, registry, dbgp.NewFeatureMap(features))
	live.AppID = id
	live.IDEKey = opts.IDEKey
	live.EngineVersion = version.Version

	now := time.Now()
	s := &Session{
		ID:        id,
		Program:   name,
		CreatedAt: now,
		log:       log,
		machine:   machine,
		registry:  registry,
		install:   install,
		live:      live,
		engine:    dbgp.NewEngine(log.WithName("dbgp")),
	}
	s.lastUsed.Store(now.UnixNano())
	s.direct = bridge.New(s.engine, bridge.Options{Log: log, Terminate: s.discard})
	s.diverted = bridge.New(s.engine, bridge.Options{Log: log, Terminate: s.discard, Flags: dbgp.FlagDiversion})
	return s, nil
}

// discard records a bridge fatal instead of exiting the server. The
// diversion that produced it is dropped by the caller.
func (s *Session) discard(err error) {
	s.fatal = err
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed is when the session last served a request.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// InitPacket is the DBGp init packet for the session.
func (s *Session) InitPacket() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileURI := ""
	if prog := s.machine.Program(); len(prog.Functions) > 0 {
		fileURI = dbgp.FileURI(prog.Functions[prog.Entry].Filename)
	}
	return dbgp.InitNode(s.live, fileURI).Serialize()
}

// Continue resumes until a breakpoint, a halt or ctx ends.
func (s *Session) Continue(ctx context.Context) (types.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunnable(); err != nil {
		return s.infoLocked(), err
	}
	s.registry.ClearStep()
	return s.runLocked(ctx)
}

// Step arms a step target at the current depth and resumes.
func (s *Session) Step(ctx context.Context, kind types.StepKind) (types.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunnable(); err != nil {
		return s.infoLocked(), err
	}
	depth := s.install.Depth.Depth()
	switch kind {
	case types.StepInto:
		s.registry.StepInto()
	case types.StepOver:
		s.registry.StepOver(depth)
	case types.StepOut:
		s.registry.StepOut(depth)
	default:
		return s.infoLocked(), errors.StepFailed(string(kind), fmt.Errorf("unknown step kind %q", kind))
	}

	info, err := s.runLocked(ctx)
	if err != nil {
		return info, errors.StepFailed(string(kind), err)
	}
	return info, nil
}

func (s *Session) checkRunnable() error {
	s.touch()
	if s.closed || s.machine.Halted() {
		return errors.SessionTerminated(s.ID)
	}
	return nil
}

func (s *Session) runLocked(ctx context.Context) (types.SessionInfo, error) {
	s.live.Status = types.SessionStatusRunning
	s.live.Reason = types.ReasonOK

	stop, err := s.machine.Run(ctx)
	switch {
	case stop == vm.StopPaused && err != nil:
		// Cancelled between instructions; the program is parked but no
		// matcher asked for it.
		s.live.Status = types.SessionStatusBreak
		s.live.Reason = types.ReasonAborted
		return s.infoLocked(), err
	case stop == vm.StopPaused:
		s.live.Status = types.SessionStatusBreak
	case err != nil:
		s.live.Status = types.SessionStatusStopped
		s.live.Reason = types.ReasonError
		s.log.Info("Program faulted", "error", err.Error())
	default:
		s.live.Status = types.SessionStatusStopped
	}

	info := s.infoLocked()
	s.log.V(1).Info("Execution stopped", "status", info.Status, "location", info.Location, "depth", info.Depth)
	return info, nil
}

// Dispatch runs a DBGp command against the live context. A missing -i is
// filled in from the session's transaction counter.
func (s *Session) Dispatch(command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.closed {
		return "", errors.SessionTerminated(s.ID)
	}
	return s.executeLocked(s.direct, s.live, command)
}

// Query runs a DBGp command against a disposable copy of the paused
// session. Nothing the command does reaches the live session.
func (s *Session) Query(command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.closed {
		return "", errors.SessionTerminated(s.ID)
	}
	if s.live.Status != types.SessionStatusBreak {
		return "", errors.NotPaused(s.ID, string(s.live.Status))
	}
	diversion := s.live.Divert(s.machine.Clone())
	return s.executeLocked(s.diverted, diversion, command)
}

func (s *Session) executeLocked(b *bridge.Bridge, sc *dbgp.Context, command string) (string, error) {
	s.fatal = nil
	command = s.withTransactionID(command)
	resp := b.RunDebugCommand(sc, command)
	if s.fatal != nil {
		err := s.fatal
		s.fatal = nil
		return "", errors.CommandFailed(command, err)
	}
	return resp, nil
}

// withTransactionID appends the next transaction id to commands that
// lack one.
func (s *Session) withTransactionID(command string) string {
	if strings.TrimSpace(command) == "" {
		return command
	}
	head, data, hasData := strings.Cut(command, " -- ")
	for _, f := range strings.Fields(head) {
		if f == "-i" {
			return command
		}
	}
	s.txn = max(s.txn, s.live.LastTransactionID()) + 1
	head = strings.TrimSpace(head) + " -i " + strconv.Itoa(s.txn)
	if hasData {
		head += " -- " + data
	}
	return head
}

// Evaluate evaluates expr in the frame at level through a disposable copy.
func (s *Session) Evaluate(expr string, level int) (string, error) {
	cmd := fmt.Sprintf("eval -d %d -- %s", level, base64.StdEncoding.EncodeToString([]byte(expr)))
	return s.Query(cmd)
}

// SetBreakpoint adds an enabled line breakpoint.
func (s *Session) SetBreakpoint(filename string, line int) (breakpoint.Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	bp, err := s.registry.AddLine(filename, line)
	if err != nil {
		var be *breakpoint.Error
		if stderrors.As(err, &be) {
			return bp, errors.BreakpointFailed(filename, line, be.Message).WithCause(err)
		}
		return bp, err
	}
	return bp, nil
}

// RemoveBreakpoint deletes a breakpoint by id.
func (s *Session) RemoveBreakpoint(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if err := s.registry.Remove(id); err != nil {
		return errors.InvalidParameter("id", id, "the id of an existing breakpoint").WithCause(err)
	}
	return nil
}

// Breakpoints lists the registered breakpoints.
func (s *Session) Breakpoints() []breakpoint.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.List()
}

// Info returns the controller facing summary.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

// Location is the source position the program is parked at.
func (s *Session) Location() (types.SourceLocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Halted() {
		return types.SourceLocation{}, false
	}
	return s.machine.Location()
}

func (s *Session) infoLocked() types.SessionInfo {
	info := types.SessionInfo{
		SessionID:   s.ID,
		Program:     s.Program,
		Status:      s.live.Status,
		Reason:      s.live.Reason,
		Depth:       s.install.Depth.Depth(),
		Granularity: string(s.install.Granularity()),
	}
	if !s.machine.Halted() {
		if loc, ok := s.machine.Location(); ok {
			info.Location = loc.String()
		}
	}
	if err := s.machine.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// Snapshot captures the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	snap := Snapshot{
		Info:        s.infoLocked(),
		Breakpoints: s.registry.List(),
		Output:      s.machine.Output(),
	}
	if !s.machine.Halted() {
		snap.Frames = s.machine.Frames()
	}
	if hit, ok := s.registry.LastHit(); ok {
		snap.Hit = &hit
	}
	return snap
}

// Close detaches the tracepoint policy and marks the session stopped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.install.Uninstall()
	if !s.machine.Halted() {
		s.live.Reason = types.ReasonAborted
	}
	s.live.Status = types.SessionStatusStopped
}
