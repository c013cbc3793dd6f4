package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ctagard/dontbug/internal/errors"
	"github.com/ctagard/dontbug/internal/version"
	"github.com/ctagard/dontbug/internal/vm"
	"github.com/ctagard/dontbug/pkg/types"
)

// cleanupInterval is how often Run looks for idle sessions.
const cleanupInterval = time.Minute

// LaunchRequest describes a program to debug. Exactly one of Path or
// Source is used; Path wins when both are set.
type LaunchRequest struct {
	Path   string
	Source string
	Name   string

	StopOnEntry bool
	Breakpoints []types.SourceLocation
}

// Manager manages multiple debug sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	maxSessions    int
	sessionTimeout time.Duration

	opts Options
	log  logr.Logger
}

// NewManager creates a new session manager. Call Run to enable idle
// session cleanup.
func NewManager(maxSessions int, sessionTimeout time.Duration, opts Options) *Manager {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	opts.Log = log
	return &Manager{
		sessions:       make(map[string]*Session),
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		opts:           opts,
		log:            log,
	}
}

// Run periodically terminates idle sessions until ctx is done, then
// closes every session.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case now := <-ticker.C:
			m.cleanupExpired(now)
		}
	}
}

// cleanupExpired removes sessions idle for longer than the timeout
func (m *Manager) cleanupExpired(now time.Time) {
	if m.sessionTimeout <= 0 {
		return
	}

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.sessionTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.log.Info("Session expired", "sessionId", s.ID, "idle", now.Sub(s.LastUsed()).String())
		s.Close()
	}
}

// Launch loads a program, installs the tracepoint policy and runs it to
// the first pause.
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (*Session, error) {
	prog, name, err := load(req)
	if err != nil {
		return nil, errors.ProgramLoadFailed(name, err)
	}
	if err := version.CheckConstraint(prog.Engine); err != nil {
		return nil, errors.EngineIncompatible(prog.Engine, version.Version, err)
	}

	id := uuid.New().String()
	s, err := newSession(id, name, prog, m.opts)
	if err != nil {
		return nil, errors.ProgramLoadFailed(name, err)
	}
	for _, loc := range req.Breakpoints {
		if _, err := s.SetBreakpoint(loc.Filename, loc.Line); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, errors.SessionLimitReached(m.maxSessions)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("Session launched", "sessionId", id, "program", name, "granularity", m.opts.Granularity)

	s.mu.Lock()
	if req.StopOnEntry {
		s.registry.StepInto()
	}
	_, err = s.runLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		m.Terminate(id)
		return nil, err
	}
	return s, nil
}

func load(req LaunchRequest) (*vm.Program, string, error) {
	if req.Path != "" {
		prog, err := vm.LoadFile(req.Path)
		return prog, req.Path, err
	}
	name := req.Name
	if name == "" {
		name = "inline.dasm"
	}
	prog, err := vm.Assemble(name, req.Source)
	return prog, name, err
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return s, nil
}

// List returns all active sessions, oldest first
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Terminate closes a session and forgets it
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return errors.SessionNotFound(id)
	}
	s.Close()
	m.log.V(1).Info("Session terminated", "sessionId", id)
	return nil
}

// Close terminates every session
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
