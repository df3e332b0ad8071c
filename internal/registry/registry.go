// Package registry owns the map of live Sessions: creation, lookup,
// removal with auto-respawn, and the global resize path every client
// resize funnels through, per spec §4.5.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabminal/tabminal/internal/interpreter"
	"github.com/tabminal/tabminal/internal/prober"
	"github.com/tabminal/tabminal/internal/pty"
	"github.com/tabminal/tabminal/internal/session"
	"github.com/tabminal/tabminal/internal/shellintegration"
)

// Defaults bundles the geometry and per-session tunables a Registry seeds
// every new Session with.
type Defaults struct {
	Shell          string
	Cwd            string
	Env            []string
	Cols, Rows     int
	HistoryLimit   int
	MaxExecutions  int
	ProberInterval time.Duration
}

// Registry is the cross-session serialization point named in §5: every
// mutation of the sessions map, and every geometry change, takes mu.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*session.Session
	lastCols  int
	lastRows  int
	disposing bool

	defaults   Defaults
	adapter    pty.Adapter
	introspect prober.ProcessIntrospection
	logger     *zap.Logger
}

// New returns an empty Registry. Callers typically call Create once right
// away so the auto-respawn invariant ("at least one session exists") holds
// from the start.
func New(defaults Defaults, adapter pty.Adapter, introspect prober.ProcessIntrospection, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*session.Session),
		lastCols:   defaults.Cols,
		lastRows:   defaults.Rows,
		defaults:   defaults,
		adapter:    adapter,
		introspect: introspect,
		logger:     logger,
	}
}

// Create mints a new Session at the Registry's current default geometry.
// PTY spawn failure propagates to the caller; the Registry is left
// unchanged on error, per §7.
func (r *Registry) Create() (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked()
}

func (r *Registry) createLocked() (*session.Session, error) {
	// Opaque random 128-bit hex id, per §3 — uuid.New already draws 128
	// random bits; strip the canonical dashes to get plain hex.
	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	shell := r.defaults.Shell
	args, shellEnv, rcCleanup, err := shellintegration.Installed(shell, id)
	if err != nil {
		return nil, fmt.Errorf("registry: install shell integration: %w", err)
	}

	env := append(append([]string(nil), r.defaults.Env...), shellEnv...)

	s, err := session.New(session.Options{
		ID:             id,
		Cwd:            r.defaults.Cwd,
		Shell:          shell,
		ShellArgs:      args,
		ShellEnv:       env,
		RCCleanup:      rcCleanup,
		Cols:           r.lastCols,
		Rows:           r.lastRows,
		HistoryLimit:   r.defaults.HistoryLimit,
		MaxExecutions:  r.defaults.MaxExecutions,
		ProberInterval: r.defaults.ProberInterval,
		Adapter:        r.adapter,
		Introspect:     r.introspect,
		Logger:         r.logger,
		OnExit: func(sessionID string, code int, signaled bool) {
			r.Remove(sessionID)
		},
		ResizeAll: func(cols, rows int) {
			r.ResizeAll(cols, rows)
		},
	})
	if err != nil {
		if rcCleanup != nil {
			rcCleanup()
		}
		return nil, err
	}

	r.sessions[id] = s
	return s, nil
}

// Get looks up a Session by id.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove disposes and drops the session with id, then — if the map is now
// empty and the Registry isn't disposing — immediately creates exactly one
// replacement, realizing the auto-respawn invariant of §4.5/§8.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	empty := len(r.sessions) == 0
	disposing := r.disposing

	var respawned *session.Session
	var respawnErr error
	if empty && !disposing {
		respawned, respawnErr = r.createLocked()
	}
	r.mu.Unlock()

	s.Dispose()

	if respawnErr != nil && r.logger != nil {
		r.logger.Warn("registry: auto-respawn failed", zap.Error(respawnErr))
	}
	_ = respawned
}

// ResizeAll updates the default geometry and resizes every live session,
// per §4.5's deliberate global-geometry coupling (§9).
func (r *Registry) ResizeAll(cols, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCols, r.lastRows = cols, rows
	for _, s := range r.sessions {
		s.Resize(cols, rows)
	}
}

// List returns a snapshot summary of every live session.
func (r *Registry) List() []session.Summary {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]session.Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

// Executions returns the bounded completed-execution list for id, or nil
// if no such session exists.
func (r *Registry) Executions(id string) ([]interpreter.ExecutionRecord, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return s.Executions(), true
}

// Dispose marks the Registry as shutting down, terminates every session's
// PTY, and clears the map. Auto-respawn is suppressed throughout.
func (r *Registry) Dispose() {
	r.mu.Lock()
	r.disposing = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Terminate()
		s.Dispose()
	}
}
