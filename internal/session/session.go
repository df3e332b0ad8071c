// Package session owns one PTY-backed shell, its client set, and the
// derived metadata/history/execution state recovered from its byte stream.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabminal/tabminal/internal/interpreter"
	"github.com/tabminal/tabminal/internal/prober"
	"github.com/tabminal/tabminal/internal/pty"
)

// Options configures a new Session. The Registry is the intended caller;
// OnExit and ResizeAll are the session's only route back to it, per the
// weak-back-reference design for the Session↔Registry cycle.
type Options struct {
	ID  string
	Cwd string

	Shell     string
	ShellArgs []string
	ShellEnv  []string
	RCCleanup func()

	Cols, Rows int

	HistoryLimit   int
	MaxExecutions  int
	ProberInterval time.Duration

	Adapter    pty.Adapter
	Introspect prober.ProcessIntrospection
	Logger     *zap.Logger

	OnExit    func(id string, code int, signaled bool)
	ResizeAll func(cols, rows int)
}

// Summary is the per-session snapshot returned by Registry.List, per §4.5.
type Summary struct {
	ID            string                       `json:"id"`
	CreatedAt     time.Time                    `json:"createdAt"`
	Shell         string                       `json:"shell"`
	Cwd           string                       `json:"cwd"`
	Title         string                       `json:"title"`
	Env           string                       `json:"env"`
	Cols          int                          `json:"cols"`
	Rows          int                          `json:"rows"`
	Executions    int                          `json:"executions"`
	LastExecution *interpreter.ExecutionRecord `json:"lastExecution,omitempty"`
	Closed        bool                         `json:"closed"`
}

// Session is the single-actor owner of one PTY, its interpreter state, its
// attached clients, and its derived metadata. All mutable state is guarded
// by mu; the three event sources named in §5 (PTY data, client inbound,
// prober) all take mu before touching it, realizing the cooperative-actor
// model as a mutex-guarded object rather than a dedicated goroutine.
type Session struct {
	id         string
	createdAt  time.Time
	shell      string
	initialCwd string

	mu            sync.Mutex
	cols, rows    int
	title, cwd    string
	env           string
	history       []byte
	historyLimit  int
	interp        *interpreter.Interpreter
	lastExecution *interpreter.ExecutionRecord
	executions    []interpreter.ExecutionRecord
	maxExecutions int
	clients       map[*ClientHandle]struct{}
	closed        bool

	ptyHandle pty.PTY
	dataSub   pty.Subscription
	exitSub   pty.Subscription
	rcCleanup func()

	introspect   prober.ProcessIntrospection
	proberCancel context.CancelFunc

	onExit    func(id string, code int, signaled bool)
	resizeAll func(cols, rows int)

	disposeOnce sync.Once
	logger      *zap.Logger
}

// New spawns the PTY and returns an attachable Session. The PTY's initial
// geometry comes from opts.Cols/Rows; callers are responsible for sourcing
// those from the Registry's last-known geometry per §4.5.
func New(opts Options) (*Session, error) {
	p, err := opts.Adapter.Spawn(opts.Shell, opts.ShellArgs, opts.Cols, opts.Rows, opts.Cwd, opts.ShellEnv)
	if err != nil {
		return nil, fmt.Errorf("session: spawn %s: %w", opts.Shell, err)
	}

	s := &Session{
		id:            opts.ID,
		createdAt:     time.Now(),
		shell:         opts.Shell,
		initialCwd:    opts.Cwd,
		cols:          opts.Cols,
		rows:          opts.Rows,
		title:         filepath.Base(opts.Shell),
		historyLimit:  opts.HistoryLimit,
		maxExecutions: opts.MaxExecutions,
		interp:        interpreter.NewInterpreter(),
		clients:       make(map[*ClientHandle]struct{}),
		ptyHandle:     p,
		rcCleanup:     opts.RCCleanup,
		introspect:    opts.Introspect,
		onExit:        opts.OnExit,
		resizeAll:     opts.ResizeAll,
		logger:        opts.Logger,
	}

	s.dataSub = p.OnData(s.handlePTYData)
	s.exitSub = p.OnExit(s.handlePTYExit)

	proberCtx, cancel := context.WithCancel(context.Background())
	s.proberCancel = cancel
	interval := opts.ProberInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if s.introspect != nil {
		go s.runProber(proberCtx, interval)
	}

	return s, nil
}

// ID returns the session's immutable identifier.
func (s *Session) ID() string { return s.id }

// PID exposes the PTY-leader process id, for the prober and diagnostics.
func (s *Session) PID() int { return s.ptyHandle.PID() }

// Attach registers client and performs the atomic greeting protocol of
// §4.4: snapshot, meta, status — in that order, before releasing the
// session's lock, so no interleaved output/meta can land between them.
func (s *Session) Attach(client *ClientHandle) {
	s.mu.Lock()
	s.clients[client] = struct{}{}

	client.Send(Message{Type: TypeSnapshot, Data: string(s.history)})
	client.Send(Message{Type: TypeMeta, Title: s.title, Cwd: s.cwd, Env: s.env, Cols: s.cols, Rows: s.rows})
	if s.closed {
		client.Send(Message{Type: TypeStatus, Status: StatusTerminated})
	} else {
		client.Send(Message{Type: TypeStatus, Status: StatusReady})
	}
	s.mu.Unlock()
}

// Detach removes client from the session's set without closing it; the
// transport owner decides the handle's fate, per §4.4's Dispose contract.
func (s *Session) Detach(client *ClientHandle) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

// HandleClientMessage applies one client→session frame per §4.4. Malformed
// or unknown messages are silently ignored, per §7.
func (s *Session) HandleClientMessage(client *ClientHandle, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case TypeInput:
		s.writeInput([]byte(msg.Data))
	case TypeResize:
		s.requestResize(msg.Cols, msg.Rows)
	case TypePing:
		client.Send(Message{Type: TypePong})
	}
}

func (s *Session) writeInput(data []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || len(data) == 0 {
		return
	}
	if _, err := s.ptyHandle.Write(data); err != nil && s.logger != nil {
		s.logger.Debug("session: write to pty failed", zap.String("session", s.id), zap.Error(err))
	}
}

// requestResize validates and forwards a client resize request to the
// Registry's global resize path, per §4.4's geometry-coupling contract.
// Both dimensions must be positive integers ≤ 500.
func (s *Session) requestResize(cols, rows int) {
	if cols <= 0 || rows <= 0 || cols > 500 || rows > 500 {
		return
	}
	if s.resizeAll != nil {
		s.resizeAll(cols, rows)
	}
}

// Resize applies a geometry change to this session's PTY and broadcasts
// the resulting meta. Called only from the Registry's serialization point.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cols, s.rows = cols, rows
	meta := s.metaLocked()
	s.mu.Unlock()

	if err := s.ptyHandle.Resize(cols, rows); err != nil && s.logger != nil {
		s.logger.Debug("session: resize failed", zap.String("session", s.id), zap.Error(err))
	}
	s.broadcast(meta)
}

// Summary returns a point-in-time snapshot for Registry.List.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		Shell:         s.shell,
		Cwd:           s.cwd,
		Title:         s.title,
		Env:           s.env,
		Cols:          s.cols,
		Rows:          s.rows,
		Executions:    len(s.executions),
		LastExecution: s.lastExecution,
		Closed:        s.closed,
	}
}

// Executions returns a snapshot of the bounded completed-execution list.
func (s *Session) Executions() []interpreter.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interpreter.ExecutionRecord, len(s.executions))
	copy(out, s.executions)
	return out
}

func (s *Session) handlePTYData(chunk []byte) {
	s.mu.Lock()
	cleaned, metas, records := s.interp.Feed(chunk, time.Now())
	s.appendHistoryLocked(cleaned)
	for _, r := range records {
		s.appendExecutionLocked(r)
	}

	var metaChanged bool
	for _, m := range metas {
		if m.Title != nil && *m.Title != s.title {
			s.title = *m.Title
			metaChanged = true
		}
		if m.Cwd != nil && *m.Cwd != s.cwd {
			s.cwd = *m.Cwd
			metaChanged = true
		}
	}
	var meta Message
	if metaChanged {
		meta = s.metaLocked()
	}
	clients := s.clientsLocked()
	s.mu.Unlock()

	if len(cleaned) > 0 {
		out := Message{Type: TypeOutput, Data: string(cleaned)}
		for _, c := range clients {
			c.Send(out)
		}
	}
	if metaChanged {
		for _, c := range clients {
			c.Send(meta)
		}
	}
}

func (s *Session) handlePTYExit(code int, signaled bool) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	clients := s.clientsLocked()
	s.mu.Unlock()

	if !alreadyClosed {
		status := Message{Type: TypeStatus, Status: StatusTerminated, Code: code}
		if signaled {
			status.Signal = "killed"
		}
		for _, c := range clients {
			c.Send(status)
		}
	}

	if s.onExit != nil {
		s.onExit(s.id, code, signaled)
	}
}

// runProber is the periodic foreground-process discovery task of §4.6. It
// runs until proberCancel fires; probe failures never reach the session's
// state — they just skip that tick's meta update.
func (s *Session) runProber(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce()
		}
	}
}

func (s *Session) probeOnce() {
	pid := s.ptyHandle.PID()
	if pid == 0 {
		return
	}
	info, found := prober.Probe(s.introspect, pid)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var changed bool
	title := info.Title
	if !found {
		title = filepath.Base(s.shell)
	}
	if title != "" && title != s.title {
		s.title = title
		changed = true
	}
	if info.Cwd != "" && info.Cwd != s.cwd {
		s.cwd = info.Cwd
		changed = true
	}
	if info.Env != s.env {
		s.env = info.Env
		changed = true
	}
	var meta Message
	if changed {
		meta = s.metaLocked()
	}
	clients := s.clientsLocked()
	s.mu.Unlock()

	if changed {
		for _, c := range clients {
			c.Send(meta)
		}
	}
}

// Dispose stops the prober, unsubscribes from the PTY, detaches every
// client (without closing them), and removes temp rc files, per §4.4. Safe
// to call more than once; only the first call has any effect.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.proberCancel()
		if s.dataSub != nil {
			s.dataSub.Dispose()
		}
		if s.exitSub != nil {
			s.exitSub.Dispose()
		}
		if s.rcCleanup != nil {
			s.rcCleanup()
		}

		s.mu.Lock()
		wasClosed := s.closed
		s.closed = true
		clients := s.clientsLocked()
		s.clients = make(map[*ClientHandle]struct{})
		s.mu.Unlock()

		if !wasClosed {
			status := Message{Type: TypeStatus, Status: StatusTerminated}
			for _, c := range clients {
				c.Send(status)
			}
		}
	})
}

// Terminate signals the underlying PTY process to exit; the resulting
// OnExit callback drives the rest of teardown through handlePTYExit.
func (s *Session) Terminate() {
	_ = s.ptyHandle.Kill(nil)
}

func (s *Session) appendHistoryLocked(cleaned []byte) {
	if len(cleaned) == 0 {
		return
	}
	s.history = append(s.history, cleaned...)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Session) appendExecutionLocked(rec interpreter.ExecutionRecord) {
	s.executions = append(s.executions, rec)
	if over := len(s.executions) - s.maxExecutions; over > 0 {
		s.executions = s.executions[over:]
	}
	r := rec
	s.lastExecution = &r
}

func (s *Session) metaLocked() Message {
	return Message{Type: TypeMeta, Title: s.title, Cwd: s.cwd, Env: s.env, Cols: s.cols, Rows: s.rows}
}

func (s *Session) clientsLocked() []*ClientHandle {
	out := make([]*ClientHandle, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Session) broadcast(msg Message) {
	s.mu.Lock()
	clients := s.clientsLocked()
	s.mu.Unlock()
	for _, c := range clients {
		c.Send(msg)
	}
}
