// Package pty abstracts over the OS pseudo-terminal. It is the sole
// permitted owner of OS pty resources; every other package manipulates a
// spawned shell only through the Adapter/PTY interfaces below.
package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Subscription disposes a registered data/exit handler.
type Subscription interface {
	Dispose()
}

// PTY is a running pseudo-terminal-backed process.
type PTY interface {
	// Write sends bytes to the PTY's stdin side.
	Write(data []byte) (int, error)
	// Resize changes the terminal window size.
	Resize(cols, rows int) error
	// Kill sends a signal to the underlying process. nil defaults to SIGHUP.
	Kill(sig os.Signal) error
	// OnData registers a handler invoked for every chunk read from the PTY.
	// Handlers are invoked sequentially from a single internal reader
	// goroutine — callers must not block for long inside the handler.
	OnData(func([]byte)) Subscription
	// OnExit registers a handler invoked once, when the underlying process
	// exits (for any reason, including Kill).
	OnExit(func(code int, signaled bool)) Subscription
	// PID returns the PTY-leader process id.
	PID() int
}

// Adapter spawns pseudo-terminal-backed processes.
type Adapter interface {
	Spawn(shell string, args []string, cols, rows int, cwd string, env []string) (PTY, error)
}

// RealAdapter spawns actual OS pseudo-terminals via github.com/creack/pty.
type RealAdapter struct{}

// NewRealAdapter returns the production Adapter.
func NewRealAdapter() *RealAdapter { return &RealAdapter{} }

func (RealAdapter) Spawn(shell string, args []string, cols, rows int, cwd string, env []string) (PTY, error) {
	var cmd *exec.Cmd
	if len(args) > 0 {
		cmd = exec.Command(shell, args...)
	} else {
		cmd = exec.Command(shell)
	}
	cmd.Dir = cwd
	cmd.Env = env

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %s: %w", shell, err)
	}

	p := &realPTY{
		cmd:    cmd,
		master: master,
	}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

type dataHandler struct {
	id int
	fn func([]byte)
}

type exitHandler struct {
	id int
	fn func(code int, signaled bool)
}

type realPTY struct {
	cmd    *exec.Cmd
	master *os.File

	mu          sync.Mutex
	dataSubs    []dataHandler
	exitSubs    []exitHandler
	nextSubID   int
	exitCode    int
	exitSignal  bool
	exited      bool
}

func (p *realPTY) Write(data []byte) (int, error) {
	return p.master.Write(data)
}

func (p *realPTY) Resize(cols, rows int) error {
	return pty.Setsize(p.master, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (p *realPTY) Kill(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	if sig == nil {
		sig = syscall.SIGHUP
	}
	return p.cmd.Process.Signal(sig)
}

func (p *realPTY) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *realPTY) OnData(fn func([]byte)) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.dataSubs = append(p.dataSubs, dataHandler{id: id, fn: fn})
	return &subscription{dispose: func() { p.removeDataSub(id) }}
}

func (p *realPTY) OnExit(fn func(code int, signaled bool)) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	if p.exited {
		code, signaled := p.exitCode, p.exitSignal
		p.mu.Unlock()
		fn(code, signaled)
		p.mu.Lock()
		return &subscription{dispose: func() {}}
	}
	p.exitSubs = append(p.exitSubs, exitHandler{id: id, fn: fn})
	return &subscription{dispose: func() { p.removeExitSub(id) }}
}

func (p *realPTY) removeDataSub(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.dataSubs {
		if h.id == id {
			p.dataSubs = append(p.dataSubs[:i], p.dataSubs[i+1:]...)
			return
		}
	}
}

func (p *realPTY) removeExitSub(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.exitSubs {
		if h.id == id {
			p.exitSubs = append(p.exitSubs[:i], p.exitSubs[i+1:]...)
			return
		}
	}
}

// readLoop is the single logical producer for data callbacks.
func (p *realPTY) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.mu.Lock()
			handlers := append([]dataHandler(nil), p.dataSubs...)
			p.mu.Unlock()
			for _, h := range handlers {
				h.fn(chunk)
			}
		}
		if err != nil {
			if err != io.EOF {
				// A read error other than EOF on a closed pty is routine
				// once the child has exited; nothing to surface here.
				_ = err
			}
			return
		}
	}
}

// waitLoop is the single logical producer for the exit callback.
func (p *realPTY) waitLoop() {
	err := p.cmd.Wait()
	code := 0
	signaled := false
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			signaled = exitErr.ExitCode() == -1
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.exitSignal = signaled
	handlers := append([]exitHandler(nil), p.exitSubs...)
	p.exitSubs = nil
	p.mu.Unlock()

	_ = p.master.Close()

	for _, h := range handlers {
		h.fn(code, signaled)
	}
}

type subscription struct {
	dispose func()
}

func (s *subscription) Dispose() { s.dispose() }
