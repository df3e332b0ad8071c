package session

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabminal/tabminal/internal/prober"
	"github.com/tabminal/tabminal/internal/pty"
)

// fakePTY is an in-memory pty.PTY for exercising Session without spawning a
// real shell.
type fakePTY struct {
	mu       sync.Mutex
	written  [][]byte
	dataSubs []func([]byte)
	exitSubs []func(int, bool)
	resized  [][2]int
	killed   bool
}

func (f *fakePTY) Write(data []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), data...))
	f.mu.Unlock()
	return len(data), nil
}

func (f *fakePTY) Resize(cols, rows int) error {
	f.mu.Lock()
	f.resized = append(f.resized, [2]int{cols, rows})
	f.mu.Unlock()
	return nil
}

func (f *fakePTY) Kill(sig os.Signal) error {
	f.mu.Lock()
	f.killed = true
	subs := append([]func(int, bool){}, f.exitSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(0, false)
	}
	return nil
}

func (f *fakePTY) OnData(fn func([]byte)) pty.Subscription {
	f.mu.Lock()
	f.dataSubs = append(f.dataSubs, fn)
	f.mu.Unlock()
	return noopSub{}
}

func (f *fakePTY) OnExit(fn func(int, bool)) pty.Subscription {
	f.mu.Lock()
	f.exitSubs = append(f.exitSubs, fn)
	f.mu.Unlock()
	return noopSub{}
}

func (f *fakePTY) PID() int { return 4242 }

func (f *fakePTY) emit(data []byte) {
	f.mu.Lock()
	subs := append([]func([]byte){}, f.dataSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(data)
	}
}

type noopSub struct{}

func (noopSub) Dispose() {}

type fakeAdapter struct {
	pty *fakePTY
}

func (a *fakeAdapter) Spawn(shell string, args []string, cols, rows int, cwd string, env []string) (pty.PTY, error) {
	return a.pty, nil
}

// fakeSink records every Message written to it.
type fakeSink struct {
	mu   sync.Mutex
	msgs []Message
	done chan struct{}
}

func newFakeSink() *fakeSink { return &fakeSink{done: make(chan struct{}, 64)} }

func (f *fakeSink) Write(m Message) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSink) snapshot() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.msgs...)
}

func waitForCount(t *testing.T, sink *fakeSink, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(sink.snapshot()) >= n {
			return
		}
		select {
		case <-sink.done:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(sink.snapshot()))
		}
	}
}

func newTestSession(t *testing.T) (*Session, *fakePTY) {
	t.Helper()
	fp := &fakePTY{}
	s, err := New(Options{
		ID:            "sess-1",
		Shell:         "/bin/bash",
		Cwd:           "/tmp",
		Cols:          80,
		Rows:          24,
		HistoryLimit:  1024,
		MaxExecutions: 100,
		Adapter:       &fakeAdapter{pty: fp},
		Introspect:    nil, // no prober ticking in tests
		OnExit:        func(id string, code int, signaled bool) {},
		ResizeAll:     func(cols, rows int) {},
	})
	require.NoError(t, err)
	return s, fp
}

func TestSession_AttachGreetingOrder(t *testing.T) {
	s, fp := newTestSession(t)
	fp.emit([]byte("hello "))
	fp.emit([]byte("world"))

	sink := newFakeSink()
	client := NewClientHandle(sink, 16)
	s.Attach(client)
	waitForCount(t, sink, 3)

	msgs := sink.snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, TypeSnapshot, msgs[0].Type)
	assert.Equal(t, "hello world", msgs[0].Data)
	assert.Equal(t, TypeMeta, msgs[1].Type)
	assert.Equal(t, TypeStatus, msgs[2].Type)
	assert.Equal(t, StatusReady, msgs[2].Status)
}

func TestSession_OutputArrivesAfterGreeting(t *testing.T) {
	s, fp := newTestSession(t)
	sink := newFakeSink()
	client := NewClientHandle(sink, 16)
	s.Attach(client)
	waitForCount(t, sink, 3)

	fp.emit([]byte("more data"))
	waitForCount(t, sink, 4)

	msgs := sink.snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, TypeOutput, msgs[3].Type)
	assert.Equal(t, "more data", msgs[3].Data)
}

func TestSession_InputWrittenVerbatimToPTY(t *testing.T) {
	s, fp := newTestSession(t)
	sink := newFakeSink()
	client := NewClientHandle(sink, 16)
	s.Attach(client)
	waitForCount(t, sink, 3)

	payload, _ := json.Marshal(Message{Type: TypeInput, Data: "ls -la\n"})
	s.HandleClientMessage(client, payload)

	fp.mu.Lock()
	require.Len(t, fp.written, 1)
	assert.Equal(t, "ls -la\n", string(fp.written[0]))
	fp.mu.Unlock()
}

func TestSession_ClosedSessionRefusesInput(t *testing.T) {
	s, fp := newTestSession(t)
	fp.Kill(nil) // triggers the exit path synchronously in this fake

	payload, _ := json.Marshal(Message{Type: TypeInput, Data: "echo hi\n"})
	s.HandleClientMessage(&ClientHandle{}, payload)

	fp.mu.Lock()
	assert.Empty(t, fp.written)
	fp.mu.Unlock()
}

func TestSession_PingRepliesOnlyToSender(t *testing.T) {
	s, _ := newTestSession(t)
	sinkA, sinkB := newFakeSink(), newFakeSink()
	clientA := NewClientHandle(sinkA, 16)
	clientB := NewClientHandle(sinkB, 16)
	s.Attach(clientA)
	s.Attach(clientB)
	waitForCount(t, sinkA, 3)
	waitForCount(t, sinkB, 3)

	payload, _ := json.Marshal(Message{Type: TypePing})
	s.HandleClientMessage(clientA, payload)
	waitForCount(t, sinkA, 4)

	assert.Len(t, sinkA.snapshot(), 4)
	assert.Equal(t, TypePong, sinkA.snapshot()[3].Type)
	assert.Len(t, sinkB.snapshot(), 3, "ping must not be broadcast to other clients")
}

func TestSession_ResizeRejectsInvalidDimensions(t *testing.T) {
	var got [][2]int
	fp := &fakePTY{}
	s, err := New(Options{
		ID:            "sess-resize",
		Shell:         "/bin/bash",
		Cwd:           "/tmp",
		Cols:          80,
		Rows:          24,
		HistoryLimit:  1024,
		MaxExecutions: 100,
		Adapter:       &fakeAdapter{pty: fp},
		ResizeAll: func(cols, rows int) {
			got = append(got, [2]int{cols, rows})
		},
	})
	require.NoError(t, err)

	sink := newFakeSink()
	client := NewClientHandle(sink, 16)
	s.Attach(client)
	waitForCount(t, sink, 3)

	bad, _ := json.Marshal(map[string]any{"type": "resize", "cols": -5, "rows": "bad"})
	s.HandleClientMessage(client, bad)
	assert.Empty(t, got)

	good, _ := json.Marshal(Message{Type: TypeResize, Cols: 200, Rows: 40})
	s.HandleClientMessage(client, good)
	require.Len(t, got, 1)
	assert.Equal(t, [2]int{200, 40}, got[0])
}

func TestSession_HistoryTruncatesFromHead(t *testing.T) {
	s, fp := newTestSession(t)
	s.historyLimit = 5

	fp.emit([]byte("abcde"))
	fp.emit([]byte("f"))

	s.mu.Lock()
	h := string(s.history)
	s.mu.Unlock()
	assert.Equal(t, "bcdef", h)
	assert.Len(t, h, 5)
}

func TestSession_PTYExitBroadcastsTerminatedOnce(t *testing.T) {
	s, fp := newTestSession(t)
	sink := newFakeSink()
	client := NewClientHandle(sink, 16)
	s.Attach(client)
	waitForCount(t, sink, 3)

	fp.Kill(nil)
	waitForCount(t, sink, 4)

	msgs := sink.snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, TypeStatus, msgs[3].Type)
	assert.Equal(t, StatusTerminated, msgs[3].Status)

	_ = s
}

func TestSession_DisposeIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	assert.NotPanics(t, func() {
		s.Dispose()
		s.Dispose()
	})
}

func TestSession_ProbeOnceFallsBackToShellBasenameWithNoDescendant(t *testing.T) {
	fp := &fakePTY{}
	s, err := New(Options{
		ID:            "sess-prober",
		Shell:         "/bin/zsh",
		Cwd:           "/tmp",
		Cols:          80,
		Rows:          24,
		HistoryLimit:  1024,
		MaxExecutions: 100,
		Adapter:       &fakeAdapter{pty: fp},
		Introspect:    emptyIntrospection{},
	})
	require.NoError(t, err)
	defer s.Dispose()

	s.probeOnce()
	summary := s.Summary()
	assert.Equal(t, "zsh", summary.Title)
}

type emptyIntrospection struct{}

func (emptyIntrospection) DeepestDescendant(pid int) (int, bool) { return pid, false }
func (emptyIntrospection) Args(pid int) ([]string, bool)         { return nil, false }
func (emptyIntrospection) Environ(pid int) (string, bool)        { return "", false }
func (emptyIntrospection) Cwd(pid int) (string, bool)            { return "", false }

var _ prober.ProcessIntrospection = emptyIntrospection{}
