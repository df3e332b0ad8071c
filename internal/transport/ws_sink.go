package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabminal/tabminal/internal/session"
)

// wsSink adapts a *websocket.Conn to session.Sink. gorilla/websocket forbids
// concurrent writes on one connection; mu serializes the ClientHandle's
// writer goroutine against the transport's own ping control frames.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Write(msg session.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}
