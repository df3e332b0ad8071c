// Package transport binds the Registry/Session API to a REST+WebSocket
// surface, the concrete realization of spec's external interfaces. Nothing
// in internal/session, internal/registry, internal/interpreter, internal/pty,
// internal/shellintegration, or internal/prober imports this package — the
// dependency runs one way.
package transport

import "github.com/tabminal/tabminal/internal/session"

// heartbeat is the payload for GET /api/heartbeat.
type heartbeat struct {
	Sessions []session.Summary `json:"sessions"`
	System   systemInfo        `json:"system"`
}

// systemInfo is the deliberately opaque snapshot named by the heartbeat
// contract; a general resource monitor is out of scope.
type systemInfo struct {
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}
