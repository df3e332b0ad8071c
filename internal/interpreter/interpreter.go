package interpreter

import (
	"encoding/base64"
	"net/url"
	"strings"
	"time"
)

// MetaChange is a derived title/cwd update, emitted only when the value
// actually changed, per spec §4.3.
type MetaChange struct {
	Title *string
	Cwd   *string
}

// Interpreter is the stateful per-session transducer described in §4.3: it
// wraps a Scanner with the capture state machine that turns exit markers
// into ExecutionRecords, and tracks last-observed title/cwd so only real
// changes are surfaced. A Session owns exactly one Interpreter and calls
// Feed from its single actor; Interpreter itself holds no locks.
type Interpreter struct {
	scanner Scanner

	captureBuffer    []byte
	captureStartedAt time.Time

	lastTitle string
	lastCwd   string
}

// NewInterpreter returns a fresh Interpreter in the IDLE state.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Feed consumes one chunk of raw PTY bytes. now is the caller's clock
// reading, threaded in rather than taken internally so callers (and tests)
// control time deterministically.
func (ip *Interpreter) Feed(chunk []byte, now time.Time) (cleaned []byte, metaChanges []MetaChange, records []ExecutionRecord) {
	cleaned, events := ip.scanner.Feed(chunk)

	pos := 0
	for _, ev := range events {
		ip.appendCapture(cleaned[pos:ev.CleanedOffset], now)
		pos = ev.CleanedOffset

		switch ev.Kind {
		case EventPrompt:
			ip.captureBuffer = nil
			ip.captureStartedAt = time.Time{}

		case EventExit:
			records = append(records, ip.completeExecution(ev, now))
			ip.captureBuffer = nil
			ip.captureStartedAt = time.Time{}

		case EventTitle:
			if ev.Title != ip.lastTitle {
				ip.lastTitle = ev.Title
				title := ev.Title
				metaChanges = append(metaChanges, MetaChange{Title: &title})
			}

		case EventCwd:
			if path, ok := cwdFromFileURL(ev.CwdURL); ok && path != ip.lastCwd {
				ip.lastCwd = path
				cwd := path
				metaChanges = append(metaChanges, MetaChange{Cwd: &cwd})
			}
		}
	}
	ip.appendCapture(cleaned[pos:], now)

	return cleaned, metaChanges, records
}

func (ip *Interpreter) appendCapture(b []byte, now time.Time) {
	if len(b) == 0 {
		return
	}
	if ip.captureStartedAt.IsZero() {
		ip.captureStartedAt = now
	}
	ip.captureBuffer = append(ip.captureBuffer, b...)
}

// completeExecution implements §4.3's exit-marker steps 1-3.
func (ip *Interpreter) completeExecution(ev Event, now time.Time) ExecutionRecord {
	var command *string
	decoded, err := base64.StdEncoding.DecodeString(ev.CommandB64)
	if err == nil {
		c := strings.TrimSpace(string(decoded))
		command = &c
	}

	echoTarget := ""
	if command != nil {
		echoTarget = *command
	}
	input, output := isolateEcho(ip.captureBuffer, echoTarget)

	startedAt := ip.captureStartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	exitCode := ev.ExitCode
	return ExecutionRecord{
		Command:     command,
		ExitCode:    &exitCode,
		Input:       input,
		Output:      output,
		StartedAt:   startedAt,
		CompletedAt: now,
	}
}

// cwdFromFileURL parses a "file://host/path" OSC-7 body into its path
// component, per spec §4.3.
func cwdFromFileURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	if u.Path == "" {
		return "", false
	}
	return u.Path, true
}
