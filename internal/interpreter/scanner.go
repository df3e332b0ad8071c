package interpreter

import (
	"strings"

	"github.com/tabminal/tabminal/internal/shellintegration"
)

const (
	esc = 0x1B
	bel = 0x07
)

// scanState is an incremental OSC scanner, replacing a per-chunk regex scan
// (REDESIGN FLAGS §9) with proper state carried across Feed calls so a
// marker split across two chunks is still recognized exactly once.
type scanState int

const (
	stateText scanState = iota
	stateEsc            // just saw ESC, waiting to see if next byte is ']'
	stateOSC            // inside an OSC body, collecting until a terminator
	stateOSCEsc         // inside an OSC body, saw ESC, waiting for '\' (ST)
)

// EventKind identifies what an OSC sequence meant, beyond being passed
// through to the cleaned byte stream.
type EventKind int

const (
	EventPrompt EventKind = iota // tabminal prompt marker (stripped)
	EventExit                    // tabminal exit marker (stripped)
	EventTitle                   // OSC 0/2 title update (kept in stream)
	EventCwd                    // OSC 7 cwd update (kept in stream)
)

// Event is one interpreted OSC sequence.
type Event struct {
	Kind       EventKind
	ExitCode   int
	CommandB64 string
	Title      string
	CwdURL     string

	// CleanedOffset is the byte offset into this Feed call's returned
	// cleaned slice at which the event occurred: bytes before it in this
	// chunk precede the event, bytes from it onward follow it. Callers
	// that maintain their own running buffer (e.g. a capture buffer) use
	// this to split a chunk's cleaned bytes at each event boundary.
	CleanedOffset int
}

// Scanner is a stateful byte-oriented transducer over successive PTY output
// chunks. It is not safe for concurrent use; each Session owns exactly one.
type Scanner struct {
	state  scanState
	oscBuf []byte
}

// Feed consumes one chunk of raw PTY bytes and returns the cleaned bytes
// (input minus tabminal-private OSC markers, otherwise byte-for-byte
// identical — all other escape sequences, including standard OSC, pass
// through untouched) plus any events recognized in this chunk.
func (s *Scanner) Feed(chunk []byte) (cleaned []byte, events []Event) {
	cleaned = make([]byte, 0, len(chunk))

	i := 0
	for i < len(chunk) {
		b := chunk[i]
		i++

		switch s.state {
		case stateText:
			if b == esc {
				s.state = stateEsc
				continue
			}
			cleaned = append(cleaned, b)

		case stateEsc:
			if b == ']' {
				s.state = stateOSC
				s.oscBuf = s.oscBuf[:0]
				continue
			}
			// Not an OSC introducer; these two bytes were ordinary text
			// (e.g. part of a CSI sequence whose '[' comes next).
			cleaned = append(cleaned, esc, b)
			s.state = stateText

		case stateOSC:
			switch b {
			case bel:
				cleaned = s.finish(cleaned, &events, []byte{bel})
				s.state = stateText
			case esc:
				s.state = stateOSCEsc
			default:
				s.oscBuf = append(s.oscBuf, b)
			}

		case stateOSCEsc:
			if b == '\\' {
				cleaned = s.finish(cleaned, &events, []byte{esc, '\\'})
				s.state = stateText
				continue
			}
			// False alarm: the ESC we buffered was itself OSC body
			// content, not a string terminator. Re-inject it and keep
			// scanning the OSC body with the current byte.
			s.oscBuf = append(s.oscBuf, esc)
			s.state = stateOSC
			i--
		}
	}
	return cleaned, events
}

// finish is called once a terminator is found; it classifies the OSC body
// and either strips it (tabminal-private markers) or appends the full raw
// sequence back onto cleaned, recording any metadata event along the way.
func (s *Scanner) finish(cleaned []byte, events *[]Event, terminator []byte) []byte {
	body := s.oscBuf
	code, rest, hasSep := cutByte(body, ';')
	offset := len(cleaned)

	if code == "1337" {
		if hasSep && rest == shellintegration.PromptBody {
			*events = append(*events, Event{Kind: EventPrompt, CleanedOffset: offset})
			return cleaned // stripped
		}
		if hasSep {
			if ec, cmdB64, ok := parseExitBody(rest); ok {
				*events = append(*events, Event{Kind: EventExit, ExitCode: ec, CommandB64: cmdB64, CleanedOffset: offset})
				return cleaned // stripped
			}
		}
		// Unrecognized 1337 body: not tabminal-private, pass through.
		return appendRaw(cleaned, body, terminator)
	}

	if hasSep && (code == "0" || code == "2") {
		*events = append(*events, Event{Kind: EventTitle, Title: rest, CleanedOffset: offset})
	} else if hasSep && code == "7" {
		*events = append(*events, Event{Kind: EventCwd, CwdURL: rest, CleanedOffset: offset})
	}
	return appendRaw(cleaned, body, terminator)
}

func appendRaw(cleaned []byte, body []byte, terminator []byte) []byte {
	cleaned = append(cleaned, esc, ']')
	cleaned = append(cleaned, body...)
	cleaned = append(cleaned, terminator...)
	return cleaned
}

// cutByte splits body on the first occurrence of sep, returning the part
// before as a string (the OSC numeric code) and the part after as a string.
func cutByte(body []byte, sep byte) (before, after string, ok bool) {
	idx := -1
	for i, b := range body {
		if b == sep {
			idx = i
			break
		}
	}
	if idx < 0 {
		return string(body), "", false
	}
	return string(body[:idx]), string(body[idx+1:]), true
}

// parseExitBody parses "ExitCode=<digits>;CommandB64=<base64>".
func parseExitBody(rest string) (exitCode int, commandB64 string, ok bool) {
	if !strings.HasPrefix(rest, shellintegration.ExitBodyPrefix) {
		return 0, "", false
	}
	rest = rest[len(shellintegration.ExitBodyPrefix):]
	semi := strings.IndexByte(rest, ';')
	if semi < 0 {
		return 0, "", false
	}
	digits := rest[:semi]
	tail := rest[semi+1:]
	if !strings.HasPrefix(tail, shellintegration.CommandB64Prefix) {
		return 0, "", false
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, "", false
		}
		n = n*10 + int(c-'0')
	}
	if digits == "" {
		return 0, "", false
	}
	return n, tail[len(shellintegration.CommandB64Prefix):], true
}
