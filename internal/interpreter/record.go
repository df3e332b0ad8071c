package interpreter

import (
	"bytes"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// ExecutionRecord is a structured command-execution event recovered from a
// session's raw PTY output, per spec §3.
type ExecutionRecord struct {
	Command     *string
	ExitCode    *int
	Input       string
	Output      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// DurationMs implements spec §3's durationMs = completedAt - startedAt.
func (r ExecutionRecord) DurationMs() int64 {
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// maxEchoSearchTail bounds the unconditional last-occurrence fallback in
// isolateEcho per spec §4.3 ("the remaining tail ≤ 4 KiB").
const maxEchoSearchTail = 4096

// promptTerminators are the bytes that may precede a plausible echo
// occurrence of the command (start-of-buffer also qualifies).
var promptTerminators = []byte{' ', '\t', '$', '>', ':', esc}

// continuationPrefixes are shell continuation-prompt decorations; an echo
// line starting with one of these (after ANSI stripping) is still part of
// the command's input per spec §4.3 step 4.
var continuationPrefixes = []string{">", "+", "quote>", "heredoc>", "ps2>", "?"}

// isolateEcho splits raw captured bytes into (input, output) given the
// decoded command text, per spec §4.3's echo isolation algorithm.
func isolateEcho(buf []byte, command string) (input, output string) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return "", sanitizeForRecord(string(buf))
	}

	var rest []byte
	switch {
	case findEchoOccurrence(buf, cmd) >= 0:
		rest = buf[findEchoOccurrence(buf, cmd):]
	case findUnconditionalLastOccurrence(buf, cmd) >= 0:
		rest = buf[findUnconditionalLastOccurrence(buf, cmd):]
	default:
		if start := simulateLineReconstruction(buf, cmd); start >= 0 {
			rest = buf[start:]
		} else {
			rest = buf
		}
	}

	return splitInputOutput(rest)
}

// findEchoOccurrence returns the start offset of the last occurrence of cmd
// followed by a line break and preceded by a plausible prompt terminator or
// start-of-buffer, or -1 if none qualifies.
func findEchoOccurrence(buf []byte, cmd string) int {
	cmdBytes := []byte(cmd)
	searchFrom := 0
	last := -1

	for {
		idx := bytes.Index(buf[searchFrom:], cmdBytes)
		if idx < 0 {
			break
		}
		abs := searchFrom + idx
		after := abs + len(cmdBytes)

		if _, hasEOL := matchLineBreak(buf, after); hasEOL && isPlausiblePromptBoundary(buf, abs) {
			last = abs
		}
		searchFrom = abs + 1
	}
	return last
}

// findUnconditionalLastOccurrence is the fallback when no boundary-qualified
// occurrence exists: take the last occurrence unconditionally, provided the
// remaining tail is small, or -1 if there is none or the tail is too large.
func findUnconditionalLastOccurrence(buf []byte, cmd string) int {
	cmdBytes := []byte(cmd)
	idx := bytes.LastIndex(buf, cmdBytes)
	if idx < 0 {
		return -1
	}
	after := idx + len(cmdBytes)
	eolLen, _ := matchLineBreak(buf, after)
	tail := len(buf) - (after + eolLen)
	if tail > maxEchoSearchTail {
		return -1
	}
	return idx
}

func matchLineBreak(buf []byte, at int) (length int, ok bool) {
	if at >= len(buf) {
		return 0, false
	}
	if buf[at] == '\r' {
		if at+1 < len(buf) && buf[at+1] == '\n' {
			return 2, true
		}
		return 1, true
	}
	if buf[at] == '\n' {
		return 1, true
	}
	return 0, false
}

func isPlausiblePromptBoundary(buf []byte, at int) bool {
	if at == 0 {
		return true
	}
	prev := buf[at-1]
	for _, t := range promptTerminators {
		if prev == t {
			return true
		}
	}
	// UTF-8 prompt glyphs (❯) are multi-byte; check the rune, not just
	// the trailing byte.
	r, _ := lastRune(buf[:at])
	return r == '❯'
}

func lastRune(b []byte) (rune, int) {
	if len(b) == 0 {
		return 0, 0
	}
	// Walk back to the start of the final UTF-8 sequence.
	i := len(b) - 1
	for i > 0 && b[i]&0xC0 == 0x80 {
		i--
	}
	runes := []rune(string(b[i:]))
	if len(runes) == 0 {
		return 0, 0
	}
	return runes[len(runes)-1], len(b) - i
}

// simulateLineReconstruction is the last-resort fallback per spec §4.3: walk
// the buffer maintaining a logical current line (ANSI CSI/OSC skipped,
// backspace/DEL pops a character, CR/LF flushes the line), and return the
// byte offset where the first flushed line that ends with cmd began, or -1.
func simulateLineReconstruction(buf []byte, cmd string) int {
	var line []rune
	lineStart := 0

	i := 0
	for i < len(buf) {
		b := buf[i]
		switch {
		case b == esc:
			// Skip a CSI ("\x1b[...final") or OSC ("\x1b]...BEL/\x1b\\")
			// sequence entirely; it contributes nothing to the line.
			i += ansiSeqLen(buf[i:])
		case b == '\b' || b == 0x7F: // backspace / DEL
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
			i++
		case b == '\r' || b == '\n':
			if strings.HasSuffix(string(line), cmd) {
				return lineStart
			}
			if b == '\r' && i+1 < len(buf) && buf[i+1] == '\n' {
				i++
			}
			i++
			line = line[:0]
			lineStart = i
		default:
			r, n := decodeRune(buf[i:])
			line = append(line, r)
			i += n
		}
	}
	return -1
}

func decodeRune(b []byte) (rune, int) {
	if len(b) == 0 {
		return 0, 0
	}
	if b[0] < 0x80 {
		return rune(b[0]), 1
	}
	runes := []rune(string(b))
	if len(runes) == 0 {
		return rune(b[0]), 1
	}
	r := runes[0]
	n := len(string(r))
	if n == 0 {
		n = 1
	}
	return r, n
}

// ansiSeqLen returns the byte length of the ANSI escape sequence starting
// at b[0]==ESC, consuming CSI ("\x1b[" ... final byte in 0x40-0x7E) and OSC
// ("\x1b]" ... BEL or ST) forms. Returns at least 1 so callers always make
// progress even on a lone/garbled ESC.
func ansiSeqLen(b []byte) int {
	if len(b) == 0 || b[0] != esc {
		return 1
	}
	if len(b) < 2 {
		return 1
	}
	switch b[1] {
	case '[':
		for i := 2; i < len(b); i++ {
			if b[i] >= 0x40 && b[i] <= 0x7E {
				return i + 1
			}
		}
		return len(b)
	case ']':
		for i := 2; i < len(b); i++ {
			if b[i] == bel {
				return i + 1
			}
			if b[i] == esc && i+1 < len(b) && b[i+1] == '\\' {
				return i + 2
			}
		}
		return len(b)
	default:
		return 2
	}
}

// splitInputOutput normalizes the echoed line and splits the remaining
// buffer into the single-line canonical input (plus any continuation
// lines) and the output that follows, per spec §4.3 steps 3-4.
func splitInputOutput(rest []byte) (input, output string) {
	normalized := normalizeEchoLine(string(rest))
	lines := splitLinesKeepEnds(normalized)

	if len(lines) == 0 {
		return "", ""
	}

	inputEnd := 1
	for inputEnd < len(lines) {
		trimmed := strings.TrimRight(lines[inputEnd], "\r\n")
		plain := strings.TrimSpace(ansi.Strip(trimmed))
		if plain == "" || isContinuationLine(plain) {
			inputEnd++
			continue
		}
		break
	}

	for _, l := range lines[:inputEnd] {
		input += l
	}
	for _, l := range lines[inputEnd:] {
		output += l
	}
	output = sanitizeForRecord(output)
	return input, output
}

func isContinuationLine(plain string) bool {
	for _, p := range continuationPrefixes {
		if strings.HasPrefix(plain, p) {
			return true
		}
	}
	return false
}

// splitLinesKeepEnds splits s into lines, keeping the trailing \r\n/\r/\n
// on each line (needed so input/output reconstruction doesn't lose bytes).
func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		} else if s[i] == '\r' && (i+1 >= len(s) || s[i+1] != '\n') {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// normalizeEchoLine collapses backspaces, drops ANSI sequences, and strips
// stray CRs (any \r not immediately followed by \n) within the first line
// only, per spec §4.3 step 3 — yielding a canonical single-line echo while
// leaving the legitimate line terminator and every later line untouched.
// It is idempotent: applying it twice equals applying it once (§8), since a
// line already free of backspaces/ANSI/stray-CRs is a fixed point.
func normalizeEchoLine(s string) string {
	var term, tail, content string
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		if idx > 0 && s[idx-1] == '\r' {
			content, term = s[:idx-1], s[idx-1:idx+1]
		} else {
			content, term = s[:idx], s[idx:idx+1]
		}
		tail = s[idx+1:]
	} else {
		content = s
	}
	return collapseLine(content) + term + tail
}

// collapseLine applies backspace/DEL popping and ANSI stripping to a single
// logical line's content, dropping any stray \r encountered along the way.
func collapseLine(s string) string {
	var out []rune
	b := []byte(s)
	i := 0
	for i < len(b) {
		switch {
		case b[i] == esc:
			i += ansiSeqLen(b[i:])
		case b[i] == '\b' || b[i] == 0x7F:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			i++
		case b[i] == '\r':
			i++ // stray CR, not part of a terminating CRLF pair
		default:
			r, n := decodeRune(b[i:])
			out = append(out, r)
			i += n
		}
	}
	return string(out)
}

// sanitizeForRecord strips OSC/DCS/CSI/SOS/PM/APC sequences and C0 control
// characters (except tab/LF), normalizes CRLF to LF, and trims trailing
// horizontal whitespace (not the final newline, which is real command
// output). This is used only for ExecutionRecord fields — the broadcast
// stream keeps all styling, per spec §4.3.
func sanitizeForRecord(s string) string {
	stripped := ansi.Strip(s)
	stripped = strings.ReplaceAll(stripped, "\r\n", "\n")
	stripped = strings.ReplaceAll(stripped, "\r", "\n")

	var out []rune
	for _, r := range stripped {
		if r == '\t' || r == '\n' {
			out = append(out, r)
			continue
		}
		if r < 0x20 || r == 0x7F {
			continue
		}
		out = append(out, r)
	}
	return strings.TrimRight(string(out), " \t")
}
