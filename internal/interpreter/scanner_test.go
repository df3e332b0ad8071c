package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_StandardOSCPassesThroughUnstripped(t *testing.T) {
	var s Scanner
	raw := "hello \x1b]0;window-title\a world"
	cleaned, events := s.Feed([]byte(raw))

	assert.Equal(t, raw, string(cleaned), "standard OSC must pass through byte-for-byte")
	require.Len(t, events, 1)
	assert.Equal(t, EventTitle, events[0].Kind)
	assert.Equal(t, "window-title", events[0].Title)
}

func TestScanner_TabminalPrivateMarkersStripped(t *testing.T) {
	var s Scanner
	raw := "before\x1b]1337;TabminalPrompt\aafter"
	cleaned, events := s.Feed([]byte(raw))

	assert.Equal(t, "beforeafter", string(cleaned))
	require.Len(t, events, 1)
	assert.Equal(t, EventPrompt, events[0].Kind)
}

func TestScanner_UnrecognizedPrivateBodyPassesThrough(t *testing.T) {
	var s Scanner
	raw := "\x1b]1337;SomethingElse=1\a"
	cleaned, events := s.Feed([]byte(raw))

	assert.Equal(t, raw, string(cleaned))
	assert.Empty(t, events)
}

func TestScanner_MarkerSplitAcrossTwoChunksIsRecognizedOnce(t *testing.T) {
	full := "\x1b]1337;ExitCode=7;CommandB64=bHM=\a"

	var allEvents []Event
	for split := 1; split < len(full); split++ {
		var sc Scanner
		c1, e1 := sc.Feed([]byte(full[:split]))
		c2, e2 := sc.Feed([]byte(full[split:]))
		assert.Empty(t, c1)
		assert.Empty(t, c2)
		events := append(e1, e2...)
		require.Len(t, events, 1, "split at %d", split)
		assert.Equal(t, EventExit, events[0].Kind)
		assert.Equal(t, 7, events[0].ExitCode)
		allEvents = append(allEvents, events...)
	}
	assert.Len(t, allEvents, len(full)-1)
}

func TestScanner_STTerminatedOSCAlsoRecognized(t *testing.T) {
	var s Scanner
	raw := "\x1b]1337;TabminalPrompt\x1b\\"
	cleaned, events := s.Feed([]byte(raw))

	assert.Empty(t, cleaned)
	require.Len(t, events, 1)
	assert.Equal(t, EventPrompt, events[0].Kind)
}

func TestScanner_EscNotFollowedByBracketIsOrdinaryText(t *testing.T) {
	var s Scanner
	raw := "\x1bXtext"
	cleaned, _ := s.Feed([]byte(raw))
	assert.Equal(t, raw, string(cleaned))
}

func TestScanner_CwdMarkerParsed(t *testing.T) {
	var s Scanner
	raw := "\x1b]7;file:///home/dev/project\a"
	_, events := s.Feed([]byte(raw))

	require.Len(t, events, 1)
	assert.Equal(t, EventCwd, events[0].Kind)
	assert.Equal(t, "file:///home/dev/project", events[0].CwdURL)
}
