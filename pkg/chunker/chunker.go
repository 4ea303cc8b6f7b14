package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLen leaves headroom under Discord's 2000 character message cap.
const DefaultMaxLen = 1900

// Split breaks text into ordered chunks of at most maxLen bytes. Split points
// prefer paragraph breaks, then line breaks, then spaces, then a hard cut.
// A candidate break before the midpoint is rejected so a long run without
// early separators cannot produce a degenerate tiny first chunk.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxLen {
		cut := splitPoint(remaining, maxLen)
		if c := strings.TrimSpace(remaining[:cut]); c != "" {
			chunks = append(chunks, c)
		}
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func splitPoint(s string, maxLen int) int {
	window := s[:maxLen]
	mid := maxLen / 2

	if i := strings.LastIndex(window, "\n\n"); i >= mid {
		return i
	}
	if i := strings.LastIndex(window, "\n"); i >= mid {
		return i
	}
	if i := strings.LastIndex(window, " "); i >= mid {
		return i
	}

	// Hard cut, backed off to a rune boundary.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxLen
	}
	return cut
}
