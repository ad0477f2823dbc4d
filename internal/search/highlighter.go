package search

import (
	"strings"
	"unicode"
)

// DefaultSnippetLength is the snippet size in runes.
const DefaultSnippetLength = 200

// Snippet returns about maxLen runes of content centered on the first query
// term found, or the opening of content when no term matches. Cut ends are
// marked with "...".
func Snippet(content, query string, maxLen int) string {
	runes := []rune(content)
	if maxLen <= 0 || len(runes) <= maxLen {
		return content
	}
	start := 0
	if at := firstTerm(runes, query); at > 0 {
		start = max(0, at-maxLen/4)
		if start+maxLen > len(runes) {
			start = len(runes) - maxLen
		}
		// Back up to a word boundary.
		for start > 0 && !unicode.IsSpace(runes[start-1]) {
			start--
		}
	}
	end := min(start+maxLen, len(runes))
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

// firstTerm returns the rune offset of the earliest case-insensitive match of
// any query word, or -1.
func firstTerm(content []rune, query string) int {
	lower := []rune(strings.ToLower(string(content)))
	if len(lower) != len(content) {
		// Lowercasing changed rune count; offsets would not line up.
		return -1
	}
	hay := string(lower)
	best := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		i := strings.Index(hay, term)
		if i < 0 {
			continue
		}
		pos := len([]rune(hay[:i]))
		if best < 0 || pos < best {
			best = pos
		}
	}
	return best
}
