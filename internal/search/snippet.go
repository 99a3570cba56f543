// Package search is the unified text/semantic/pattern search façade over
// the store, memory layers and embedding service.
package search

import "strings"

// snippetRadius is how many characters of context surround a match site.
const snippetRadius = 80

// Snippet extracts the text around a match site, with ellipsis markers when
// truncated on either side.
func Snippet(text string, matchStart, matchLen int) string {
	if matchStart < 0 || matchStart >= len(text) {
		if len(text) <= 2*snippetRadius {
			return text
		}
		return text[:2*snippetRadius] + "..."
	}

	start := matchStart - snippetRadius
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + snippetRadius
	if end > len(text) {
		end = len(text)
	}

	snippet := text[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet = snippet + "..."
	}
	return snippet
}

// SnippetAround finds the first occurrence of needle (case-insensitive) and
// returns its surrounding snippet, or a prefix when absent.
func SnippetAround(text, needle string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(needle))
	if idx < 0 {
		return Snippet(text, -1, 0)
	}
	return Snippet(text, idx, len(needle))
}
