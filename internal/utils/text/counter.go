// Package text provides utilities for text processing shared by the embedding
// cache, the embedding client and the query pipeline.
// All length limits in this package are expressed in runes, never bytes, so that
// multi-byte input (Chinese, Japanese, emoji) is cut at character boundaries.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// CountRunes counts the number of Unicode characters (runes) in the given text.
//
// Examples:
//
//	CountRunes("hello")      // returns 5
//	CountRunes("こんにちは")   // returns 5
//	CountRunes("")           // returns 0
func CountRunes(text string) int {
	return utf8.RuneCountInString(text)
}

// Normalize returns the canonical form of text used for content identity:
// Unicode NFC, leading and trailing whitespace removed, and every internal
// whitespace run collapsed to a single ASCII space.
//
// Two inputs that differ only in Unicode composition or whitespace layout
// normalize to the same string.
func Normalize(text string) string {
	composed := norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(composed))
	pendingSpace := false
	for _, r := range composed {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsBlank reports whether text contains nothing but whitespace.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// TruncateRunes cuts text to at most max runes. It reports whether anything was cut.
func TruncateRunes(text string, max int) (string, bool) {
	if max <= 0 {
		return "", text != ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text, false
	}
	i := 0
	for pos := range text {
		if i == max {
			return text[:pos], true
		}
		i++
	}
	return text, false
}

// Excerpt trims text and shortens it to max runes, appending "..." when cut.
func Excerpt(text string, max int) string {
	trimmed := strings.TrimSpace(text)
	cut, truncated := TruncateRunes(trimmed, max)
	if truncated {
		return cut + "..."
	}
	return cut
}
