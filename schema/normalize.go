package schema

import "strings"

// NormalizeLanguage canonicalizes a language tag: trimmed, lowercased,
// defaulting to DefaultLanguage when empty.
func NormalizeLanguage(lang Language) Language {
	out := Language(strings.ToLower(strings.TrimSpace(string(lang))))
	if out == "" {
		return DefaultLanguage
	}
	return out
}

// NormalizeCursor repairs a cursor report so the stored and broadcast state
// always satisfies 0 <= SelectionStart <= SelectionEnd. Reversed selections
// are swapped rather than rejected; negative offsets are clamped to zero.
// Offsets are not validated against the current document length: a stale
// report referencing a position beyond a now-shorter document passes through
// as-is, since the sender clamped against the document it knew about.
func NormalizeCursor(c CursorState) CursorState {
	if c.Position < 0 {
		c.Position = 0
	}
	if c.SelectionStart < 0 {
		c.SelectionStart = 0
	}
	if c.SelectionEnd < 0 {
		c.SelectionEnd = 0
	}
	if c.SelectionStart > c.SelectionEnd {
		c.SelectionStart, c.SelectionEnd = c.SelectionEnd, c.SelectionStart
	}
	return c
}
