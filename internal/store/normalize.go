package store

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// NormalizeContent canonicalizes text for near-duplicate detection: CRLF to
// LF, NBSP to space, whitespace runs collapsed, leading/trailing trimmed.
// Clients resending the same message after an edit of invisible characters
// must hash to the same key.
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, " ", " ")

	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// TitleFromContent derives a conversation title from the first user message:
// up to 20 display columns, then an ellipsis. Wide runes (CJK) count double
// so titles line up in terminal and web lists.
func TitleFromContent(content string) string {
	flat := NormalizeContent(content)
	if flat == "" {
		return "New conversation"
	}
	if runewidth.StringWidth(flat) <= 20 {
		return flat
	}
	return runewidth.Truncate(flat, 20, "") + "…"
}
