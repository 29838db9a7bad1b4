package pipeline

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"wristrelay/internal/settings"
)

const ellipsis = "..."

// prepare trims and NFC-normalizes s, then cuts it to limit runes with a trailing
// ellipsis. Limits below the ellipsis length are raised to MinTextLimit.
func prepare(s string, limit int) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return truncate(s, limit)
}

func truncate(s string, limit int) string {
	limit = max(limit, settings.MinTextLimit)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(ellipsis)
	cut := 0
	for i := 0; i < keep; i++ {
		_, w := utf8.DecodeRuneInString(s[cut:])
		cut += w
	}
	return strings.TrimRightFunc(s[:cut], isSpace) + ellipsis
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

// splitSubtitle takes a short leading line of text as the subtitle. The line must be
// shorter than the title limit and cover less than 80% of the text.
func splitSubtitle(text string) (subtitle, rest string, ok bool) {
	i := strings.IndexByte(text, '\n')
	if i < 0 {
		return "", text, false
	}
	line := utf8.RuneCountInString(text[:i])
	if line >= settings.TitleLimit || float64(line) >= float64(utf8.RuneCountInString(text))*0.8 {
		return "", text, false
	}
	return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i:]), true
}
