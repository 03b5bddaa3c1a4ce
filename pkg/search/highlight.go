package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"chatsync/pkg/models"
)

// Span is a half-open byte range [Start, End) of a match inside message content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Segment is a piece of content that either matches the query or not.
type Segment struct {
	Text  string
	Match bool
}

// Highlight returns the non-overlapping, case-insensitive occurrences of
// query in content, scanned left to right. Offsets index content bytes.
func Highlight(content, query string) []Span {
	q := []rune(strings.TrimSpace(query))
	if len(q) == 0 || content == "" {
		return nil
	}
	var spans []Span
	for i := 0; i < len(content); {
		if end, ok := matchAt(content, i, q); ok {
			spans = append(spans, Span{Start: i, End: end})
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(content[i:])
		i += size
	}
	return spans
}

func matchAt(s string, i int, q []rune) (int, bool) {
	j := i
	for _, qr := range q {
		if j >= len(s) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(s[j:])
		if !foldEqual(r, qr) {
			return 0, false
		}
		j += size
	}
	return j, true
}

func foldEqual(a, b rune) bool {
	if a == b {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}

// Contains reports whether query occurs in content ignoring case.
func Contains(content, query string) bool {
	q := []rune(strings.TrimSpace(query))
	if len(q) == 0 {
		return true
	}
	for i := 0; i < len(content); {
		if _, ok := matchAt(content, i, q); ok {
			return true
		}
		_, size := utf8.DecodeRuneInString(content[i:])
		i += size
	}
	return false
}

// Filter keeps the messages whose content contains query, in log order.
func Filter(log []models.Message, query string) []models.Message {
	out := make([]models.Message, 0)
	for _, m := range log {
		if Contains(m.Content, query) {
			out = append(out, m)
		}
	}
	return out
}

// Segments splits content along spans for rendering.
func Segments(content string, spans []Span) []Segment {
	var out []Segment
	pos := 0
	for _, sp := range spans {
		if sp.Start < pos || sp.End > len(content) || sp.Start >= sp.End {
			continue
		}
		if sp.Start > pos {
			out = append(out, Segment{Text: content[pos:sp.Start]})
		}
		out = append(out, Segment{Text: content[sp.Start:sp.End], Match: true})
		pos = sp.End
	}
	if pos < len(content) {
		out = append(out, Segment{Text: content[pos:]})
	}
	return out
}
