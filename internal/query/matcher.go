package query

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/csvquery/csvbrowse/internal/rowstream"
)

// Matcher is the row predicate used by search, filtered pages and filtered
// counts: a case-insensitive substring test against the record's JSON text
// (keys and values, column order preserved). A Matcher reuses its buffers
// and must not be shared between queries.
type Matcher struct {
	needle []byte
	buf    []byte
	lower  []byte
}

// NewMatcher returns nil for empty text, which matches every row.
func NewMatcher(text string) *Matcher {
	if text == "" {
		return nil
	}
	return &Matcher{needle: []byte(strings.ToLower(text))}
}

// Match reports whether rec contains the search text.
func (m *Matcher) Match(rec rowstream.Record) bool {
	if m == nil {
		return true
	}
	m.buf = rec.AppendJSON(m.buf[:0])
	m.lower = appendLower(m.lower[:0], m.buf)
	return bytes.Contains(m.lower, m.needle)
}

// Predicate adapts the matcher for rowstream.Filter.
func (m *Matcher) Predicate() rowstream.Predicate {
	if m == nil {
		return nil
	}
	return m.Match
}

// appendLower lowercases src into dst, with an ASCII fast path.
func appendLower(dst, src []byte) []byte {
	for i := 0; i < len(src); i++ {
		if src[i] >= utf8.RuneSelf {
			return append(dst, bytes.ToLower(src)...)
		}
	}
	for _, c := range src {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		dst = append(dst, c)
	}
	return dst
}
