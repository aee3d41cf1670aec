// Package lexical holds the small text helpers shared by the classifiers
// and responders: tokenizing, vocabulary matching and truncation.
package lexical

import (
	"strings"
	"unicode"
)

// Normalize lowercases and trims text.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Tokens splits lowercased text into words. Hyphens and apostrophes stay
// inside words so "trade-off" and "machine-learning" remain single tokens.
func Tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
}

// Matcher tests vocabulary against one normalized text.
type Matcher struct {
	text   string
	tokens map[string]bool
	order  []string
}

// NewMatcher normalizes s and indexes its tokens.
func NewMatcher(s string) *Matcher {
	text := Normalize(s)
	order := Tokens(text)
	set := make(map[string]bool, len(order))
	for _, t := range order {
		set[t] = true
	}
	return &Matcher{text: text, tokens: set, order: order}
}

// Text returns the normalized text.
func (m *Matcher) Text() string { return m.text }

// Tokens returns the tokens in order of appearance.
func (m *Matcher) Tokens() []string { return m.order }

// Has reports whether w occurs. Words must equal a whole token; entries
// containing a space are matched as phrases.
func (m *Matcher) Has(w string) bool {
	if strings.Contains(w, " ") {
		return strings.Contains(m.text, w)
	}
	return m.tokens[w]
}

// Any reports whether any vocabulary entry occurs.
func (m *Matcher) Any(vocab []string) bool {
	return m.First(vocab) != ""
}

// First returns the first vocabulary entry that occurs, or "".
func (m *Matcher) First(vocab []string) string {
	for _, w := range vocab {
		if m.Has(w) {
			return w
		}
	}
	return ""
}

// Contains reports whether the normalized text contains sub.
func (m *Matcher) Contains(sub string) bool {
	return strings.Contains(m.text, sub)
}

// Significant returns tokens longer than minLen that are not in stop.
func (m *Matcher) Significant(minLen int, stop map[string]bool) []string {
	var out []string
	for _, t := range m.order {
		if len(t) > minLen && !stop[t] {
			out = append(out, t)
		}
	}
	return out
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Set builds a lookup set from words.
func Set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
