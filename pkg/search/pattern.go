// Package search implements the query side of share searching: token
// patterns, NMDC and ADC query parsing, and relevance scoring. The
// index traversal itself lives with the share engine.
package search

import "strings"

const shiftTableSize = 256

// Pattern is a case-insensitive substring matcher using a Boyer-Moore
// style bad-character shift keyed on the byte following the window.
// Patterns are compiled once per query and reused across the index walk.
type Pattern struct {
	text  string
	shift [shiftTableSize]uint16
}

// NewPattern compiles a pattern. The needle is lowercased; MatchLower
// callers must supply lowercased haystacks.
func NewPattern(s string) *Pattern {
	p := &Pattern{text: strings.ToLower(s)}
	n := len(p.text)
	def := uint16(min(n+1, 1<<16-1))
	for i := range p.shift {
		p.shift[i] = def
	}
	for i := 0; i < n; i++ {
		p.shift[p.text[i]] = uint16(n - i)
	}
	return p
}

// Text returns the lowercase needle.
func (p *Pattern) Text() string { return p.text }

// Len returns the needle length.
func (p *Pattern) Len() int { return len(p.text) }

// MatchLower returns the index of the first occurrence of the pattern
// in text at or after start, or -1. text must already be lowercase.
func (p *Pattern) MatchLower(text string, start int) int {
	n := len(p.text)
	if n == 0 || start < 0 {
		return -1
	}
	pos := start
	for pos+n <= len(text) {
		i := 0
		for i < n && p.text[i] == text[pos+i] {
			i++
		}
		if i == n {
			return pos
		}
		// Shift on the byte just past the window (Sunday variant);
		// at the text end there is no further window and the search stops.
		if pos+n >= len(text) {
			break
		}
		pos += int(p.shift[text[pos+n]])
	}
	return -1
}

// Patterns is a pattern list with any/all matching.
type Patterns []*Pattern

// NewPatterns compiles all non-empty strings.
func NewPatterns(strs []string) Patterns {
	ps := make(Patterns, 0, len(strs))
	for _, s := range strs {
		if s != "" {
			ps = append(ps, NewPattern(s))
		}
	}
	return ps
}

// MatchAnyLower reports whether any pattern occurs in the lowercase text.
func (ps Patterns) MatchAnyLower(text string) bool {
	for _, p := range ps {
		if p.MatchLower(text, 0) >= 0 {
			return true
		}
	}
	return false
}

// MatchAny lowercases text first.
func (ps Patterns) MatchAny(text string) bool {
	return ps.MatchAnyLower(strings.ToLower(text))
}

// MatchAllLower reports whether every pattern occurs in the lowercase text.
func (ps Patterns) MatchAllLower(text string) bool {
	for _, p := range ps {
		if p.MatchLower(text, 0) < 0 {
			return false
		}
	}
	return true
}
