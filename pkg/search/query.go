package search

import (
	"math"
	"strconv"
	"strings"

	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// ItemType restricts a query to files or directories.
type ItemType int

const (
	ItemAny ItemType = iota
	ItemFile
	ItemDirectory
)

// SizeMode is the NMDC size bound interpretation.
type SizeMode int

const (
	SizeDontCare SizeMode = iota
	SizeAtLeast
	SizeAtMost
	SizeExact
)

// Query is a compiled search. One Query instance serves one index walk;
// the position bookkeeping below is not safe for concurrent use.
type Query struct {
	Include []*Pattern
	Exclude Patterns

	// Ext limits file results to these extensions; NoExt rejects them.
	Ext   []string
	NoExt []string

	// GT/LT are the inclusive size bounds.
	GT int64
	LT int64

	// MinDate/MaxDate bound the file mtime in unix seconds.
	MinDate int64
	MaxDate int64

	// Root short-circuits matching to an exact TTH lookup.
	Root *tth.Value

	MaxResults int
	ItemType   ItemType

	// Recursion carries token matches collected from ancestor
	// directories during an index walk.
	Recursion *Recursion

	lastPositions []int
	lastMatches   int
}

func newQuery() *Query {
	return &Query{LT: math.MaxInt64, MaxDate: math.MaxInt64}
}

// ParseSearchString splits a user search string into tokens, honoring
// double quotes.
func ParseSearchString(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			flush()
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// SerializeSearchString renders tokens back into a search string,
// quoting tokens that contain spaces.
func SerializeSearchString(tokens []string) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if strings.ContainsRune(t, ' ') {
			sb.WriteByte('"')
			sb.WriteString(t)
			sb.WriteByte('"')
		} else {
			sb.WriteString(t)
		}
	}
	return sb.String()
}

// NewTTHQuery builds an exact content lookup.
func NewTTHQuery(root tth.Value, maxResults int) *Query {
	q := newQuery()
	q.Root = &root
	q.MaxResults = maxResults
	return q
}

// NewNMDCQuery compiles an NMDC-style search. Tokens prefixed with '-'
// become excludes; TypeTTH expects the term to be a base32 root.
func NewNMDCQuery(term string, sizeMode SizeMode, size int64, typeMode TypeMode, maxResults int) *Query {
	q := newQuery()
	q.MaxResults = maxResults

	if typeMode == TypeTTH {
		if root, err := tth.FromBase32(term); err == nil {
			q.Root = &root
		}
		return q
	}

	var include, exclude []string
	for _, tok := range ParseSearchString(term) {
		if rest, ok := strings.CutPrefix(tok, "-"); ok && rest != "" {
			exclude = append(exclude, rest)
		} else if tok != "-" {
			include = append(include, tok)
		}
	}
	q.Include = NewPatterns(include)
	q.Exclude = NewPatterns(exclude)

	switch sizeMode {
	case SizeAtLeast:
		q.GT = size
	case SizeAtMost:
		q.LT = size
	case SizeExact:
		q.GT, q.LT = size, size
	}

	switch typeMode {
	case TypeDirectory:
		q.ItemType = ItemDirectory
	case TypeAny:
	case TypeFile:
		q.ItemType = ItemFile
	default:
		q.ItemType = ItemFile
		for _, ext := range typeExtensions[typeMode] {
			q.Ext = append(q.Ext, ext)
		}
	}

	q.prepare()
	return q
}

// NewADCQuery compiles a pre-parsed ADC SCH parameter list (AN, NO, EX,
// GR, RX, LE, GE, DL, DG, TR, TY).
func NewADCQuery(params []string, maxResults int) *Query {
	q := newQuery()
	q.MaxResults = maxResults

	var include []string
	var exclude []string
	for _, p := range params {
		if len(p) < 2 {
			continue
		}
		code, value := p[:2], p[2:]
		switch code {
		case "AN":
			include = append(include, value)
		case "NO":
			exclude = append(exclude, value)
		case "EX":
			q.Ext = append(q.Ext, strings.ToLower(value))
		case "GR":
			if mode, err := strconv.Atoi(value); err == nil {
				q.Ext = append(q.Ext, typeExtensions[adcGroupType(mode)]...)
			}
		case "RX":
			q.NoExt = append(q.NoExt, strings.ToLower(value))
		case "LE":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				q.LT = n
			}
		case "GE":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				q.GT = n
			}
		case "EQ":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				q.GT, q.LT = n, n
			}
		case "DL":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				q.MaxDate = n
			}
		case "DG":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				q.MinDate = n
			}
		case "TR":
			if root, err := tth.FromBase32(value); err == nil {
				q.Root = &root
			}
		case "TY":
			switch value {
			case "1":
				q.ItemType = ItemFile
			case "2":
				q.ItemType = ItemDirectory
			}
		}
	}
	q.Include = NewPatterns(include)
	q.Exclude = NewPatterns(exclude)
	q.prepare()
	return q
}

// adcGroupType maps the ADC GR extension-group bitmask position to the
// NMDC extension class carrying the same file kinds.
func adcGroupType(mode int) TypeMode {
	switch mode {
	case 1:
		return TypeAudio
	case 2:
		return TypeCompressed
	case 4:
		return TypeDocument
	case 8:
		return TypeExecutable
	case 16:
		return TypePicture
	case 32:
		return TypeVideo
	}
	return TypeAny
}

func (q *Query) prepare() {
	q.lastPositions = make([]int, len(q.Include))
	q.ResetPositions()
}

// ResetPositions clears match bookkeeping from the previous item.
func (q *Query) ResetPositions() {
	for i := range q.lastPositions {
		q.lastPositions[i] = -1
	}
	q.lastMatches = 0
}

// LastPositions returns the per-token match positions from the latest
// MatchDirectoryLower/MatchFileLower call; -1 marks an unmatched token.
func (q *Query) LastPositions() []int { return q.lastPositions }

// PositionsComplete reports whether every include token matched the
// latest item on its own.
func (q *Query) PositionsComplete() bool {
	return q.lastMatches == len(q.Include)
}

// matchStr matches all include tokens against one lowercase string,
// recording positions.
func (q *Query) matchStr(textLower string) {
	q.ResetPositions()
	for i, p := range q.Include {
		if pos := p.MatchLower(textLower, 0); pos >= 0 {
			q.lastPositions[i] = pos
			q.lastMatches++
		}
	}
}

// MatchDirectoryLower reports whether any include token occurs in the
// directory name. Positions are stored for recursion bookkeeping.
func (q *Query) MatchDirectoryLower(nameLower string) bool {
	if len(q.Include) == 0 {
		return false
	}
	q.matchStr(nameLower)
	return q.lastMatches > 0
}

// MatchFileLower reports whether the file is a valid result considering
// the tokens matched along the ancestor path. Size, date, extension and
// exclusion filters all apply.
func (q *Query) MatchFileLower(nameLower string, size, date int64) bool {
	if q.ItemType == ItemDirectory || len(q.Include) == 0 {
		return false
	}
	q.matchStr(nameLower)
	if !q.Complete() {
		return false
	}
	if !q.MatchesSize(size) || !q.MatchesDate(date) {
		return false
	}
	if q.Exclude.MatchAnyLower(nameLower) {
		return false
	}
	return q.MatchesFileExt(nameLower)
}

// Complete reports whether every token matched the current item or an
// ancestor directory recorded in the recursion state.
func (q *Query) Complete() bool {
	if q.PositionsComplete() {
		return true
	}
	if q.Recursion == nil {
		return false
	}
	for i, pos := range q.lastPositions {
		if pos < 0 && !q.Recursion.Matched(i) {
			return false
		}
	}
	return true
}

// MatchesSize tests the size bounds.
func (q *Query) MatchesSize(size int64) bool {
	return size >= q.GT && size <= q.LT
}

// MatchesDate tests the mtime bounds; zero dates always pass.
func (q *Query) MatchesDate(date int64) bool {
	return date == 0 || (date >= q.MinDate && date <= q.MaxDate)
}

// MatchesFileExt applies the extension include/exclude lists.
func (q *Query) MatchesFileExt(nameLower string) bool {
	ext := extensionOf(nameLower)
	for _, e := range q.NoExt {
		if ext == e {
			return false
		}
	}
	if len(q.Ext) == 0 {
		return true
	}
	for _, e := range q.Ext {
		if ext == e {
			return true
		}
	}
	return false
}

// IsExcluded tests the exclude patterns against any-cased text.
func (q *Query) IsExcluded(text string) bool {
	return q.Exclude.MatchAny(text)
}
