package share

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
)

// regexPrefix marks a skip-list entry as a regular expression instead
// of a glob.
const regexPrefix = "re:"

// SkipList filters names out of the share during refresh. Entries are
// globs by default; "re:" prefixed entries are RE2 regular expressions.
// Matching is case-insensitive against the name only, not the path.
type SkipList struct {
	globs      []glob.Glob
	regexps    []*regexp.Regexp
	skipHidden bool
}

// NewSkipList compiles the patterns. Invalid entries fail loudly so a
// typo cannot silently widen the share.
func NewSkipList(patterns []string, skipHidden bool) (*SkipList, error) {
	sl := &SkipList{skipHidden: skipHidden}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(p, regexPrefix); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("share: skip list regex %q: %w", expr, err)
			}
			sl.regexps = append(sl.regexps, re)
			continue
		}
		g, err := glob.Compile(pathutil.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("share: skip list glob %q: %w", p, err)
		}
		sl.globs = append(sl.globs, g)
	}
	return sl, nil
}

// Skip reports whether the name is excluded from sharing.
func (sl *SkipList) Skip(name string) bool {
	if sl == nil {
		return false
	}
	if sl.skipHidden && strings.HasPrefix(name, ".") {
		return true
	}
	lower := pathutil.ToLower(name)
	for _, g := range sl.globs {
		if g.Match(lower) {
			return true
		}
	}
	for _, re := range sl.regexps {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
