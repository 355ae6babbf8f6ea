package share

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// bloomGramLen is the window length hashed into the filter. Query terms
// shorter than one window cannot be excluded and always pass.
const bloomGramLen = 5

// bloomBitsPerEntry and bloomHashes fix the filter geometry; sized for
// a low false-positive rate at typical share token counts.
const (
	bloomBitsPerEntry = 20
	bloomHashes       = 5
)

// nameBloom answers "might this substring occur in any indexed name?"
// with guaranteed true negatives. Every lowercase name is added as its
// sliding windows of bloomGramLen bytes, so the filter supports
// substring queries, not just whole-token ones.
type nameBloom struct {
	filter  *bloom.BloomFilter
	entries uint
}

func newNameBloom(expectedTokens uint) *nameBloom {
	if expectedTokens < 1024 {
		expectedTokens = 1024
	}
	return &nameBloom{
		filter: bloom.New(expectedTokens*bloomBitsPerEntry, bloomHashes),
	}
}

// add indexes one lowercase name. The whole name is windowed rather
// than its tokens, so a term spanning a token boundary still passes.
func (b *nameBloom) add(nameLower string) {
	b.entries++
	if len(nameLower) < bloomGramLen {
		b.filter.AddString(nameLower)
		return
	}
	for i := 0; i+bloomGramLen <= len(nameLower); i++ {
		b.filter.AddString(nameLower[i : i+bloomGramLen])
	}
}

// mightContain reports whether the lowercase query term can occur as a
// substring of any indexed name. Short terms always pass.
func (b *nameBloom) mightContain(termLower string) bool {
	if len(termLower) < bloomGramLen {
		return true
	}
	for i := 0; i+bloomGramLen <= len(termLower); i++ {
		if !b.filter.TestString(termLower[i : i+bloomGramLen]) {
			return false
		}
	}
	return true
}
