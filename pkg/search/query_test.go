package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

func TestPatternMatchLower(t *testing.T) {
	t.Run("FindsSubstring", func(t *testing.T) {
		p := NewPattern("needle")
		assert.Equal(t, 5, p.MatchLower("hay, needle, hay", 0))
	})

	t.Run("CaseFoldedNeedle", func(t *testing.T) {
		p := NewPattern("NeEdLe")
		assert.Equal(t, 0, p.MatchLower("needle", 0))
	})

	t.Run("RespectsStart", func(t *testing.T) {
		p := NewPattern("ab")
		assert.Equal(t, 0, p.MatchLower("abab", 0))
		assert.Equal(t, 2, p.MatchLower("abab", 1))
	})

	t.Run("MatchAtTextEnd", func(t *testing.T) {
		p := NewPattern("ab")
		assert.Equal(t, 1, p.MatchLower("xab", 0))
	})

	t.Run("NoMatch", func(t *testing.T) {
		p := NewPattern("zzz")
		assert.Equal(t, -1, p.MatchLower("aaaa", 0))
	})

	t.Run("NeedleLongerThanText", func(t *testing.T) {
		p := NewPattern("abcdef")
		assert.Equal(t, -1, p.MatchLower("abc", 0))
	})
}

func TestParseSearchString(t *testing.T) {
	assert.Equal(t, []string{"2024", "pdf"}, ParseSearchString("2024 pdf"))
	assert.Equal(t, []string{"two words", "single"}, ParseSearchString(`"two words" single`))
	assert.Empty(t, ParseSearchString("   "))

	t.Run("RoundTrip", func(t *testing.T) {
		tokens := []string{"plain", "with space", "tail"}
		assert.Equal(t, tokens, ParseSearchString(SerializeSearchString(tokens)))
	})
}

func TestNewNMDCQuery(t *testing.T) {
	t.Run("IncludeAndExclude", func(t *testing.T) {
		q := NewNMDCQuery("2024 -final pdf", SizeDontCare, 0, TypeAny, 10)
		assert.Len(t, q.Include, 2)
		assert.Len(t, q.Exclude, 1)
	})

	t.Run("SizeBounds", func(t *testing.T) {
		q := NewNMDCQuery("x", SizeAtLeast, 1000, TypeAny, 10)
		assert.True(t, q.MatchesSize(1000))
		assert.False(t, q.MatchesSize(999))

		q = NewNMDCQuery("x", SizeAtMost, 1000, TypeAny, 10)
		assert.True(t, q.MatchesSize(1000))
		assert.False(t, q.MatchesSize(1001))
	})

	t.Run("TTHMode", func(t *testing.T) {
		root := tth.Value{1, 2, 3}
		q := NewNMDCQuery(root.String(), SizeDontCare, 0, TypeTTH, 10)
		require.NotNil(t, q.Root)
		assert.Equal(t, root, *q.Root)
	})

	t.Run("AudioTypeLimitsExtensions", func(t *testing.T) {
		q := NewNMDCQuery("song", SizeDontCare, 0, TypeAudio, 10)
		assert.True(t, q.MatchesFileExt("song.mp3"))
		assert.False(t, q.MatchesFileExt("song.iso"))
	})
}

func TestNewADCQuery(t *testing.T) {
	q := NewADCQuery([]string{"ANreport", "AN2024", "NOdraft", "EXpdf", "GE1024", "LE1048576", "TY1"}, 5)

	assert.Len(t, q.Include, 2)
	assert.Len(t, q.Exclude, 1)
	assert.Equal(t, []string{"pdf"}, q.Ext)
	assert.Equal(t, int64(1024), q.GT)
	assert.Equal(t, int64(1048576), q.LT)
	assert.Equal(t, ItemFile, q.ItemType)

	t.Run("TTHPreFilter", func(t *testing.T) {
		root := tth.Value{7}
		q := NewADCQuery([]string{"TR" + root.String()}, 5)
		require.NotNil(t, q.Root)
		assert.Equal(t, root, *q.Root)
	})

	t.Run("DateBounds", func(t *testing.T) {
		q := NewADCQuery([]string{"ANx", "DG100", "DL200"}, 5)
		assert.True(t, q.MatchesDate(150))
		assert.False(t, q.MatchesDate(99))
		assert.False(t, q.MatchesDate(201))
		assert.True(t, q.MatchesDate(0))
	})
}

func TestMatchFileLower(t *testing.T) {
	t.Run("AllTokensInName", func(t *testing.T) {
		q := NewNMDCQuery("2024 pdf", SizeDontCare, 0, TypeAny, 10)
		assert.True(t, q.MatchFileLower("report 2024 final.pdf", 100, 0))
	})

	t.Run("ExcludeRejects", func(t *testing.T) {
		q := NewNMDCQuery("2024 -final pdf", SizeDontCare, 0, TypeAny, 10)
		assert.False(t, q.MatchFileLower("report 2024 final.pdf", 100, 0))
	})

	t.Run("ZeroIncludeTokensNeverMatch", func(t *testing.T) {
		q := NewNMDCQuery("", SizeDontCare, 0, TypeAny, 10)
		assert.False(t, q.MatchFileLower("anything.bin", 1, 0))
	})

	t.Run("AncestorCompletesMatch", func(t *testing.T) {
		q := NewNMDCQuery("albums flac", SizeDontCare, 0, TypeAny, 10)

		require.True(t, q.MatchDirectoryLower("albums"))
		require.False(t, q.PositionsComplete())
		q.Recursion = NewRecursion(q, "albums")
		q.Recursion.Level = 1

		assert.True(t, q.MatchFileLower("track01.flac", 100, 0))
		assert.False(t, q.MatchFileLower("track01.mp3", 100, 0))
	})
}

func TestRelevanceScore(t *testing.T) {
	t.Run("BoundaryTokensScoreFull", func(t *testing.T) {
		q := NewNMDCQuery("2024 pdf", SizeDontCare, 0, TypeAny, 10)
		require.True(t, q.MatchFileLower("report 2024 final.pdf", 100, 0))
		assert.InDelta(t, 1.0, RelevanceScore(q, false, "Report 2024 Final.pdf"), 1e-9)
	})

	t.Run("MidWordScoresLower", func(t *testing.T) {
		q := NewNMDCQuery("port", SizeDontCare, 0, TypeAny, 10)
		require.True(t, q.MatchFileLower("report.txt", 100, 0))
		assert.InDelta(t, pointsInside, RelevanceScore(q, false, "report.txt"), 1e-9)
	})

	t.Run("SegmentStartScoresMiddle", func(t *testing.T) {
		q := NewNMDCQuery("fin", SizeDontCare, 0, TypeAny, 10)
		require.True(t, q.MatchFileLower("report final.txt", 100, 0))
		assert.InDelta(t, pointsSegmentStart, RelevanceScore(q, false, "report final.txt"), 1e-9)
	})

	t.Run("AncestorMatchPaysDepthPenalty", func(t *testing.T) {
		q := NewNMDCQuery("albums flac", SizeDontCare, 0, TypeAny, 10)
		require.True(t, q.MatchDirectoryLower("albums"))
		q.Recursion = NewRecursion(q, "albums")
		q.Recursion.Level = 2
		require.True(t, q.MatchFileLower("track.flac", 100, 0))

		want := (pointsBoundary+pointsBoundary)/2 - 2*depthPenaltyPerLevel
		assert.InDelta(t, want, RelevanceScore(q, false, "track.flac"), 1e-9)
	})

	t.Run("DirectoriesScoreBelowFiles", func(t *testing.T) {
		q := NewNMDCQuery("music", SizeDontCare, 0, TypeAny, 10)
		require.True(t, q.MatchDirectoryLower("music"))
		dirScore := RelevanceScore(q, true, "music")

		q2 := NewNMDCQuery("music", SizeDontCare, 0, TypeAny, 10)
		require.True(t, q2.MatchFileLower("music", 1, 0))
		assert.Greater(t, RelevanceScore(q2, false, "music"), dirScore)
	})
}

func TestQueryDefaults(t *testing.T) {
	q := newQuery()
	assert.Equal(t, int64(math.MaxInt64), q.LT)
	assert.Equal(t, int64(math.MaxInt64), q.MaxDate)
	assert.True(t, q.MatchesSize(0))
}
