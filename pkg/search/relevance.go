package search

import "strings"

// Position points per token, by where the match sits inside the name.
const (
	pointsBoundary     = 1.0
	pointsSegmentStart = 0.6
	pointsInside       = 0.3

	depthPenaltyPerLevel = 0.05
	directoryBias        = 0.95
)

func isSeparator(b byte) bool {
	return !(b >= 'a' && b <= 'z') && !(b >= 'A' && b <= 'Z') && !(b >= '0' && b <= '9')
}

// positionPoints scores one token occurrence inside a name: a token
// delimited on both sides scores full points, one starting a segment
// scores less, a mid-word hit the least.
func positionPoints(nameLower string, pos, length int) float64 {
	startOK := pos == 0 || isSeparator(nameLower[pos-1])
	end := pos + length
	endOK := end >= len(nameLower) || isSeparator(nameLower[end])
	switch {
	case startOK && endOK:
		return pointsBoundary
	case startOK:
		return pointsSegmentStart
	default:
		return pointsInside
	}
}

// RelevanceScore rates a fully matched item between 0 and 1. It must be
// called right after a successful MatchFileLower/MatchDirectoryLower so
// the query's position state still refers to the item. name is the item
// name; tokens the item did not match itself take their score from the
// recursion state, discounted by the depth penalty.
func RelevanceScore(q *Query, isDirectory bool, name string) float64 {
	if len(q.Include) == 0 {
		return 0
	}
	nameLower := strings.ToLower(name)

	sum := 0.0
	viaAncestor := false
	for i, pos := range q.lastPositions {
		switch {
		case pos >= 0:
			sum += positionPoints(nameLower, pos, q.Include[i].Len())
		case q.Recursion != nil && q.Recursion.Matched(i):
			sum += q.Recursion.Points(i)
			viaAncestor = true
		default:
			return 0 // coverage below 1.0 never qualifies
		}
	}

	score := sum / float64(len(q.Include))
	if viaAncestor && q.Recursion != nil {
		score -= depthPenaltyPerLevel * float64(q.Recursion.Level)
	}
	if isDirectory {
		score *= directoryBias
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
