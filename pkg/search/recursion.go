package search

// Recursion tracks include tokens matched by ancestor directories while
// the index walk descends, so a token needs to match only once along the
// path from a root to the candidate item.
type Recursion struct {
	// Level is the number of levels descended since the first partial
	// match; it feeds the relevance depth penalty.
	Level int

	points []float64
}

// NewEmptyRecursion creates ancestor state with no matches yet for a
// query with n include tokens.
func NewEmptyRecursion(n int) *Recursion {
	r := &Recursion{points: make([]float64, n)}
	for i := range r.points {
		r.points[i] = -1
	}
	return r
}

// NewRecursion captures the positions from the query's latest directory
// match as the starting ancestor state. name must be the lowercase
// directory name that was matched.
func NewRecursion(q *Query, nameLower string) *Recursion {
	r := NewEmptyRecursion(len(q.Include))
	r.Absorb(q, nameLower)
	return r
}

// Clone copies the state for descending into a sibling branch.
func (r *Recursion) Clone() *Recursion {
	return &Recursion{Level: r.Level, points: append([]float64(nil), r.points...)}
}

// Absorb folds the query's latest directory-match positions into the
// ancestor state, scoring each newly matched token against nameLower.
// Existing entries are kept; deeper matches do not replace them.
func (r *Recursion) Absorb(q *Query, nameLower string) {
	for i, pos := range q.lastPositions {
		if pos >= 0 && r.points[i] < 0 {
			r.points[i] = positionPoints(nameLower, pos, q.Include[i].Len())
		}
	}
}

// Matched reports whether token i was matched by some ancestor.
func (r *Recursion) Matched(i int) bool {
	return r.points[i] >= 0
}

// Points returns the stored boundary score of token i.
func (r *Recursion) Points(i int) float64 { return r.points[i] }

// Complete reports whether all tokens are matched by ancestors alone.
func (r *Recursion) Complete() bool {
	for _, p := range r.points {
		if p < 0 {
			return false
		}
	}
	return true
}

// Completes reports whether ancestors fill exactly the tokens missing
// from the latest item positions.
func (r *Recursion) Completes(lastPositions []int) bool {
	for i, pos := range lastPositions {
		if pos < 0 && r.points[i] < 0 {
			return false
		}
	}
	return true
}
