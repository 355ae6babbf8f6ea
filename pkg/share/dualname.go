package share

import "github.com/airdcpp/airdcpp-go/internal/pathutil"

// DualName stores a name in both its on-disk form and a precomputed
// lowercase form, so case-insensitive lookups and matching never
// re-fold strings on the hot path.
type DualName struct {
	normal string
	lower  string
}

// NewDualName folds the name once.
func NewDualName(name string) DualName {
	return DualName{normal: name, lower: pathutil.ToLower(name)}
}

// Normal returns the on-disk form.
func (d DualName) Normal() string { return d.normal }

// Lower returns the lowercase form.
func (d DualName) Lower() string { return d.lower }
