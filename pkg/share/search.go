package share

import (
	"sort"
	"time"

	"github.com/airdcpp/airdcpp-go/pkg/search"
)

// Result is one search hit: a file or a directory plus its relevance.
type Result struct {
	File      *File
	Directory *Directory
	Relevance float64
}

// adcPath returns the virtual path of the hit.
func (r Result) adcPath() string {
	if r.File != nil {
		return r.File.ADCPath()
	}
	return r.Directory.ADCPath()
}

// Search runs a compiled query against the index for one profile. The
// index lock is held in shared mode for the whole query; results are
// capped at the query's MaxResults and ordered by relevance.
func (e *Engine) Search(q *search.Query, profile ProfileToken) []Result {
	start := time.Now()
	defer func() {
		e.recordSearch(q.Root != nil, q.Recursion != nil, time.Since(start))
	}()

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Exact content lookup short-circuits everything else.
	if q.Root != nil {
		var out []Result
		for _, f := range e.ix.filesByTTH(*q.Root, profile) {
			out = append(out, Result{File: f, Relevance: 1})
			if q.MaxResults > 0 && len(out) >= q.MaxResults {
				break
			}
		}
		return out
	}

	// No include tokens means nothing can match.
	if len(q.Include) == 0 {
		return nil
	}

	// A token the whole share cannot contain prunes the query outright.
	for _, p := range q.Include {
		if !e.ix.bloom.mightContain(p.Text()) {
			return nil
		}
	}

	w := &searchWalk{query: q}
	for _, r := range e.ix.roots {
		if r.dir == nil || !r.profiles.Has(profile) {
			continue
		}
		q.Recursion = nil
		w.walk(r.dir, nil)
		if w.full() {
			break
		}
	}

	sort.SliceStable(w.results, func(i, j int) bool {
		a, b := w.results[i], w.results[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		return a.adcPath() < b.adcPath()
	})
	return w.results
}

type searchWalk struct {
	query   *search.Query
	results []Result
}

func (w *searchWalk) full() bool {
	return w.query.MaxResults > 0 && len(w.results) >= w.query.MaxResults
}

// walk matches files and directories below d. rec carries the tokens
// matched by ancestors; the directory name itself was processed by the
// caller.
func (w *searchWalk) walk(d *Directory, rec *search.Recursion) {
	q := w.query

	if q.ItemType != search.ItemDirectory {
		for _, f := range d.files {
			if w.full() {
				return
			}
			q.Recursion = rec
			if q.MatchFileLower(f.NameLower(), f.size, f.mtime) {
				w.results = append(w.results, Result{
					File:      f,
					Relevance: search.RelevanceScore(q, false, f.Name()),
				})
			}
		}
	}

	for _, sub := range d.dirs {
		if w.full() {
			return
		}
		q.Recursion = rec
		matched := q.MatchDirectoryLower(sub.NameLower())

		if matched && q.ItemType != search.ItemFile &&
			q.Complete() && !q.IsExcluded(sub.Name()) {
			w.results = append(w.results, Result{
				Directory: sub,
				Relevance: search.RelevanceScore(q, true, sub.Name()),
			})
		}

		child := rec
		if matched && !q.PositionsComplete() {
			if rec != nil {
				child = rec.Clone()
			} else {
				child = search.NewEmptyRecursion(len(q.Include))
			}
			child.Absorb(q, sub.NameLower())
		}
		if child != nil {
			down := child.Clone()
			down.Level++
			w.walk(sub, down)
		} else {
			w.walk(sub, nil)
		}
	}
}
