// Package share implements the share engine: the in-memory index of
// shared directories and files, its refresh machinery, search over the
// index, file list generation and temp shares.
package share

import (
	"path/filepath"
	"time"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// RefreshState tracks where a root is in the refresh cycle.
type RefreshState int

const (
	RefreshNormal RefreshState = iota
	RefreshPending
	RefreshRunning
)

// Root is a configured top-level shared directory.
type Root struct {
	path     string // clean absolute real path
	virtual  DualName
	profiles ProfileSet
	incoming bool

	lastRefresh time.Time
	state       RefreshState
	cacheDirty  bool

	dir *Directory
}

// Path returns the real path of the root.
func (r *Root) Path() string { return r.path }

// Virtual returns the name the root is shared under.
func (r *Root) Virtual() string { return r.virtual.Normal() }

// Profiles returns the owning profile set.
func (r *Root) Profiles() ProfileSet { return r.profiles }

// Incoming reports whether the root receives finished downloads.
func (r *Root) Incoming() bool { return r.incoming }

// LastRefresh returns the completion time of the last refresh.
func (r *Root) LastRefresh() time.Time { return r.lastRefresh }

// State returns the refresh state.
func (r *Root) State() RefreshState { return r.state }

// Directory is a node in a root's subtree. The root's own node has a
// nil parent; its virtual name comes from the root configuration.
type Directory struct {
	name      DualName
	parent    *Directory
	root      *Root
	lastWrite int64

	dirs  map[string]*Directory // keyed by lowercase name
	files map[string]*File      // keyed by lowercase name
}

func newDirectory(name DualName, parent *Directory, root *Root, lastWrite int64) *Directory {
	return &Directory{
		name:      name,
		parent:    parent,
		root:      root,
		lastWrite: lastWrite,
		dirs:      make(map[string]*Directory),
		files:     make(map[string]*File),
	}
}

// Name returns the on-disk directory name; for root nodes this is the
// virtual name.
func (d *Directory) Name() string { return d.name.Normal() }

// NameLower returns the precomputed lowercase name.
func (d *Directory) NameLower() string { return d.name.Lower() }

// Root returns the owning share root.
func (d *Directory) Root() *Root { return d.root }

// IsRoot reports whether this is a root-level node.
func (d *Directory) IsRoot() bool { return d.parent == nil }

// VisibleTo reports whether the owning root carries the profile.
func (d *Directory) VisibleTo(profile ProfileToken) bool {
	return d.root.profiles.Has(profile)
}

// ADCPath returns the virtual directory path with leading and trailing
// slashes.
func (d *Directory) ADCPath() string {
	var components []string
	for cur := d; cur != nil; cur = cur.parent {
		components = append(components, cur.Name())
	}
	// reverse into root-first order
	for i, j := 0, len(components)-1; i < j; i, j = i+1, j-1 {
		components[i], components[j] = components[j], components[i]
	}
	return pathutil.JoinADC(components...)
}

// RealPath returns the on-disk path of the directory.
func (d *Directory) RealPath() string {
	var components []string
	for cur := d; cur.parent != nil; cur = cur.parent {
		components = append(components, cur.Name())
	}
	path := d.root.path
	for i := len(components) - 1; i >= 0; i-- {
		path = filepath.Join(path, components[i])
	}
	return path
}

// totals returns the recursive file count and byte size.
func (d *Directory) totals() (files int, bytes int64) {
	for _, f := range d.files {
		files++
		bytes += f.size
	}
	for _, sub := range d.dirs {
		sf, sb := sub.totals()
		files += sf
		bytes += sb
	}
	return
}

// File is a shared, hashed file.
type File struct {
	name   DualName
	parent *Directory
	size   int64
	mtime  int64
	tth    tth.Value
}

// Name returns the on-disk file name.
func (f *File) Name() string { return f.name.Normal() }

// NameLower returns the precomputed lowercase name.
func (f *File) NameLower() string { return f.name.Lower() }

// Size returns the file size in bytes.
func (f *File) Size() int64 { return f.size }

// MTime returns the modification time in unix seconds.
func (f *File) MTime() int64 { return f.mtime }

// TTH returns the content root.
func (f *File) TTH() tth.Value { return f.tth }

// Parent returns the containing directory.
func (f *File) Parent() *Directory { return f.parent }

// VisibleTo reports whether the owning root carries the profile.
func (f *File) VisibleTo(profile ProfileToken) bool {
	return f.parent.VisibleTo(profile)
}

// ADCPath returns the virtual file path.
func (f *File) ADCPath() string {
	return f.parent.ADCPath() + f.Name()
}

// RealPath returns the on-disk path of the file.
func (f *File) RealPath() string {
	return filepath.Join(f.parent.RealPath(), f.Name())
}
