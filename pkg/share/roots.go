package share

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
)

// RootInfo is the external description of a share root.
type RootInfo struct {
	Path     string
	Virtual  string
	Profiles []ProfileToken
	Incoming bool
}

// validateNewRoot enforces the root invariants:
//   - the path exists and is absolute
//   - the path is not an ancestor or descendant of another root that
//     shares any profile token
//   - the virtual name is unique among roots sharing any profile token
func (ix *index) validateNewRoot(info RootInfo, skipPath string) error {
	if !filepath.IsAbs(info.Path) {
		return validationError(ValidationPathNotAbsolute, "share root path must be absolute", info.Path)
	}
	st, err := os.Stat(info.Path)
	if err != nil || !st.IsDir() {
		return validationError(ValidationPathMissing, "share root path does not exist", info.Path)
	}

	profiles := NewProfileSet(info.Profiles...)
	virtualLower := pathutil.ToLower(info.Virtual)
	for _, other := range ix.roots {
		if skipPath != "" && pathutil.EqualFold(other.path, skipPath) {
			continue
		}
		if !other.profiles.Intersects(profiles) {
			continue
		}
		if pathutil.IsSub(info.Path, other.path) || pathutil.IsSub(other.path, info.Path) {
			return validationError(ValidationNestedRoot,
				fmt.Sprintf("path overlaps the shared directory %s", other.path), info.Path)
		}
		if other.virtual.Lower() == virtualLower {
			return validationError(ValidationDuplicateVirtualName,
				fmt.Sprintf("virtual name %q is already in use", info.Virtual), info.Path)
		}
	}
	return nil
}

// addRoot validates and registers a new root. The subtree stays empty
// until the first refresh populates it.
func (ix *index) addRoot(info RootInfo) (*Root, error) {
	info.Path = filepath.Clean(info.Path)
	if info.Virtual == "" {
		info.Virtual = filepath.Base(info.Path)
	}
	if err := ix.validateNewRoot(info, ""); err != nil {
		return nil, err
	}
	if _, exists := ix.roots[pathutil.ToLower(info.Path)]; exists {
		return nil, validationError(ValidationNestedRoot, "path is already shared", info.Path)
	}

	r := &Root{
		path:       info.Path,
		virtual:    NewDualName(info.Virtual),
		profiles:   NewProfileSet(info.Profiles...),
		incoming:   info.Incoming,
		cacheDirty: true,
	}
	r.dir = newDirectory(r.virtual, nil, r, 0)
	ix.roots[pathutil.ToLower(info.Path)] = r
	ix.attachSubtree(r.dir)
	return r, nil
}

// updateRoot changes the virtual name, profiles or incoming flag of an
// existing root, preserving the in-memory subtree. A changed real path
// must be handled by the caller as remove+add.
func (ix *index) updateRoot(info RootInfo) (*Root, error) {
	info.Path = filepath.Clean(info.Path)
	r, ok := ix.roots[pathutil.ToLower(info.Path)]
	if !ok {
		return nil, validationError(ValidationUnknownRoot, "path is not shared", info.Path)
	}
	if info.Virtual == "" {
		info.Virtual = filepath.Base(info.Path)
	}
	if err := ix.validateNewRoot(info, r.path); err != nil {
		return nil, err
	}

	if r.virtual.Lower() != pathutil.ToLower(info.Virtual) {
		r.virtual = NewDualName(info.Virtual)
		r.dir.name = r.virtual
	}
	r.profiles = NewProfileSet(info.Profiles...)
	r.incoming = info.Incoming
	r.cacheDirty = true
	return r, nil
}

// removeRoot drops a root and its whole subtree from the index.
func (ix *index) removeRoot(realPath string) (*Root, error) {
	key := pathutil.ToLower(filepath.Clean(realPath))
	r, ok := ix.roots[key]
	if !ok {
		return nil, validationError(ValidationUnknownRoot, "path is not shared", realPath)
	}
	if r.dir != nil {
		ix.detachSubtree(r.dir)
	}
	delete(ix.roots, key)
	ix.rebuildBloom()
	return r, nil
}

// swapSubtree replaces a root's current subtree with a freshly built
// one and refreshes every side index. Readers observe either the old or
// the new tree, never a mix.
func (ix *index) swapSubtree(r *Root, fresh *Directory) {
	if r.dir != nil {
		ix.detachSubtree(r.dir)
	}
	fresh.name = r.virtual
	r.dir = fresh
	ix.attachSubtree(fresh)
	ix.rebuildBloom()
}
