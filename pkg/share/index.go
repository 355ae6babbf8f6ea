package share

import (
	"sort"
	"strings"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// index holds the forest of root subtrees plus the three side indices.
// All access goes through the engine's RWMutex; the methods here assume
// the proper lock is held.
type index struct {
	roots map[string]*Root // keyed by lowercase real path

	tthIndex map[tth.Value][]*File
	dirNames map[string][]*Directory
	bloom    *nameBloom

	sharedFiles int
	sharedBytes int64
}

func newIndex() *index {
	return &index{
		roots:    make(map[string]*Root),
		tthIndex: make(map[tth.Value][]*File),
		dirNames: make(map[string][]*Directory),
		bloom:    newNameBloom(0),
	}
}

// rootForPath finds the root whose path contains (or equals) the real
// path.
func (ix *index) rootForPath(realPath string) *Root {
	for _, r := range ix.roots {
		if pathutil.IsParentOrExact(r.path, realPath) {
			return r
		}
	}
	return nil
}

// attachSubtree registers dir and everything below it with the side
// indices. Bloom additions are safe incrementally; removals are handled
// by a rebuild.
func (ix *index) attachSubtree(d *Directory) {
	ix.dirNames[d.NameLower()] = append(ix.dirNames[d.NameLower()], d)
	ix.bloom.add(d.NameLower())
	for _, f := range d.files {
		ix.tthIndex[f.tth] = append(ix.tthIndex[f.tth], f)
		ix.sharedFiles++
		ix.sharedBytes += f.size
		ix.bloom.add(f.NameLower())
	}
	for _, sub := range d.dirs {
		ix.attachSubtree(sub)
	}
}

// detachSubtree removes dir and everything below it from the side
// indices. Bloom bits are not cleared; the filter is rebuilt afterwards.
func (ix *index) detachSubtree(d *Directory) {
	ix.dirNames[d.NameLower()] = removeDir(ix.dirNames[d.NameLower()], d)
	if len(ix.dirNames[d.NameLower()]) == 0 {
		delete(ix.dirNames, d.NameLower())
	}
	for _, f := range d.files {
		ix.removeFileEntry(f)
	}
	for _, sub := range d.dirs {
		ix.detachSubtree(sub)
	}
}

func (ix *index) removeFileEntry(f *File) {
	files := removeFile(ix.tthIndex[f.tth], f)
	if len(files) == 0 {
		delete(ix.tthIndex, f.tth)
	} else {
		ix.tthIndex[f.tth] = files
	}
	ix.sharedFiles--
	ix.sharedBytes -= f.size
}

// addFileEntry registers a single file with the side indices and bloom.
func (ix *index) addFileEntry(f *File) {
	ix.tthIndex[f.tth] = append(ix.tthIndex[f.tth], f)
	ix.sharedFiles++
	ix.sharedBytes += f.size
	ix.bloom.add(f.NameLower())
}

// rebuildBloom recomputes the filter from every name in the index.
func (ix *index) rebuildBloom() {
	bloom := newNameBloom(uint(ix.sharedFiles))
	for _, r := range ix.roots {
		if r.dir != nil {
			addTreeToBloom(bloom, r.dir)
		}
	}
	ix.bloom = bloom
}

func addTreeToBloom(b *nameBloom, d *Directory) {
	b.add(d.NameLower())
	for _, f := range d.files {
		b.add(f.NameLower())
	}
	for _, sub := range d.dirs {
		addTreeToBloom(b, sub)
	}
}

// filesByTTH returns the files carrying the root, visible to profile.
func (ix *index) filesByTTH(root tth.Value, profile ProfileToken) []*File {
	var out []*File
	for _, f := range ix.tthIndex[root] {
		if f.VisibleTo(profile) {
			out = append(out, f)
		}
	}
	return out
}

// findDirectory resolves an ADC directory path for a profile. The root
// component is matched against root virtual names.
func (ix *index) findDirectory(adcPath string, profile ProfileToken) (*Directory, error) {
	components := pathutil.SplitADC(adcPath)
	if len(components) == 0 {
		return nil, notFoundError(adcPath)
	}

	virtualLower := pathutil.ToLower(components[0])
	var cur *Directory
	denied := false
	for _, r := range ix.roots {
		if r.dir == nil || r.virtual.Lower() != virtualLower {
			continue
		}
		if !r.profiles.Has(profile) {
			denied = true
			continue
		}
		cur = r.dir
		break
	}
	if cur == nil {
		if denied {
			return nil, accessDeniedError(adcPath)
		}
		return nil, notFoundError(adcPath)
	}

	for _, comp := range components[1:] {
		next, ok := cur.dirs[pathutil.ToLower(comp)]
		if !ok {
			return nil, notFoundError(adcPath)
		}
		cur = next
	}
	return cur, nil
}

// findFile resolves an ADC file path for a profile.
func (ix *index) findFile(adcPath string, profile ProfileToken) (*File, error) {
	dirPath := pathutil.AdcParent(adcPath)
	name := strings.TrimSuffix(adcPath[len(dirPath):], "/")
	if name == "" {
		return nil, notFoundError(adcPath)
	}
	dir, err := ix.findDirectory(dirPath, profile)
	if err != nil {
		return nil, err
	}
	f, ok := dir.files[pathutil.ToLower(name)]
	if !ok {
		return nil, notFoundError(adcPath)
	}
	return f, nil
}

// realToVirtual maps a real path to the ADC path of the file or
// directory, for any root that contains it.
func (ix *index) realToVirtual(realPath string) (string, error) {
	root := ix.rootForPath(realPath)
	if root == nil || root.dir == nil {
		return "", notFoundError(realPath)
	}
	if strings.EqualFold(root.path, realPath) {
		return root.dir.ADCPath(), nil
	}

	rel := strings.Trim(realPath[len(root.path):], "/\\")
	components := strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' })
	cur := root.dir
	for i, comp := range components {
		lower := pathutil.ToLower(comp)
		if next, ok := cur.dirs[lower]; ok {
			cur = next
			continue
		}
		if i == len(components)-1 {
			if f, ok := cur.files[lower]; ok {
				return f.ADCPath(), nil
			}
		}
		return "", notFoundError(realPath)
	}
	return cur.ADCPath(), nil
}

// findDirectoryByReal maps a real directory path to its node.
func (ix *index) findDirectoryByReal(realPath string) *Directory {
	root := ix.rootForPath(realPath)
	if root == nil || root.dir == nil {
		return nil
	}
	if strings.EqualFold(root.path, realPath) {
		return root.dir
	}
	rel := strings.Trim(realPath[len(root.path):], "/\\")
	cur := root.dir
	for _, comp := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		next, ok := cur.dirs[pathutil.ToLower(comp)]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// sortedDirs returns the children ordered by lowercase name.
func sortedDirs(d *Directory) []*Directory {
	out := make([]*Directory, 0, len(d.dirs))
	for _, sub := range d.dirs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameLower() < out[j].NameLower() })
	return out
}

// sortedFiles returns the files ordered by lowercase name.
func sortedFiles(d *Directory) []*File {
	out := make([]*File, 0, len(d.files))
	for _, f := range d.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameLower() < out[j].NameLower() })
	return out
}

func removeDir(dirs []*Directory, target *Directory) []*Directory {
	for i, d := range dirs {
		if d == target {
			return append(dirs[:i], dirs[i+1:]...)
		}
	}
	return dirs
}

func removeFile(files []*File, target *File) []*File {
	for i, f := range files {
		if f == target {
			return append(files[:i], files[i+1:]...)
		}
	}
	return files
}
