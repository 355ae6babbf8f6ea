package share

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/internal/pathutil"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// cacheDirName is the share cache directory under the config dir.
const cacheDirName = "ShareCache"

type cacheFile struct {
	Name  string `xml:"Name,attr"`
	Size  int64  `xml:"Size,attr"`
	MTime int64  `xml:"Date,attr"`
	TTH   string `xml:"TTH,attr"`
}

type cacheDir struct {
	Name  string      `xml:"Name,attr"`
	MTime int64       `xml:"Date,attr"`
	Dirs  []cacheDir  `xml:"Directory"`
	Files []cacheFile `xml:"File"`
}

type cacheRoot struct {
	XMLName xml.Name `xml:"ShareCache"`
	Version int      `xml:"Version,attr"`
	Path    string   `xml:"Path,attr"`
	MTime   int64    `xml:"Date,attr"`
	Dirs    []cacheDir  `xml:"Directory"`
	Files   []cacheFile `xml:"File"`
}

// cachePath names the per-root cache file; the root path is hashed so
// any path is a valid file name.
func cachePath(configDir, rootPath string) string {
	sum := sha1.Sum([]byte(pathutil.ToLower(rootPath)))
	return filepath.Join(configDir, cacheDirName, hex.EncodeToString(sum[:])+".xml")
}

// SaveCaches writes the subtree of every dirty root to the share cache
// so the next startup can skip a full rehash.
func (e *Engine) SaveCaches(configDir string) error {
	if err := os.MkdirAll(filepath.Join(configDir, cacheDirName), 0o755); err != nil {
		return fmt.Errorf("share: %w", err)
	}

	e.mu.RLock()
	type job struct {
		doc  cacheRoot
		path string
		root *Root
	}
	var jobs []job
	for _, r := range e.ix.roots {
		if !r.cacheDirty || r.dir == nil {
			continue
		}
		jobs = append(jobs, job{
			doc:  snapshotRoot(r),
			path: cachePath(configDir, r.path),
			root: r,
		})
	}
	e.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, j := range jobs {
		g.Go(func() error {
			data, err := xml.Marshal(j.doc)
			if err != nil {
				return fmt.Errorf("share: %w", err)
			}
			if err := os.WriteFile(j.path, data, 0o644); err != nil {
				return fmt.Errorf("share: %w", err)
			}
			e.mu.Lock()
			j.root.cacheDirty = false
			e.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func snapshotRoot(r *Root) cacheRoot {
	doc := cacheRoot{Version: 1, Path: r.path, MTime: r.dir.lastWrite}
	doc.Dirs, doc.Files = snapshotChildren(r.dir)
	return doc
}

func snapshotChildren(d *Directory) ([]cacheDir, []cacheFile) {
	var dirs []cacheDir
	for _, sub := range sortedDirs(d) {
		cd := cacheDir{Name: sub.Name(), MTime: sub.lastWrite}
		cd.Dirs, cd.Files = snapshotChildren(sub)
		dirs = append(dirs, cd)
	}
	var files []cacheFile
	for _, f := range sortedFiles(d) {
		files = append(files, cacheFile{
			Name:  f.Name(),
			Size:  f.size,
			MTime: f.mtime,
			TTH:   f.tth.String(),
		})
	}
	return dirs, files
}

// LoadCaches fast-paths startup: roots whose cache file parses are
// populated without hashing. Roots whose cache is missing, corrupt or
// whose on-disk mtime moved are reported back so the caller can queue a
// startup refresh for them.
func (e *Engine) LoadCaches(configDir string) (stale []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.ix.roots {
		data, err := os.ReadFile(cachePath(configDir, r.path))
		if err != nil {
			stale = append(stale, r.path)
			continue
		}
		var doc cacheRoot
		if err := xml.Unmarshal(data, &doc); err != nil || doc.Version != 1 ||
			!pathutil.EqualFold(doc.Path, r.path) {
			logger.Warn("ignoring invalid share cache", logger.KeyRoot, r.path)
			stale = append(stale, r.path)
			continue
		}

		dir := newDirectory(r.virtual, nil, r, doc.MTime)
		restoreChildren(dir, r, doc.Dirs, doc.Files)
		e.ix.swapSubtree(r, dir)
		r.cacheDirty = false

		if st, err := os.Stat(r.path); err != nil || st.ModTime().Unix() != doc.MTime {
			stale = append(stale, r.path)
		}
	}
	return stale
}

func restoreChildren(parent *Directory, root *Root, dirs []cacheDir, files []cacheFile) {
	for _, cd := range dirs {
		sub := newDirectory(NewDualName(cd.Name), parent, root, cd.MTime)
		restoreChildren(sub, root, cd.Dirs, cd.Files)
		parent.dirs[sub.NameLower()] = sub
	}
	for _, cf := range files {
		roothash, err := tth.FromBase32(cf.TTH)
		if err != nil {
			continue
		}
		f := &File{
			name:   NewDualName(cf.Name),
			parent: parent,
			size:   cf.Size,
			mtime:  cf.MTime,
			tth:    roothash,
		}
		parent.files[f.NameLower()] = f
	}
}
