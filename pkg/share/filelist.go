package share

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dsnet/compress/bzip2"
)

// listGenerator identifies the client in generated lists.
const listGenerator = "airdcpp-go"

// cachedList is one generated full list.
type cachedList struct {
	data       []byte // bzip2-compressed listing
	generation uint64
	created    time.Time
}

// listCache keeps the per-profile full lists. A cached list is reused
// until it is older than maxAge, a caller forces regeneration, or a
// share change drops the cache.
type listCache struct {
	mu         sync.Mutex
	maxAge     time.Duration
	generation uint64
	lists      map[ProfileToken]*cachedList
}

func newListCache(maxAge time.Duration) *listCache {
	return &listCache{maxAge: maxAge, lists: make(map[ProfileToken]*cachedList)}
}

func (c *listCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = make(map[ProfileToken]*cachedList)
}

// FullList returns the bzip2-compressed full listing for a profile and
// its generation number. The cached copy is served until it ages out,
// is forced, or is dropped by a share change (refresh, root change or
// newly hashed file).
func (e *Engine) FullList(profile ProfileToken, forced bool) ([]byte, uint64, error) {
	c := e.lists
	c.mu.Lock()
	if cached, ok := c.lists[profile]; ok && !forced && time.Since(cached.created) < c.maxAge {
		data, gen := cached.data, cached.generation
		c.mu.Unlock()
		return data, gen, nil
	}
	c.mu.Unlock()

	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, 0, fmt.Errorf("share: %w", err)
	}

	e.mu.RLock()
	werr := e.writeListing(bw, "/", profile, true, nil)
	e.mu.RUnlock()
	if werr != nil {
		bw.Close()
		return nil, 0, werr
	}
	if err := bw.Close(); err != nil {
		return nil, 0, fmt.Errorf("share: %w", err)
	}

	c.mu.Lock()
	c.generation++
	cached := &cachedList{data: buf.Bytes(), generation: c.generation, created: time.Now()}
	c.lists[profile] = cached
	c.mu.Unlock()
	return cached.data, cached.generation, nil
}

// PartialList generates the directory-scoped XML listing on demand.
func (e *Engine) PartialList(adcPath string, recursive bool, profile ProfileToken) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var buf bytes.Buffer
	var under *Directory
	if adcPath != "/" {
		dir, err := e.ix.findDirectory(adcPath, profile)
		if err != nil {
			return nil, err
		}
		under = dir
	}
	if err := e.writeListing(&buf, adcPath, profile, recursive, under); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TTHList emits one base32 root per line for every file under the
// directory tree; used for bundle content checks.
func (e *Engine) TTHList(adcPath string, recursive bool, profile ProfileToken) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	dir, err := e.ix.findDirectory(adcPath, profile)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	var emit func(d *Directory, deep bool)
	emit = func(d *Directory, deep bool) {
		for _, f := range sortedFiles(d) {
			buf.WriteString(f.tth.String())
			buf.WriteByte('\n')
		}
		if deep {
			for _, sub := range sortedDirs(d) {
				emit(sub, true)
			}
		}
	}
	emit(dir, recursive)
	return buf.Bytes(), nil
}

// writeListing renders the FileListing document. under selects a
// directory scope; nil means all roots visible to the profile. The
// caller holds the index lock.
func (e *Engine) writeListing(w io.Writer, base string, profile ProfileToken, recursive bool, under *Directory) error {
	writeString(w, `<FileListing Version="1" CID="`)
	writeEscaped(w, e.cid)
	writeString(w, `" Base="`)
	writeEscaped(w, base)
	writeString(w, `" Generator="` + listGenerator + `">`)

	if under != nil {
		e.writeChildren(w, under, recursive)
	} else {
		for _, r := range e.sortedRoots(profile) {
			e.writeDirectory(w, r.dir, recursive)
		}
	}

	writeString(w, `</FileListing>`)
	return nil
}

func (e *Engine) sortedRoots(profile ProfileToken) []*Root {
	var roots []*Root
	for _, r := range e.ix.roots {
		if r.dir != nil && r.profiles.Has(profile) {
			roots = append(roots, r)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].virtual.Lower() < roots[j].virtual.Lower()
	})
	return roots
}

func (e *Engine) writeDirectory(w io.Writer, d *Directory, recursive bool) {
	writeString(w, `<Directory Name="`)
	writeEscaped(w, d.Name())
	if !recursive && (len(d.dirs) > 0 || len(d.files) > 0) {
		writeString(w, `" Incomplete="1"/>`)
		return
	}
	writeString(w, `">`)
	e.writeChildren(w, d, recursive)
	writeString(w, `</Directory>`)
}

func (e *Engine) writeChildren(w io.Writer, d *Directory, recursive bool) {
	for _, sub := range sortedDirs(d) {
		e.writeDirectory(w, sub, recursive)
	}
	for _, f := range sortedFiles(d) {
		writeString(w, `<File Name="`)
		writeEscaped(w, f.Name())
		writeString(w, `" Size="`)
		writeString(w, strconv.FormatInt(f.size, 10))
		writeString(w, `" TTH="`)
		writeString(w, f.tth.String())
		writeString(w, `"/>`)
	}
}

func writeString(w io.Writer, s string) {
	io.WriteString(w, s)
}

func writeEscaped(w io.Writer, s string) {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	w.Write(buf.Bytes())
}

// ParsedListEntry is one file reconstructed from a listing document;
// used by tests and list consumers.
type ParsedListEntry struct {
	Name string
	Size int64
	TTH  string
	Dir  string // ADC directory path
}

// ParseFileList reads a FileListing document back into entries.
func ParseFileList(data []byte) ([]ParsedListEntry, error) {
	type xmlFile struct {
		Name string `xml:"Name,attr"`
		Size int64  `xml:"Size,attr"`
		TTH  string `xml:"TTH,attr"`
	}
	type xmlDir struct {
		Name  string    `xml:"Name,attr"`
		Dirs  []xmlDir  `xml:"Directory"`
		Files []xmlFile `xml:"File"`
	}
	type xmlListing struct {
		Base  string    `xml:"Base,attr"`
		Dirs  []xmlDir  `xml:"Directory"`
		Files []xmlFile `xml:"File"`
	}

	var doc xmlListing
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("share: parse listing: %w", err)
	}

	var out []ParsedListEntry
	var walk func(base string, dirs []xmlDir, files []xmlFile)
	walk = func(base string, dirs []xmlDir, files []xmlFile) {
		for _, f := range files {
			out = append(out, ParsedListEntry{Name: f.Name, Size: f.Size, TTH: f.TTH, Dir: base})
		}
		for _, d := range dirs {
			walk(base+d.Name+"/", d.Dirs, d.Files)
		}
	}
	base := doc.Base
	if base == "" {
		base = "/"
	}
	walk(base, doc.Dirs, doc.Files)
	return out, nil
}
