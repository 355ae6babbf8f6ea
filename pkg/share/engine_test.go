package share

import (
	"bytes"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdcpp/airdcpp-go/pkg/config"
	"github.com/airdcpp/airdcpp-go/pkg/hashdb"
	"github.com/airdcpp/airdcpp-go/pkg/hasher"
	"github.com/airdcpp/airdcpp-go/pkg/search"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

func tthFromByte(b byte) tth.Value {
	return tth.Value{b}
}

const testCID = "AIRDCPPGOTESTCIDAAAAAAAAAAAAAAAAAAAAAAA"

type testEnv struct {
	engine *Engine
	store  *hashdb.Store
	pool   *hasher.Pool
	root   string
}

// newTestEnv builds a hashing pool and an engine over one share root,
// wired the way the application wires them.
func newTestEnv(t *testing.T, cfg config.ShareConfig) *testEnv {
	t.Helper()
	store, err := hashdb.Open(t.TempDir())
	require.NoError(t, err)

	pool := hasher.NewPool(config.HasherConfig{MaxThreads: 2}, store)

	root := t.TempDir()
	cfg.Roots = append(cfg.Roots, config.RootConfig{
		Path: root, Virtual: "music", Profiles: []uint32{0},
	})
	if cfg.FullListAge == 0 {
		cfg.FullListAge = 15 * time.Minute
	}

	engine, err := NewEngine(cfg, testCID, store, pool)
	require.NoError(t, err)

	pool.Subscribe(func(ev hasher.Event) {
		if fh, ok := ev.(hasher.FileHashed); ok {
			engine.OnFileHashed(fh.Path, fh.Info)
		}
	})

	t.Cleanup(func() {
		engine.Shutdown()
		pool.Shutdown()
		store.Close()
	})
	return &testEnv{engine: engine, store: store, pool: pool, root: root}
}

func (env *testEnv) write(t *testing.T, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(env.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// refreshAndWait refreshes the root and waits until the index reaches
// the expected file count.
func (env *testEnv) refreshAndWait(t *testing.T, wantFiles int) {
	t.Helper()
	_, err := env.engine.RefreshAll(TaskManual)
	require.NoError(t, err)

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if files, _ := env.engine.Totals(); files == wantFiles {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	files, _ := env.engine.Totals()
	t.Fatalf("index has %d files, want %d", files, wantFiles)
}

func TestRefreshAndTTHQuery(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	content := bytes.Repeat([]byte("abc"), 1_398_102)[:4_194_304]
	real := env.write(t, "a/song.mp3", content)

	env.refreshAndWait(t, 1)

	f, err := env.engine.FindFile("/music/a/song.mp3", ProfileDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(4_194_304), f.Size())

	t.Run("TTHIndexLookup", func(t *testing.T) {
		files := env.engine.FilesByTTH(f.TTH(), ProfileDefault)
		require.Len(t, files, 1)
		assert.Equal(t, real, files[0].RealPath())
	})

	t.Run("RealToVirtual", func(t *testing.T) {
		adc, err := env.engine.RealToVirtual(real)
		require.NoError(t, err)
		assert.Equal(t, "/music/a/song.mp3", adc)
	})

	t.Run("HiddenProfileSeesNothing", func(t *testing.T) {
		_, err := env.engine.FindFile("/music/a/song.mp3", ProfileHidden)
		assert.True(t, IsAccessDenied(err))
	})
}

func TestRefreshIsIdempotent(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	env.write(t, "album/track1.mp3", []byte("first track content"))
	env.write(t, "album/track2.mp3", []byte("second track content"))
	env.refreshAndWait(t, 2)

	list1, err := env.engine.PartialList("/music/", true, ProfileDefault)
	require.NoError(t, err)
	files1, bytes1 := env.engine.Totals()

	env.refreshAndWait(t, 2)
	list2, err := env.engine.PartialList("/music/", true, ProfileDefault)
	require.NoError(t, err)
	files2, bytes2 := env.engine.Totals()

	assert.Equal(t, files1, files2)
	assert.Equal(t, bytes1, bytes2)
	assert.Equal(t, list1, list2)
}

func TestRefreshDropsDeletedFiles(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	keep := env.write(t, "keep.bin", []byte("keep"))
	gone := env.write(t, "gone.bin", []byte("gone"))
	env.refreshAndWait(t, 2)

	require.NoError(t, os.Remove(gone))
	env.refreshAndWait(t, 1)

	_, err := env.engine.RealToVirtual(keep)
	assert.NoError(t, err)
	_, err = env.engine.RealToVirtual(gone)
	assert.True(t, IsNotFound(err))
}

func TestRootValidation(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})

	base := t.TempDir()
	shareA := filepath.Join(base, "A")
	shareB := filepath.Join(base, "B")
	sub := filepath.Join(shareB, "sub")
	require.NoError(t, os.MkdirAll(shareA, 0o755))
	require.NoError(t, os.MkdirAll(sub, 0o755))

	// Same virtual name on disjoint profiles is fine.
	_, err := env.engine.AddRoot(RootInfo{Path: shareA, Virtual: "shared", Profiles: []ProfileToken{1}})
	require.NoError(t, err)
	_, err = env.engine.AddRoot(RootInfo{Path: shareB, Virtual: "shared", Profiles: []ProfileToken{2}})
	require.NoError(t, err)

	t.Run("NestedUnderDisjointProfileSucceeds", func(t *testing.T) {
		_, err := env.engine.AddRoot(RootInfo{Path: sub, Virtual: "subshare", Profiles: []ProfileToken{3}})
		assert.NoError(t, err)
		require.NoError(t, env.engine.RemoveRoot(sub))
	})

	t.Run("NestedUnderSharedProfileFails", func(t *testing.T) {
		_, err := env.engine.AddRoot(RootInfo{Path: sub, Virtual: "subshare", Profiles: []ProfileToken{2}})
		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrValidation, se.Code)
		assert.Equal(t, ValidationNestedRoot, se.Kind)
	})

	t.Run("DuplicateVirtualNameFails", func(t *testing.T) {
		other := filepath.Join(base, "C")
		require.NoError(t, os.MkdirAll(other, 0o755))
		_, err := env.engine.AddRoot(RootInfo{Path: other, Virtual: "SHARED", Profiles: []ProfileToken{1}})
		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ValidationDuplicateVirtualName, se.Kind)
	})

	t.Run("RelativePathFails", func(t *testing.T) {
		_, err := env.engine.AddRoot(RootInfo{Path: "relative/path", Profiles: []ProfileToken{1}})
		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ValidationPathNotAbsolute, se.Kind)
	})
}

func TestQuickSearch(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	env.write(t, "docs/Report 2024 Final.pdf", []byte("annual report"))
	env.write(t, "docs/Notes 2023.txt", []byte("old notes"))
	env.refreshAndWait(t, 2)

	t.Run("MatchesWithFullScore", func(t *testing.T) {
		q := search.NewNMDCQuery("2024 pdf", search.SizeDontCare, 0, search.TypeAny, 10)
		results := env.engine.Search(q, ProfileDefault)
		require.Len(t, results, 1)
		assert.Equal(t, "Report 2024 Final.pdf", results[0].File.Name())
		assert.InDelta(t, 1.0, results[0].Relevance, 1e-9)
	})

	t.Run("ExcludeTokenRejects", func(t *testing.T) {
		q := search.NewNMDCQuery("2024 -Final pdf", search.SizeDontCare, 0, search.TypeAny, 10)
		assert.Empty(t, env.engine.Search(q, ProfileDefault))
	})

	t.Run("AncestorTokenComposes", func(t *testing.T) {
		q := search.NewNMDCQuery("docs 2023", search.SizeDontCare, 0, search.TypeAny, 10)
		results := env.engine.Search(q, ProfileDefault)
		require.Len(t, results, 1)
		assert.Equal(t, "Notes 2023.txt", results[0].File.Name())
		assert.Less(t, results[0].Relevance, 1.0)
	})

	t.Run("TTHQueryShortCircuits", func(t *testing.T) {
		f, err := env.engine.FindFile("/music/docs/Notes 2023.txt", ProfileDefault)
		require.NoError(t, err)
		q := search.NewTTHQuery(f.TTH(), 10)
		results := env.engine.Search(q, ProfileDefault)
		require.Len(t, results, 1)
		assert.Equal(t, f.TTH(), results[0].File.TTH())
	})

	t.Run("ZeroTokensYieldNothing", func(t *testing.T) {
		q := search.NewNMDCQuery("", search.SizeDontCare, 0, search.TypeAny, 10)
		assert.Empty(t, env.engine.Search(q, ProfileDefault))
	})

	t.Run("MaxResultsBounds", func(t *testing.T) {
		q := search.NewNMDCQuery("20", search.SizeDontCare, 0, search.TypeAny, 1)
		assert.LessOrEqual(t, len(env.engine.Search(q, ProfileDefault)), 1)
	})

	t.Run("StatsAccumulate", func(t *testing.T) {
		assert.Greater(t, env.engine.Stats().Total, int64(0))
	})
}

func TestADCDirectSearch(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	env.write(t, "videos/holiday.mkv", bytes.Repeat([]byte("v"), 2048))
	env.write(t, "videos/holiday.txt", []byte("notes"))
	env.refreshAndWait(t, 2)

	q := search.NewADCQuery([]string{"ANholiday", "EXmkv", "GE1024"}, 10)
	results := env.engine.Search(q, ProfileDefault)
	require.Len(t, results, 1)
	assert.Equal(t, "holiday.mkv", results[0].File.Name())
}

func TestFileLists(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	env.write(t, "album/track1.mp3", []byte("track one bytes"))
	env.write(t, "album/track2.mp3", []byte("track two bytes!"))
	env.refreshAndWait(t, 2)

	t.Run("PartialListRoundTrips", func(t *testing.T) {
		data, err := env.engine.PartialList("/music/album/", true, ProfileDefault)
		require.NoError(t, err)
		assert.Contains(t, string(data), `<FileListing Version="1" CID="`+testCID+`"`)

		entries, err := ParseFileList(data)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "track1.mp3", entries[0].Name)
		assert.Equal(t, int64(15), entries[0].Size)
		assert.Len(t, entries[0].TTH, 39)
	})

	t.Run("NonRecursiveMarksIncomplete", func(t *testing.T) {
		data, err := env.engine.PartialList("/music/", false, ProfileDefault)
		require.NoError(t, err)
		assert.Contains(t, string(data), `Incomplete="1"`)
	})

	t.Run("FullListDecompresses", func(t *testing.T) {
		data, gen, err := env.engine.FullList(ProfileDefault, false)
		require.NoError(t, err)
		assert.Greater(t, gen, uint64(0))

		xmlData, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
		require.NoError(t, err)
		entries, err := ParseFileList(xmlData)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		// Cached until forced or aged out.
		again, gen2, err := env.engine.FullList(ProfileDefault, false)
		require.NoError(t, err)
		assert.Equal(t, gen, gen2)
		assert.Equal(t, data, again)

		_, gen3, err := env.engine.FullList(ProfileDefault, true)
		require.NoError(t, err)
		assert.Greater(t, gen3, gen2)
	})

	t.Run("TTHList", func(t *testing.T) {
		data, err := env.engine.TTHList("/music/album/", true, ProfileDefault)
		require.NoError(t, err)
		lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
		assert.Len(t, lines, 2)
		for _, line := range lines {
			assert.Len(t, line, 39)
		}
	})
}

func TestShareCacheRoundTrip(t *testing.T) {
	cfgDir := t.TempDir()
	env := newTestEnv(t, config.ShareConfig{})
	env.write(t, "cached/file.bin", []byte("cache me"))
	env.refreshAndWait(t, 1)

	require.NoError(t, env.engine.SaveCaches(cfgDir))

	// A second engine over the same root loads from cache, no hashing.
	store2, err := hashdb.Open(t.TempDir())
	require.NoError(t, err)
	defer store2.Close()
	pool2 := hasher.NewPool(config.HasherConfig{MaxThreads: 1}, store2)
	defer pool2.Shutdown()

	engine2, err := NewEngine(config.ShareConfig{
		Roots:       []config.RootConfig{{Path: env.root, Virtual: "music", Profiles: []uint32{0}}},
		FullListAge: time.Minute,
	}, testCID, store2, pool2)
	require.NoError(t, err)
	defer engine2.Shutdown()

	stale := engine2.LoadCaches(cfgDir)
	files, _ := engine2.Totals()
	assert.Equal(t, 1, files)
	_ = stale

	adc, err := engine2.RealToVirtual(filepath.Join(env.root, "cached", "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, "/music/cached/file.bin", adc)
}

func TestSkipList(t *testing.T) {
	t.Run("GlobAndRegex", func(t *testing.T) {
		sl, err := NewSkipList([]string{"*.tmp", "re:^~\\$"}, true)
		require.NoError(t, err)
		assert.True(t, sl.Skip("junk.TMP"))
		assert.True(t, sl.Skip("~$document.docx"))
		assert.True(t, sl.Skip(".hidden"))
		assert.False(t, sl.Skip("keeper.mp3"))
	})

	t.Run("BadRegexFails", func(t *testing.T) {
		_, err := NewSkipList([]string{"re:["}, false)
		assert.Error(t, err)
	})

	t.Run("AppliedDuringRefresh", func(t *testing.T) {
		env := newTestEnv(t, config.ShareConfig{SkipList: []string{"*.tmp"}})
		env.write(t, "real.bin", []byte("real"))
		env.write(t, "scratch.tmp", []byte("scratch"))
		env.refreshAndWait(t, 1)

		_, err := env.engine.FindFile("/music/real.bin", ProfileDefault)
		assert.NoError(t, err)
	})
}

func TestTempShares(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	ts := env.engine.AddTempShare(tthFromByte(7), "/outside/secret.bin", 100, "PEERCID")

	t.Run("KeyedLookup", func(t *testing.T) {
		got, ok := env.engine.TempShareByTTH(ts.TTH, "PEERCID")
		require.True(t, ok)
		assert.Equal(t, ts.Path, got.Path)

		_, ok = env.engine.TempShareByTTH(ts.TTH, "OTHERCID")
		assert.False(t, ok)
	})

	t.Run("Revoke", func(t *testing.T) {
		assert.True(t, env.engine.RemoveTempShare(ts.Token))
		assert.False(t, env.engine.RemoveTempShare(ts.Token))
		_, ok := env.engine.TempShareByTTH(ts.TTH, "PEERCID")
		assert.False(t, ok)
	})
}

func TestBloomPrunesImpossibleQueries(t *testing.T) {
	env := newTestEnv(t, config.ShareConfig{})
	env.write(t, "something.mp3", []byte("data"))
	env.refreshAndWait(t, 1)

	q := search.NewNMDCQuery("zzqqxxyy-not-there", search.SizeDontCare, 0, search.TypeAny, 10)
	assert.Empty(t, env.engine.Search(q, ProfileDefault))
}
