package share

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// buildFixture assembles a small index by hand:
//
//	/data/music (profile 0, virtual "music")
//	  album/
//	    one.mp3
//	    two.mp3   (same content as one.mp3)
func buildFixture(t *testing.T) (*index, *Root) {
	t.Helper()
	ix := newIndex()

	r := &Root{
		path:     "/data/music",
		virtual:  NewDualName("music"),
		profiles: NewProfileSet(0),
	}
	r.dir = newDirectory(r.virtual, nil, r, 0)
	ix.roots["/data/music"] = r

	album := newDirectory(NewDualName("Album"), r.dir, r, 0)
	r.dir.dirs[album.NameLower()] = album

	shared := tth.Value{0xAA}
	for _, name := range []string{"One.mp3", "Two.mp3"} {
		f := &File{name: NewDualName(name), parent: album, size: 100, tth: shared}
		album.files[f.NameLower()] = f
	}
	ix.attachSubtree(r.dir)
	return ix, r
}

func TestIndexSideIndices(t *testing.T) {
	ix, r := buildFixture(t)

	t.Run("TTHIndexHoldsBothFiles", func(t *testing.T) {
		files := ix.filesByTTH(tth.Value{0xAA}, 0)
		assert.Len(t, files, 2)
	})

	t.Run("InvisibleProfileSeesNone", func(t *testing.T) {
		assert.Empty(t, ix.filesByTTH(tth.Value{0xAA}, 5))
	})

	t.Run("DirNameIndex", func(t *testing.T) {
		assert.Len(t, ix.dirNames["album"], 1)
		assert.Len(t, ix.dirNames["music"], 1)
	})

	t.Run("Totals", func(t *testing.T) {
		assert.Equal(t, 2, ix.sharedFiles)
		assert.Equal(t, int64(200), ix.sharedBytes)
	})

	t.Run("DetachClearsEverything", func(t *testing.T) {
		ix.detachSubtree(r.dir)
		assert.Empty(t, ix.tthIndex)
		assert.Empty(t, ix.dirNames)
		assert.Equal(t, 0, ix.sharedFiles)
		assert.Equal(t, int64(0), ix.sharedBytes)
	})
}

func TestIndexLookups(t *testing.T) {
	ix, _ := buildFixture(t)

	t.Run("FindDirectoryCaseInsensitive", func(t *testing.T) {
		d, err := ix.findDirectory("/MUSIC/ALBUM/", 0)
		require.NoError(t, err)
		assert.Equal(t, "Album", d.Name())
	})

	t.Run("FindFile", func(t *testing.T) {
		f, err := ix.findFile("/music/Album/one.mp3", 0)
		require.NoError(t, err)
		assert.Equal(t, "One.mp3", f.Name())
		assert.Equal(t, "/music/Album/One.mp3", f.ADCPath())
	})

	t.Run("UnknownVirtualRoot", func(t *testing.T) {
		_, err := ix.findDirectory("/videos/", 0)
		assert.True(t, IsNotFound(err))
	})

	t.Run("WrongProfileDenied", func(t *testing.T) {
		_, err := ix.findDirectory("/music/", 9)
		assert.True(t, IsAccessDenied(err))
	})

	t.Run("RealToVirtual", func(t *testing.T) {
		adc, err := ix.realToVirtual("/data/music/Album/Two.mp3")
		require.NoError(t, err)
		assert.Equal(t, "/music/Album/Two.mp3", adc)

		adc, err = ix.realToVirtual("/data/music/Album")
		require.NoError(t, err)
		assert.Equal(t, "/music/Album/", adc)

		_, err = ix.realToVirtual("/elsewhere/file.bin")
		assert.True(t, IsNotFound(err))
	})

	t.Run("RealPathRoundTrip", func(t *testing.T) {
		f, err := ix.findFile("/music/Album/one.mp3", 0)
		require.NoError(t, err)
		assert.Equal(t, "/data/music/Album/One.mp3", f.RealPath())
	})
}

func TestNameBloom(t *testing.T) {
	b := newNameBloom(0)
	b.add("report 2024 final.pdf")

	t.Run("SubstringsHit", func(t *testing.T) {
		assert.True(t, b.mightContain("report"))
		assert.True(t, b.mightContain("2024 final"))
		assert.True(t, b.mightContain(" 2024"))
	})

	t.Run("ShortTermsAlwaysPass", func(t *testing.T) {
		assert.True(t, b.mightContain("zzz"))
	})

	t.Run("AbsentTermMisses", func(t *testing.T) {
		assert.False(t, b.mightContain("completely-absent-token"))
	})
}

func TestProfileSet(t *testing.T) {
	a := NewProfileSet(0, 1)
	b := NewProfileSet(1, 2)
	c := NewProfileSet(3)

	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(c))
	assert.True(t, a.Has(0))
	assert.False(t, a.Has(2))
	assert.ElementsMatch(t, []ProfileToken{0, 1}, a.Tokens())

	clone := a.Clone()
	delete(clone, 0)
	assert.True(t, a.Has(0))
}
