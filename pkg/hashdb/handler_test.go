package hashdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openHandler(t *testing.T) Handler {
	t.Helper()
	h, err := openBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHandlerPutSemantics(t *testing.T) {
	h := openHandler(t)

	require.NoError(t, h.Put([]byte("key"), []byte("value")))

	t.Run("NoOverwrite", func(t *testing.T) {
		err := h.Put([]byte("key"), []byte("other"))
		assert.ErrorIs(t, err, ErrKeyExists)
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		require.NoError(t, h.Upsert([]byte("key"), []byte("replaced")))
		var got []byte
		found, err := h.Get([]byte("key"), func(v []byte) error {
			got = append([]byte(nil), v...)
			return nil
		})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "replaced", string(got))
	})

	t.Run("GetMissing", func(t *testing.T) {
		found, err := h.Get([]byte("absent"), func([]byte) error { return nil })
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := h.Exists([]byte("key"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.Exists([]byte("absent"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestHandlerIterationAndRemoval(t *testing.T) {
	h := openHandler(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.Put([]byte(k), []byte("v-"+k)))
	}

	t.Run("EachVisitsAllInOrder", func(t *testing.T) {
		var keys []string
		err := h.Each(func(key, value []byte) error {
			keys = append(keys, string(key))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
	})

	t.Run("RemoveIf", func(t *testing.T) {
		removed, err := h.RemoveIf(func(key, _ []byte) bool {
			return string(key) == "b" || string(key) == "d"
		})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		count, err := h.Size(true)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("SizeOnDisk", func(t *testing.T) {
		n, err := h.SizeOnDisk()
		require.NoError(t, err)
		assert.Greater(t, n, int64(0))
	})
}
