package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refreshRecorder struct {
	mu   sync.Mutex
	dirs []string
}

func (r *refreshRecorder) record(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, dir)
}

func (r *refreshRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dirs...)
}

func (r *refreshRecorder) waitFor(t *testing.T, dir string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, d := range r.snapshot() {
			if d == dir {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no refresh observed for %s (got %v)", dir, r.snapshot())
}

func TestMonitorSchedulesRefreshAfterQuietPeriod(t *testing.T) {
	rec := &refreshRecorder{}
	m, err := New(100*time.Millisecond, rec.record)
	require.NoError(t, err)
	defer m.Close()

	root := t.TempDir()
	require.NoError(t, m.AddRoot(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0o644))
	rec.waitFor(t, root, 5*time.Second)
}

func TestMonitorCoalescesBurst(t *testing.T) {
	rec := &refreshRecorder{}
	m, err := New(300*time.Millisecond, rec.record)
	require.NoError(t, err)
	defer m.Close()

	root := t.TempDir()
	require.NoError(t, m.AddRoot(root))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "burst.txt"), []byte{byte(i)}, 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	rec.waitFor(t, root, 5*time.Second)

	// One quiet period, one refresh for the directory.
	count := 0
	for _, d := range rec.snapshot() {
		if d == root {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMonitorWatchesNewSubdirectories(t *testing.T) {
	rec := &refreshRecorder{}
	m, err := New(100*time.Millisecond, rec.record)
	require.NoError(t, err)
	defer m.Close()

	root := t.TempDir()
	require.NoError(t, m.AddRoot(root))

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	rec.waitFor(t, root, 5*time.Second)

	// Writes inside the new directory are now seen too.
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("y"), 0o644))
	rec.waitFor(t, sub, 5*time.Second)
}

func TestMonitorEvents(t *testing.T) {
	rec := &refreshRecorder{}
	m, err := New(time.Hour, rec.record) // debounce never fires here
	require.NoError(t, err)
	defer m.Close()

	var mu sync.Mutex
	var events []Event
	m.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	root := t.TempDir()
	require.NoError(t, m.AddRoot(root))

	path := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Remove(path))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		var created, deleted bool
		for _, ev := range events {
			switch e := ev.(type) {
			case FileCreated:
				created = created || e.Path == path
			case FileDeleted:
				deleted = deleted || e.Path == path
			}
		}
		mu.Unlock()
		if created && deleted {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected create and delete events")
}

func TestMonitorAddRootFailure(t *testing.T) {
	rec := &refreshRecorder{}
	m, err := New(time.Second, rec.record)
	require.NoError(t, err)
	defer m.Close()

	// A file in place of a directory cannot be registered.
	filePath := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	err = m.AddRoot(filePath)
	assert.Error(t, err)
}
