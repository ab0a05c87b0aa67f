package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testExtensions = []string{".md", ".txt"}

func newTestWatcher(t *testing.T) (*DocWatcher, string) {
	t.Helper()
	root := t.TempDir()
	w, err := NewDocWatcher(root, testExtensions, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, root
}

// waitFor drains the event stream until an event satisfies match.
func waitFor(t *testing.T, w *DocWatcher, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func TestCreateEmitsOpenedWithText(t *testing.T) {
	w, root := newTestWatcher(t)

	path := filepath.Join(root, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide"), 0644))

	ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })
	assert.Equal(t, KeyForPath(path), ev.Key)
	assert.Equal(t, "# Guide", ev.Text)
}

func TestUnsupportedExtensionIgnored(t *testing.T) {
	w, root := newTestWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("notes"), 0644))

	// Only the supported file surfaces.
	ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })
	assert.True(t, strings.HasSuffix(ev.Key, "notes.txt"))
}

func TestRemoveEmitsDeleted(t *testing.T) {
	w, root := newTestWatcher(t)

	path := filepath.Join(root, "doomed.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })

	require.NoError(t, os.Remove(path))
	ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Deleted })
	assert.Equal(t, KeyForPath(path), ev.Key)
}

func TestWritesAreDebounced(t *testing.T) {
	w, root := newTestWatcher(t)

	path := filepath.Join(root, "busy.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))
	// Rapid rewrites before the debounce window closes.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("final"), 0644))

	ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })
	assert.Equal(t, "final", ev.Text, "the settled content is what gets emitted")
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	w, root := newTestWatcher(t)

	sub := filepath.Join(root, "docs")
	require.NoError(t, os.Mkdir(sub, 0755))
	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "nested.md")
	require.NoError(t, os.WriteFile(path, []byte("nested"), 0644))

	ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })
	assert.Equal(t, KeyForPath(path), ev.Key)
}

func TestDotDirectoriesSkipped(t *testing.T) {
	root := t.TempDir()
	hidden := filepath.Join(root, ".quill")
	require.NoError(t, os.Mkdir(hidden, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hidden, "internal.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.md"), []byte("y"), 0644))

	w, err := NewDocWatcher(root, testExtensions, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	require.NoError(t, w.ScanExisting())
	ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })
	assert.True(t, strings.HasSuffix(ev.Key, "visible.md"))
}

func TestScanExistingEmitsOpened(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.go"), []byte("c"), 0644))

	w, err := NewDocWatcher(root, testExtensions, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	require.NoError(t, w.ScanExisting())

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := waitFor(t, w, func(ev Event) bool { return ev.Type == Opened })
		seen[filepath.Base(strings.TrimPrefix(ev.Key, "file://"))] = true
	}
	assert.True(t, seen["a.md"])
	assert.True(t, seen["b.txt"])
}

func TestStopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w, err := NewDocWatcher(root, testExtensions, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}

func TestKeyForPathIsAbsolute(t *testing.T) {
	key := KeyForPath("docs/guide.md")
	assert.True(t, strings.HasPrefix(key, "file:///"))
	assert.True(t, strings.HasSuffix(key, "/docs/guide.md"))
}
