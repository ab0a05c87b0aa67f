package thread

import (
	"context"
	"sync"
	"testing"

	"quill/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, core *testCore) *Coordinator {
	t.Helper()
	c := NewCoordinator(core.registry, core.active, core.persister, core.notifier, core.cfg.Watch.Extensions)
	c.SetResolveText(func(key string) string { return "" })
	return c
}

func TestHandleOpenedCreatesThread(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)
	ctx := context.Background()

	coord.HandleOpened(ctx, "file:///docs/guide.md", "guide text")
	assert.True(t, core.registry.Has("file:///docs/guide.md"))
}

func TestHandleOpenedIgnoresUnsupportedExtension(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)

	coord.HandleOpened(context.Background(), "file:///src/main.go", "package main")
	assert.False(t, core.registry.Has("file:///src/main.go"))
}

func TestHandleDeletedReassignsActiveToGeneral(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)
	ctx := context.Background()

	require.NoError(t, coord.EnsureGeneral(ctx))
	coord.HandleOpened(ctx, docKey, "text")
	core.active.SetActive(docKey)

	var mu sync.Mutex
	resets := 0
	core.notifier.OnStateReset(func() {
		mu.Lock()
		resets++
		mu.Unlock()
	})

	coord.HandleDeleted(ctx, docKey)

	assert.False(t, core.registry.Has(docKey))
	assert.Equal(t, GeneralKey, core.active.Active())
	mu.Lock()
	assert.Equal(t, 1, resets)
	mu.Unlock()
}

func TestHandleDeletedInactiveThreadKeepsFocus(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)
	ctx := context.Background()

	require.NoError(t, coord.EnsureGeneral(ctx))
	coord.HandleOpened(ctx, docKey, "text")
	coord.HandleOpened(ctx, "file:///other.md", "text")
	core.active.SetActive("file:///other.md")

	coord.HandleDeleted(ctx, docKey)
	assert.Equal(t, "file:///other.md", core.active.Active())
}

func TestEnsureGeneralIdempotent(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)
	ctx := context.Background()

	require.NoError(t, coord.EnsureGeneral(ctx))
	require.NoError(t, coord.EnsureGeneral(ctx))

	assert.Equal(t, 1, core.primary.sessionCount())
	thr, ok := core.registry.GetThread(GeneralKey)
	require.True(t, ok)
	assert.Equal(t, GeneralTitle, thr.Title)
}

func TestRestoreRebuildsThreadsFromStore(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)
	ctx := context.Background()

	// Histories left behind by a previous run.
	require.NoError(t, core.persister.SaveHistory("file:///b.md", []llm.Message{
		{Role: llm.RoleHuman, Text: "about b"},
		{Role: llm.RoleAssistant, Text: "b answer"},
	}))
	require.NoError(t, core.persister.SaveHistory("file:///a.md", nil))
	require.NoError(t, core.persister.SaveHistory(GeneralKey, nil))

	require.NoError(t, coord.EnsureGeneral(ctx))
	require.NoError(t, coord.Restore(ctx))

	assert.True(t, core.registry.Has("file:///a.md"))
	assert.True(t, core.registry.Has("file:///b.md"))

	thr, ok := core.registry.GetThread("file:///b.md")
	require.True(t, ok)
	history := thr.Session().History()
	require.Len(t, history, 2)
	assert.Equal(t, "about b", history[0].Text)

	// General first, then document threads in key order.
	infos := core.registry.List()
	require.Len(t, infos, 3)
	assert.Equal(t, GeneralKey, infos[0].Key)
	assert.Equal(t, "file:///a.md", infos[1].Key)
	assert.Equal(t, "file:///b.md", infos[2].Key)
}

func TestRestoreResolvesDocumentText(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)
	ctx := context.Background()

	require.NoError(t, core.persister.SaveHistory(docKey, nil))
	coord.SetResolveText(func(key string) string {
		if key == docKey {
			return "current document text"
		}
		return ""
	})

	require.NoError(t, coord.Restore(ctx))

	thr, ok := core.registry.GetThread(docKey)
	require.True(t, ok)
	assert.Equal(t, "current document text", thr.Context)
}

func TestSupported(t *testing.T) {
	core := newTestCore(t)
	coord := newTestCoordinator(t, core)

	assert.True(t, coord.Supported("file:///a/b.md"))
	assert.True(t, coord.Supported("file:///a/B.MD"))
	assert.True(t, coord.Supported("file:///notes.txt"))
	assert.False(t, coord.Supported("file:///main.go"))
	assert.False(t, coord.Supported("file:///no-extension"))
}
