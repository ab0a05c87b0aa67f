package thread

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"quill/internal/logging"

	"golang.org/x/sync/errgroup"
)

// restoreConcurrency bounds parallel document reads during restart
// restoration.
const restoreConcurrency = 8

// Coordinator keeps the registry consistent with the external document
// set: it consumes opened/deleted events and rebuilds the thread list
// from persisted histories at startup.
type Coordinator struct {
	registry   *Registry
	active     *ActiveSelector
	persister  *Persister
	notifier   *Notifier
	extensions map[string]struct{}

	// resolveText resolves a thread key to the document's current text,
	// best-effort. Injected so tests can substitute a stub.
	resolveText func(key string) string
}

// NewCoordinator creates a coordinator for the given supported
// extensions (lowercase, with leading dot).
func NewCoordinator(registry *Registry, active *ActiveSelector, persister *Persister, notifier *Notifier, extensions []string) *Coordinator {
	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	return &Coordinator{
		registry:    registry,
		active:      active,
		persister:   persister,
		notifier:    notifier,
		extensions:  extSet,
		resolveText: readDocumentText,
	}
}

// SetResolveText overrides best-effort document text resolution.
func (c *Coordinator) SetResolveText(fn func(key string) string) {
	c.resolveText = fn
}

// Supported reports whether the document key's extension gets a thread.
func (c *Coordinator) Supported(key string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimPrefix(key, "file://")))
	_, ok := c.extensions[ext]
	return ok
}

// HandleOpened creates a thread for a newly opened supported document.
// Creation is idempotent, so repeat opens are harmless.
func (c *Coordinator) HandleOpened(ctx context.Context, key, text string) {
	if !c.Supported(key) {
		return
	}
	if err := c.registry.CreateThread(ctx, key, text, ""); err != nil {
		logging.Get(logging.CategorySession).Error("Could not create thread for opened document %s: %v", key, err)
	}
}

// HandleDeleted tears down the thread for a deleted document, reassigns
// the active pointer to the general thread if needed, and emits a state
// reset so observers refresh.
func (c *Coordinator) HandleDeleted(ctx context.Context, key string) {
	wasActive := c.active.Active() == key

	if err := c.registry.RemoveThread(key); err != nil {
		logging.Get(logging.CategorySession).Warn("Could not remove thread for deleted document %s: %v", key, err)
	}
	if wasActive {
		c.active.ReassignToGeneral()
	}
	c.notifier.emitStateReset()
}

// EnsureGeneral creates the general-purpose thread if it does not exist.
func (c *Coordinator) EnsureGeneral(ctx context.Context) error {
	return c.registry.CreateThread(ctx, GeneralKey, "", GeneralTitle)
}

// Restore rebuilds the thread list from persisted histories after a
// restart. Document texts are resolved concurrently (best-effort, empty
// when unresolvable), then threads are created in lexicographic key order
// so restoration is deterministic per run.
func (c *Coordinator) Restore(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategorySession, "coordinator.Restore")
	defer timer.Stop()

	keys, err := c.persister.ListThreadKeys()
	if err != nil {
		return err
	}

	texts := make([]string, len(keys))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for i, key := range keys {
		if key == GeneralKey {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			text := c.resolveText(key)
			mu.Lock()
			texts[i] = text
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, key := range keys {
		if key == GeneralKey {
			continue
		}
		if err := c.registry.CreateThread(ctx, key, texts[i], ""); err != nil {
			logging.Get(logging.CategorySession).Warn("Could not restore thread %s: %v", key, err)
		}
	}

	logging.Session("Restored %d threads from persisted history", len(keys))
	return nil
}

// readDocumentText resolves a thread key to file contents, best-effort.
func readDocumentText(key string) string {
	path := strings.TrimPrefix(key, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
