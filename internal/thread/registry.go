package thread

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"quill/internal/config"
	"quill/internal/llm"
	"quill/internal/logging"
)

// Registry owns the mapping from thread key to live thread. It is the
// single source of truth for which threads exist; all mutation funnels
// through its methods.
//
// Creation is coalesced per key: a second caller arriving while a
// creation is in flight awaits the first's result instead of constructing
// a duplicate session. A removal arriving during creation is queued and
// applied once creation completes (removal wins).
type Registry struct {
	cfg       *config.Config
	primary   llm.SessionFactory
	fallback  llm.SessionFactory
	persister *Persister
	notifier  *Notifier

	mu            sync.Mutex
	threads       map[string]*Thread
	creating      map[string]*creation
	pendingRemove map[string]struct{}

	// activeKeyFn supplies the active key for list-changed events.
	// Set once at wiring time, before any event is emitted.
	activeKeyFn func() string
}

// creation is the per-key in-flight creation future.
type creation struct {
	done chan struct{}
	err  error
}

// NewRegistry creates an empty registry over the given factories.
func NewRegistry(cfg *config.Config, primary, fallback llm.SessionFactory, persister *Persister, notifier *Notifier) *Registry {
	return &Registry{
		cfg:           cfg,
		primary:       primary,
		fallback:      fallback,
		persister:     persister,
		notifier:      notifier,
		threads:       make(map[string]*Thread),
		creating:      make(map[string]*creation),
		pendingRemove: make(map[string]struct{}),
	}
}

// SetActiveKeyFn wires the active-thread key provider used in
// list-changed events. Must be called before any thread is created.
func (r *Registry) SetActiveKeyFn(fn func() string) {
	r.activeKeyFn = fn
}

// CreateThread creates the thread for key if it does not exist. Calling
// it for an existing key is a no-op; calling it concurrently for the same
// key constructs exactly one session, with late callers awaiting the
// first's result.
func (r *Registry) CreateThread(ctx context.Context, key, contextText, title string) error {
	r.mu.Lock()
	if _, ok := r.threads[key]; ok {
		r.mu.Unlock()
		return nil
	}
	if c, ok := r.creating[key]; ok {
		r.mu.Unlock()
		logging.SessionDebug("CreateThread %s: attaching to in-flight creation", key)
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &creation{done: make(chan struct{})}
	r.creating[key] = c
	r.mu.Unlock()

	err := r.buildThread(ctx, c, key, contextText, title)
	return err
}

// buildThread runs the suspension-heavy part of creation (backend call,
// store read) outside the registry lock, then installs the thread.
func (r *Registry) buildThread(ctx context.Context, c *creation, key, contextText, title string) error {
	timer := logging.StartTimer(logging.CategorySession, "registry.CreateThread")
	defer timer.Stop()

	var system string
	mode := Mode(r.cfg.Assistant.DefaultMode)
	if key == GeneralKey {
		title = GeneralTitle
		mode = ""
		system = GeneralSystemMessage()
	} else {
		if title == "" {
			title = TitleFromKey(key)
		}
		system = BuildSystemMessage(title, contextText, mode)
	}

	sess, err := r.primary.NewSession(ctx, system)
	if err != nil {
		logging.Get(logging.CategorySession).Warn(
			"Primary session factory failed for %s, falling back to %s: %v",
			key, r.fallback.Name(), err)
		sess, err = r.fallback.NewSession(ctx, system)
	}
	if err != nil {
		r.mu.Lock()
		delete(r.creating, key)
		_, removed := r.pendingRemove[key]
		delete(r.pendingRemove, key)
		r.mu.Unlock()
		c.err = fmt.Errorf("failed to create session for %s: %w", key, err)
		close(c.done)
		logging.Get(logging.CategorySession).Error("CreateThread %s failed: %v", key, c.err)
		if removed {
			// The queued removal still applies: the document is gone, so
			// its persisted history must not survive to the next restart.
			if derr := r.persister.DeleteHistory(key); derr != nil {
				logging.Get(logging.CategorySession).Warn("Could not delete history for %s: %v", key, derr)
			}
		}
		return c.err
	}

	// Restore persisted history before the thread becomes visible.
	if history, ok, loadErr := r.persister.LoadHistory(key); loadErr != nil {
		logging.Get(logging.CategorySession).Warn("Could not restore history for %s: %v", key, loadErr)
	} else if ok {
		sess.SetHistory(history)
		logging.Session("Restored %d messages for thread %s", len(history), key)
	}

	t := &Thread{Key: key, Title: title, Mode: mode, Context: contextText, session: sess}

	r.mu.Lock()
	r.threads[key] = t
	delete(r.creating, key)
	_, removed := r.pendingRemove[key]
	if removed {
		// A delete event arrived mid-creation; removal wins.
		delete(r.pendingRemove, key)
		delete(r.threads, key)
	}
	r.mu.Unlock()
	close(c.done)

	if removed {
		logging.Session("Thread %s removed immediately after creation (queued delete)", key)
		if err := r.persister.DeleteHistory(key); err != nil {
			logging.Get(logging.CategorySession).Warn("Could not delete history for %s: %v", key, err)
		}
	} else {
		logging.Session("Created thread %s (title=%q mode=%s)", key, title, mode)
	}
	r.notifyListChanged()
	return nil
}

// GetThread returns the thread for key, or false when absent.
func (r *Registry) GetThread(key string) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[key]
	return t, ok
}

// Has reports whether key names a registered thread.
func (r *Registry) Has(key string) bool {
	_, ok := r.GetThread(key)
	return ok
}

// RemoveThread deletes the thread and its persisted history. Removing an
// absent key is a no-op; removing a key whose creation is in flight
// queues the removal. The general thread is never removed.
func (r *Registry) RemoveThread(key string) error {
	if key == GeneralKey {
		return nil
	}

	r.mu.Lock()
	if _, ok := r.creating[key]; ok {
		r.pendingRemove[key] = struct{}{}
		r.mu.Unlock()
		logging.Session("Queued removal of %s until creation completes", key)
		return nil
	}
	if _, ok := r.threads[key]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.threads, key)
	r.mu.Unlock()

	if err := r.persister.DeleteHistory(key); err != nil {
		logging.Get(logging.CategorySession).Warn("Could not delete history for %s: %v", key, err)
	}
	logging.Session("Removed thread %s", key)
	r.notifyListChanged()
	return nil
}

// Chat sends a prompt on the thread's session, persists the full history
// snapshot, and returns the response. An unknown key is a no-op returning
// an empty response. Persistence failure is logged and does not fail the
// exchange.
func (r *Registry) Chat(ctx context.Context, key, prompt string) (string, error) {
	t, ok := r.GetThread(key)
	if !ok {
		logging.Get(logging.CategorySession).Warn("Chat on unknown thread %s ignored", key)
		return "", nil
	}

	response, err := t.session.Chat(ctx, prompt)
	if err != nil {
		return "", err
	}

	// The persister serializes writes per key and takes the snapshot
	// under the key lock, so completion order is preserved.
	if err := r.persister.SaveHistoryFrom(key, t.session.History); err != nil {
		logging.Get(logging.CategorySession).Warn("Could not persist exchange for %s: %v", key, err)
	}
	return response, nil
}

// SetSystemMessage replaces the session's system message without touching
// its history. Unknown keys are a no-op.
func (r *Registry) SetSystemMessage(key, text string) {
	t, ok := r.GetThread(key)
	if !ok {
		return
	}
	t.session.SetSystemMessage(text)
	logging.SessionDebug("System message replaced for thread %s", key)
}

// SetMode switches a document thread's persona, rebuilding the system
// message from the thread's title and captured context. The conversation
// history is preserved. The general thread is exempt.
func (r *Registry) SetMode(key string, mode Mode) error {
	if key == GeneralKey {
		return nil
	}
	if !ValidMode(mode) {
		return fmt.Errorf("unknown mode %q", mode)
	}

	r.mu.Lock()
	t, ok := r.threads[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	t.Mode = mode
	title, contextText := t.Title, t.Context
	r.mu.Unlock()

	t.session.SetSystemMessage(BuildSystemMessage(title, contextText, mode))
	logging.Session("Thread %s switched to %s mode", key, mode)
	return nil
}

// ResetThread clears the session's history and overwrites the persisted
// snapshot with an empty sequence. The thread stays registered and its
// system message is retained. Unknown keys are a no-op.
func (r *Registry) ResetThread(key string) error {
	t, ok := r.GetThread(key)
	if !ok {
		return nil
	}
	t.session.Reset()
	if err := r.persister.SaveHistory(key, nil); err != nil {
		logging.Get(logging.CategorySession).Warn("Could not persist reset for %s: %v", key, err)
	}
	logging.Session("Reset thread %s", key)
	return nil
}

// List returns thread summaries: the general thread first, the rest
// sorted by key.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.threads))
	for _, t := range r.threads {
		infos = append(infos, Info{Key: t.Key, Title: t.Title, Mode: t.Mode})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key == GeneralKey {
			return true
		}
		if infos[j].Key == GeneralKey {
			return false
		}
		return infos[i].Key < infos[j].Key
	})
	return infos
}

func (r *Registry) notifyListChanged() {
	active := ""
	if r.activeKeyFn != nil {
		active = r.activeKeyFn()
	}
	r.notifier.emitListChanged(ListChanged{Threads: r.List(), ActiveKey: active})
}

// TitleFromKey derives a display title from a document URI or path.
func TitleFromKey(key string) string {
	trimmed := strings.TrimPrefix(key, "file://")
	if base := filepath.Base(trimmed); base != "." && base != string(filepath.Separator) {
		return base
	}
	return key
}
