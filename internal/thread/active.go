package thread

import (
	"sync"

	"quill/internal/llm"
	"quill/internal/logging"
)

// ActiveSelector tracks which thread is currently focused for UI
// dispatch. At most one key is active, and it always names a registered
// thread (or is unset before the first selection).
type ActiveSelector struct {
	registry  *Registry
	persister *Persister
	notifier  *Notifier

	mu  sync.Mutex
	key string
}

// NewActiveSelector creates a selector with no active thread.
func NewActiveSelector(registry *Registry, persister *Persister, notifier *Notifier) *ActiveSelector {
	return &ActiveSelector{
		registry:  registry,
		persister: persister,
		notifier:  notifier,
	}
}

// SetActive focuses the given thread and emits an active-changed event
// carrying its persisted history. A key that is not registered is
// ignored; that guards against the race where a thread was removed
// between the user action and its dispatch.
func (a *ActiveSelector) SetActive(key string) {
	if !a.registry.Has(key) {
		logging.DispatchDebug("SetActive %s ignored: not a registered thread", key)
		return
	}

	a.mu.Lock()
	a.key = key
	a.mu.Unlock()

	history, _, err := a.persister.LoadHistory(key)
	if err != nil {
		logging.Get(logging.CategoryDispatch).Warn("Could not load history for active thread %s: %v", key, err)
		history = nil
	}
	if history == nil {
		history = []llm.Message{}
	}
	logging.Dispatch("Active thread is now %s", key)
	a.notifier.emitActiveChanged(ActiveChanged{Key: key, History: history})
}

// Active returns the focused thread key, or "" when unset.
func (a *ActiveSelector) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.key
}

// ReassignToGeneral moves focus to the general thread. Called when the
// active thread's document is deleted; the general thread is never
// removed, so this always succeeds.
func (a *ActiveSelector) ReassignToGeneral() {
	a.SetActive(GeneralKey)
}
