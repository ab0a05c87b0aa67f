package thread

import (
	"sync"

	"quill/internal/llm"
)

// ListChanged is emitted when a thread is created or removed.
type ListChanged struct {
	Threads   []Info
	ActiveKey string
}

// ActiveChanged is emitted when the active thread moves. It carries the
// new thread's current persisted history so UI subscribers can render
// without a store round trip.
type ActiveChanged struct {
	Key     string
	History []llm.Message
}

// Notifier fans out registry and selector events to subscribers.
// Subscribers run synchronously on the emitting goroutine; they must not
// call back into the registry.
type Notifier struct {
	mu         sync.RWMutex
	listSubs   []func(ListChanged)
	activeSubs []func(ActiveChanged)
	resetSubs  []func()
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// OnListChanged registers a thread-list subscriber.
func (n *Notifier) OnListChanged(fn func(ListChanged)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listSubs = append(n.listSubs, fn)
}

// OnActiveChanged registers an active-thread subscriber.
func (n *Notifier) OnActiveChanged(fn func(ActiveChanged)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activeSubs = append(n.activeSubs, fn)
}

// OnStateReset registers a subscriber for full-state refresh events
// (emitted after a document deletion tears down a thread).
func (n *Notifier) OnStateReset(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetSubs = append(n.resetSubs, fn)
}

func (n *Notifier) emitListChanged(ev ListChanged) {
	n.mu.RLock()
	subs := make([]func(ListChanged), len(n.listSubs))
	copy(subs, n.listSubs)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (n *Notifier) emitActiveChanged(ev ActiveChanged) {
	n.mu.RLock()
	subs := make([]func(ActiveChanged), len(n.activeSubs))
	copy(subs, n.activeSubs)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (n *Notifier) emitStateReset() {
	n.mu.RLock()
	subs := make([]func(), len(n.resetSubs))
	copy(subs, n.resetSubs)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}
