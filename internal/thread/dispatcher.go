package thread

import (
	"context"

	"quill/internal/logging"

	"github.com/google/uuid"
)

// Dispatcher is the UI-facing entry point. Every external event (panel
// action, user message, watcher event) enters here and is routed to the
// registry, selector, or coordinator; each call gets a correlation ID for
// log tracing.
type Dispatcher struct {
	registry    *Registry
	active      *ActiveSelector
	coordinator *Coordinator
}

// NewDispatcher wires the facade over the core components.
func NewDispatcher(registry *Registry, active *ActiveSelector, coordinator *Coordinator) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		active:      active,
		coordinator: coordinator,
	}
}

// CreateThread creates a thread for the given document key.
func (d *Dispatcher) CreateThread(ctx context.Context, key, contextText, title string) error {
	logging.Dispatch("[%s] createThread key=%s", shortID(), key)
	return d.registry.CreateThread(ctx, key, contextText, title)
}

// SetActiveThread focuses a thread for UI dispatch.
func (d *Dispatcher) SetActiveThread(key string) {
	logging.Dispatch("[%s] setActiveThread key=%s", shortID(), key)
	d.active.SetActive(key)
}

// ActiveThread returns the focused thread key, or "" when unset.
func (d *Dispatcher) ActiveThread() string {
	return d.active.Active()
}

// SendMessage submits a prompt to a thread and returns the response text.
// Chat failures are returned to the caller (the one user-visible error
// class); an unknown key yields an empty response.
func (d *Dispatcher) SendMessage(ctx context.Context, key, prompt string) (string, error) {
	id := shortID()
	logging.Dispatch("[%s] sendMessage key=%s prompt_len=%d", id, key, len(prompt))
	response, err := d.registry.Chat(ctx, key, prompt)
	if err != nil {
		logging.Get(logging.CategoryDispatch).Error("[%s] sendMessage failed: %v", id, err)
		return "", err
	}
	logging.DispatchDebug("[%s] sendMessage response_len=%d", id, len(response))
	return response, nil
}

// SetThreadMode switches a document thread's persona. History is
// preserved across the switch.
func (d *Dispatcher) SetThreadMode(key string, mode Mode) error {
	logging.Dispatch("[%s] setThreadMode key=%s mode=%s", shortID(), key, mode)
	return d.registry.SetMode(key, mode)
}

// ResetThread clears a thread's conversation.
func (d *Dispatcher) ResetThread(key string) error {
	logging.Dispatch("[%s] resetThread key=%s", shortID(), key)
	return d.registry.ResetThread(key)
}

// Threads returns the current thread summaries.
func (d *Dispatcher) Threads() []Info {
	return d.registry.List()
}

// HandleOpened routes a document-opened event from the watcher.
func (d *Dispatcher) HandleOpened(ctx context.Context, key, text string) {
	d.coordinator.HandleOpened(ctx, key, text)
}

// HandleDeleted routes a document-deleted event from the watcher.
func (d *Dispatcher) HandleDeleted(ctx context.Context, key string) {
	d.coordinator.HandleDeleted(ctx, key)
}

// shortID returns a compact correlation ID for log lines.
func shortID() string {
	return uuid.NewString()[:8]
}
