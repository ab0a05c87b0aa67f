package llm

import (
	"context"
	"fmt"

	"quill/internal/config"
	"quill/internal/logging"
)

// SessionFactory creates sessions with an initial system message.
// Two implementations exist: the provider-backed primary and the direct
// REST fallback. The registry tries the primary first and degrades to
// the fallback, so runtime type inspection is never needed.
type SessionFactory interface {
	NewSession(ctx context.Context, systemMessage string) (*Session, error)
	Name() string
}

// ProviderFactory creates sessions over the genai SDK client.
type ProviderFactory struct {
	cfg *config.Config
}

// NewProviderFactory returns the primary, provider-backed factory.
func NewProviderFactory(cfg *config.Config) *ProviderFactory {
	return &ProviderFactory{cfg: cfg}
}

// NewSession constructs the SDK client and wraps it in a session.
// Fails when the SDK client cannot be created (missing key, bad config).
func (f *ProviderFactory) NewSession(ctx context.Context, systemMessage string) (*Session, error) {
	client, err := NewGenAIClient(ctx, f.cfg.LLM.APIKey, f.cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("provider session unavailable: %w", err)
	}
	logging.APIDebug("Provider factory created session via %s", client.Name())
	return NewSession(client, systemMessage, f.cfg.Assistant.HistoryLimit), nil
}

// Name identifies the factory for diagnostics.
func (f *ProviderFactory) Name() string { return "provider" }

// DirectFactory creates sessions over the plain REST client. It is the
// degraded path used when the provider factory fails.
type DirectFactory struct {
	cfg *config.Config
}

// NewDirectFactory returns the fallback factory.
func NewDirectFactory(cfg *config.Config) *DirectFactory {
	return &DirectFactory{cfg: cfg}
}

// NewSession wraps the REST client in a session. Construction itself
// cannot fail; a missing API key surfaces on the first chat call.
func (f *DirectFactory) NewSession(ctx context.Context, systemMessage string) (*Session, error) {
	client := NewGeminiHTTPClientWithConfig(GeminiHTTPConfig{
		APIKey:  f.cfg.LLM.APIKey,
		BaseURL: f.cfg.LLM.BaseURL,
		Model:   f.cfg.LLM.Model,
		Timeout: f.cfg.GetLLMTimeout(),
	})
	logging.APIDebug("Direct factory created session via %s", client.Name())
	return NewSession(client, systemMessage, f.cfg.Assistant.HistoryLimit), nil
}

// Name identifies the factory for diagnostics.
func (f *DirectFactory) Name() string { return "direct" }
