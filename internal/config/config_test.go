package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 40, cfg.Assistant.HistoryLimit)
	assert.Equal(t, "developer", cfg.Assistant.DefaultMode)
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetWatchDebounce())
	assert.Contains(t, cfg.Watch.Extensions, ".md")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	if diff := cmp.Diff(DefaultConfig().Watch, cfg.Watch); diff != "" {
		t.Errorf("watch config mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "quill", cfg.Name)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("QUILL_MODEL", "")
	t.Setenv("QUILL_DB", "")
	path := ConfigPath(t.TempDir())

	cfg := DefaultConfig()
	cfg.Assistant.DefaultMode = "beginner"
	cfg.Assistant.HistoryLimit = 10
	cfg.Watch.Debounce = "250ms"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("config round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assistant:\n  history_limit: 6\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Assistant.HistoryLimit)
	// Everything unspecified falls back to defaults.
	assert.Equal(t, "developer", cfg.Assistant.DefaultMode)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("QUILL_MODEL", "gemini-exp")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "key-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-exp", cfg.LLM.Model)
}

func TestGeminiKeyTakesPrecedenceOverGoogleKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Assistant.HistoryLimit = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Assistant.DefaultMode = "expert"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LLM.Provider = "openai"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Watch.Extensions = nil
	assert.Error(t, cfg.Validate())
}

func TestMalformedDurationFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "soon"
	cfg.Watch.Debounce = "whenever"

	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetWatchDebounce())
}
