package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	assert.NotEmpty(t, cfg.Store.Root)
	assert.Equal(t, 30000, cfg.Observer.ThresholdTokens)
	assert.Equal(t, 40000, cfg.Reflector.ThresholdTokens)
	assert.Equal(t, 2048, cfg.Sanitizer.MaxEntryChars)
	assert.InDelta(t, 0.2, cfg.Anchor.DriftThreshold, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestStorePaths(t *testing.T) {
	t.Parallel()

	store := StoreConfig{Root: "/srv/agent"}

	assert.Equal(t, filepath.Join("/srv/agent", "memory"), store.MemoryDir())
	assert.Equal(t, filepath.Join("/srv/agent", "memory", "observations.md"), store.ObservationsPath())
	assert.Equal(t, filepath.Join("/srv/agent", "memory", "audit.jsonl"), store.AuditPath())
	assert.Equal(t, filepath.Join("/srv/agent", "memory", "sessions"), store.SessionsDir())
	assert.Equal(t, filepath.Join("/srv/agent", "runs"), store.RunsDir())

	store.Runs = "/var/run/agent"
	assert.Equal(t, "/var/run/agent", store.RunsDir())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 30000, cfg.Observer.ThresholdTokens)
	assert.Equal(t, 40000, cfg.Reflector.ThresholdTokens)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  root: /var/lib/agentmem
observer:
  threshold_tokens: 12000
llm:
  provider: fake
  model: test-model
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/agentmem", cfg.Store.Root)
	assert.Equal(t, 12000, cfg.Observer.ThresholdTokens)
	// Unset fields still pick up defaults.
	assert.Equal(t, 40000, cfg.Reflector.ThresholdTokens)
	assert.Equal(t, "fake", cfg.LLM.Provider)
	assert.Equal(t, "test-model", cfg.LLM.Model)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("observer:\n  threshold_tokens: 12000\n"), 0o600))

	t.Setenv("AGENTMEM_OBSERVER_THRESHOLD_TOKENS", "9000")
	t.Setenv("AGENTMEM_STORE_ROOT", "/tmp/agent-env")
	t.Setenv("AGENTMEM_LLM_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Observer.ThresholdTokens)
	assert.Equal(t, "/tmp/agent-env", cfg.Store.Root)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  root: /tmp/x\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(big), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "negative observer threshold",
			content: "observer:\n  threshold_tokens: -5\n",
			wantErr: "observer.threshold_tokens",
		},
		{
			name:    "drift threshold out of range",
			content: "anchor:\n  drift_threshold: 1.5\n",
			wantErr: "anchor.drift_threshold",
		},
		{
			name:    "unknown provider",
			content: "llm:\n  provider: cohere\n",
			wantErr: "llm.provider",
		},
		{
			name:    "entry budget too small",
			content: "sanitizer:\n  max_entry_chars: 10\n",
			wantErr: "sanitizer.max_entry_chars",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("missing root", func(t *testing.T) {
		t.Parallel()

		cfg := Default()
		cfg.Store.Root = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("bad logging level", func(t *testing.T) {
		t.Parallel()

		cfg := Default()
		cfg.Logging.Level = "chatty"
		require.Error(t, cfg.Validate())
	})
}
