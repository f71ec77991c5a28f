package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCLI runs the root command with args and captures its output.
// Flag globals are reset so one test cannot leak state into the next.
func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath, storeRoot, sessionID, anchorText = "", "", "", ""
	observeExternal, observeOrigin = false, ""
	contextStableOnly = false
	reflectForce = false

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestInitCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	out, err := executeCLI(t, "init", "--store", store)
	require.NoError(t, err)

	assert.Contains(t, out, "Store ready")
	assert.Contains(t, out, "0 entries")

	info, err := os.Stat(store)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(store, "memory", "observations.md"))
	require.NoError(t, err)
}

func TestObserveAndContext(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	out, err := executeCLI(t, "observe", "--store", store, "🔴 OAuth token expired mid-upload")
	require.NoError(t, err)
	assert.Contains(t, out, "🔴 OAuth token expired mid-upload")

	out, err = executeCLI(t, "context", "--store", store, "--stable-only")
	require.NoError(t, err)
	assert.Contains(t, out, "OAuth token expired mid-upload")
	assert.Contains(t, out, "🔴")
}

func TestObserveRejectsEmptyInput(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	_, err := executeCLI(t, "observe", "--store", store, "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text to observe")
}

func TestVerifyCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	_, err := executeCLI(t, "observe", "--store", store, "routine entry")
	require.NoError(t, err)

	out, err := executeCLI(t, "verify", "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "Audit chain verified")

	// An out-of-band append must fail verification on the next load.
	obsPath := filepath.Join(store, "memory", "observations.md")
	f, err := os.OpenFile(obsPath, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("\n\n🟢 [2026-02-20] planted entry")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = executeCLI(t, "verify", "--store", store)
	require.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	_, err := executeCLI(t, "observe", "--store", store, "first fact")
	require.NoError(t, err)

	out, err := executeCLI(t, "status", "--store", store, "--session", "cli-check")
	require.NoError(t, err)
	assert.Contains(t, out, "Observations: 1")
	assert.Contains(t, out, "cli-check")
}

func TestReflectWithoutProvider(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	_, err := executeCLI(t, "observe", "--store", store, "some fact")
	require.NoError(t, err)

	_, err = executeCLI(t, "reflect", "--store", store, "--force")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no llm adapter")
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Go Version:")
}

func TestConfigFileOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := filepath.Join(t.TempDir(), "memory")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfgYAML := "store:\n  root: " + store + "\nlogging:\n  level: warn\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	out, err := executeCLI(t, "init", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, store)
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc", shortHash("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	assert.Equal(t, "abc", shortHash("abc"))
}
