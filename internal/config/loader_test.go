package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "pagesmith")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
	assert.True(t, cfg.Server.OpenEndpointEnabled())
	assert.Equal(t, "main", cfg.GitHub.DefaultBranch)
	assert.Equal(t, "mit", cfg.GitHub.LicenseTemplate)
	assert.Equal(t, "template", cfg.Generator.Backend)
	assert.Equal(t, "index.html", cfg.Generator.PrimaryFile)
	assert.Equal(t, "legacy", cfg.Pages.BuildType)
	assert.Equal(t, 5*time.Second, cfg.Pages.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.Pages.PollTimeout)
	assert.Equal(t, 10*time.Second, cfg.Pages.RequestTimeout)
	assert.Equal(t, 5, cfg.Notify.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Notify.InitialBackoff)
	assert.True(t, cfg.Secrets.Enabled())
	assert.Equal(t, "ghp_test", cfg.GitHub.Token.Value())
}

func TestLoadWithFile_YAMLAndEnvOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  port: 9090
  open_endpoint: false
github:
  token: from-yaml
pages:
  poll_timeout: 2m
generator:
  backend: genai
  provider: anthropic
`, 0600)

	t.Setenv("GITHUB_TOKEN", "")
	require.NoError(t, os.Unsetenv("GITHUB_TOKEN"))
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("TASK_SECRET", "s3cret")
	t.Setenv("NOTIFY_MAX_ATTEMPTS", "3")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port, "env overrides yaml")
	assert.False(t, cfg.Server.OpenEndpointEnabled())
	assert.Equal(t, "from-yaml", cfg.GitHub.Token.Value())
	assert.Equal(t, "s3cret", cfg.Task.Secret.Value())
	assert.Equal(t, 2*time.Minute, cfg.Pages.PollTimeout)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, "genai", cfg.Generator.Backend)
}

func TestLoadWithFile_RequiresToken(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("GITHUB_TOKEN", "")

	_, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github token")
}

func TestLoadWithFile_RejectsUnknownBackend(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("GENERATOR_BACKEND", "magic")

	_, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown generator backend")
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	path := writeConfig(t, dir, "server:\n  port: 9090\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	path := writeConfig(t, dir, "server:\n  port: [\n", 0600)

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupTestHome(t)

	valid := []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "prod", "config.yaml"),
		"/etc/pagesmith/config.yaml",
	}
	for _, p := range valid {
		t.Run("allows "+p, func(t *testing.T) {
			assert.NoError(t, validateConfigPath(p))
		})
	}

	invalid := []string{
		"/etc/passwd",
		"/tmp/config.yaml",
		"/etc/pagesmith../etc/passwd",
		filepath.Join(dir, "..", "..", "..", "etc", "passwd"),
	}
	for _, p := range invalid {
		t.Run("rejects "+p, func(t *testing.T) {
			assert.Error(t, validateConfigPath(p))
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"GITHUB_TOKEN":          "github.token",
		"TASK_SECRET":           "task.secret",
		"PAGES_POLL_TIMEOUT":    "pages.poll_timeout",
		"GENERATOR_API_KEY":     "generator.api_key",
		"PATH":                  "",
		"HOME_DIR":              "",
		"SERVER_":               "",
		"TELEMETRY_SAMPLE_RATE": "telemetry.sample_rate",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
