package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	appDir            = "pagesmith"
)

// sections lists the top-level keys that environment variables may set.
// Variables whose first segment is not a section are ignored so unrelated
// process environment (PATH, HOME, ...) never reaches the config tree.
var sections = map[string]bool{
	"server":    true,
	"github":    true,
	"task":      true,
	"generator": true,
	"pages":     true,
	"notify":    true,
	"secrets":   true,
	"logging":   true,
	"telemetry": true,
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GITHUB_TOKEN, TASK_SECRET, SERVER_PORT, ...)
//  2. YAML config file (~/.config/pagesmith/config.yaml)
//  3. Hardcoded defaults
//
// # Security Considerations
//
// The configuration file must live under ~/.config/pagesmith/ or
// /etc/pagesmith/, must have 0600 or 0400 permissions, and must not exceed
// 1MB. A missing file is not an error.
//
// # Environment Variable Mapping
//
// The first underscore separates the section from the field name:
//
//	GITHUB_TOKEN          -> github.token
//	TASK_SECRET           -> task.secret
//	PAGES_POLL_TIMEOUT    -> pages.poll_timeout
//	GENERATOR_API_KEY     -> generator.api_key
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", appDir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the opened descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Returning "" tells
// the provider to skip the variable.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || !sections[parts[0]] || parts[1] == "" {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", appDir),
		filepath.Join("/etc", appDir),
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDir, appDir)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 1
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.Server.MaxBodyBytes == 0 {
		// Attachments travel inline as data URIs.
		cfg.Server.MaxBodyBytes = 10 << 20
	}

	if cfg.GitHub.DefaultBranch == "" {
		cfg.GitHub.DefaultBranch = "main"
	}
	if cfg.GitHub.LicenseTemplate == "" {
		cfg.GitHub.LicenseTemplate = "mit"
	}
	if cfg.GitHub.RequestsPerSecond == 0 {
		cfg.GitHub.RequestsPerSecond = 10
	}
	if cfg.GitHub.RetryMaxAttempts == 0 {
		cfg.GitHub.RetryMaxAttempts = 4
	}
	if cfg.GitHub.RetryInitial == 0 {
		cfg.GitHub.RetryInitial = time.Second
	}
	if cfg.GitHub.RetryMax == 0 {
		cfg.GitHub.RetryMax = 30 * time.Second
	}

	if cfg.Generator.Backend == "" {
		cfg.Generator.Backend = "template"
	}
	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = 3 * time.Minute
	}
	if cfg.Generator.PrimaryFile == "" {
		cfg.Generator.PrimaryFile = "index.html"
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 8192
	}
	if cfg.Generator.Model == "" && cfg.Generator.Backend == "langchain" {
		cfg.Generator.Model = "gpt-4o-mini"
	}

	if cfg.Pages.BuildType == "" {
		cfg.Pages.BuildType = "legacy"
	}
	if cfg.Pages.Path == "" {
		cfg.Pages.Path = "/"
	}
	if cfg.Pages.PollInterval == 0 {
		cfg.Pages.PollInterval = 5 * time.Second
	}
	if cfg.Pages.PollTimeout == 0 {
		cfg.Pages.PollTimeout = 300 * time.Second
	}
	if cfg.Pages.RequestTimeout == 0 {
		cfg.Pages.RequestTimeout = 10 * time.Second
	}

	if cfg.Notify.MaxAttempts == 0 {
		cfg.Notify.MaxAttempts = 5
	}
	if cfg.Notify.InitialBackoff == 0 {
		cfg.Notify.InitialBackoff = time.Second
	}
	if cfg.Notify.RequestTimeout == 0 {
		cfg.Notify.RequestTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "pagesmith"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}
