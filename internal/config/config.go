// Package config provides configuration loading for pagesmith.
//
// Configuration is assembled once at process start from an optional YAML
// file and environment variables, validated, and then passed by value into
// each component constructor. Nothing in this package holds mutable state.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete pagesmith configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	GitHub    GitHubConfig    `koanf:"github"`
	Task      TaskConfig      `koanf:"task"`
	Generator GeneratorConfig `koanf:"generator"`
	Pages     PagesConfig     `koanf:"pages"`
	Notify    NotifyConfig    `koanf:"notify"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	// WriteTimeout bounds a whole task invocation, which includes the
	// pages readiness poll and notification retries.
	WriteTimeout time.Duration `koanf:"write_timeout"`
	RateLimit    float64       `koanf:"rate_limit"`
	RateBurst    int           `koanf:"rate_burst"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
	OpenEndpoint *bool         `koanf:"open_endpoint"`
}

// OpenEndpointEnabled reports whether the unauthenticated task route is served.
func (s ServerConfig) OpenEndpointEnabled() bool {
	return s.OpenEndpoint == nil || *s.OpenEndpoint
}

// GitHubConfig holds hosting API configuration.
type GitHubConfig struct {
	Token             Secret        `koanf:"token"`
	APIURL            string        `koanf:"api_url"`
	DefaultBranch     string        `koanf:"default_branch"`
	LicenseTemplate   string        `koanf:"license_template"`
	Private           bool          `koanf:"private"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	RetryMaxAttempts  int           `koanf:"retry_max_attempts"`
	RetryInitial      time.Duration `koanf:"retry_initial_backoff"`
	RetryMax          time.Duration `koanf:"retry_max_backoff"`
}

// TaskConfig holds inbound task settings.
type TaskConfig struct {
	// Secret gates the authenticated task route. An empty secret rejects
	// every request on that route.
	Secret Secret `koanf:"secret"`
}

// GeneratorConfig selects and configures the code generation backend.
type GeneratorConfig struct {
	Backend     string        `koanf:"backend"` // template, langchain, genai
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	APIKey      Secret        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	PrimaryFile string        `koanf:"primary_file"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
}

// PagesConfig holds static hosting activation and polling settings.
type PagesConfig struct {
	BuildType      string        `koanf:"build_type"`
	Path           string        `koanf:"path"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	PollTimeout    time.Duration `koanf:"poll_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// NotifyConfig holds evaluation webhook settings.
type NotifyConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SecretsConfig controls the pre-publish secret scan.
type SecretsConfig struct {
	ScanEnabled *bool `koanf:"scan_enabled"`
}

// Enabled reports whether generated files are scanned before publish.
func (s SecretsConfig) Enabled() bool {
	return s.ScanEnabled == nil || *s.ScanEnabled
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return errors.New("rate_limit and rate_burst must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}

	if !c.GitHub.Token.IsSet() {
		return errors.New("github token not set (GITHUB_TOKEN)")
	}
	if c.GitHub.APIURL != "" {
		u, err := url.Parse(c.GitHub.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid github api_url: %q", c.GitHub.APIURL)
		}
	}
	if c.GitHub.RetryMaxAttempts < 1 {
		return errors.New("github retry_max_attempts must be >= 1")
	}

	switch c.Generator.Backend {
	case "template", "langchain", "genai":
	default:
		return fmt.Errorf("unknown generator backend %q (want template, langchain or genai)", c.Generator.Backend)
	}
	if c.Generator.Backend == "genai" && c.Generator.Provider == "" {
		return errors.New("generator provider required for genai backend")
	}

	if c.Pages.PollInterval <= 0 || c.Pages.PollTimeout <= 0 {
		return errors.New("pages poll_interval and poll_timeout must be positive")
	}
	if c.Notify.MaxAttempts < 1 {
		return errors.New("notify max_attempts must be >= 1")
	}
	if c.Notify.InitialBackoff <= 0 {
		return errors.New("notify initial_backoff must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
