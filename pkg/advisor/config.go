package advisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3

	envBackend = "ADVISOR_BACKEND"
	envAPIKey  = "ADVISOR_API_KEY"
	envBaseURL = "ADVISOR_BASE_URL"
	envModel   = "ADVISOR_MODEL"
	envTimeout = "ADVISOR_TIMEOUT"
)

// Backend identifiers accepted in configuration.
const (
	BackendHosted = "hosted"
	BackendCLI    = "cli"
	BackendOff    = "off"
)

// CLIConfig configures the local-command backend.
type CLIConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Config holds runtime settings for the advisory service.
type Config struct {
	Backend    string        `yaml:"backend"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries"`
	CLI        CLIConfig     `yaml:"cli"`

	timeoutRaw string
}

// LoadConfig reads advisory configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("advisor: open config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader, applying defaults
// and environment overrides.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var raw struct {
		Backend    string    `yaml:"backend"`
		BaseURL    string    `yaml:"base_url"`
		APIKey     string    `yaml:"api_key"`
		Model      string    `yaml:"model"`
		Timeout    string    `yaml:"timeout"`
		MaxRetries int       `yaml:"max_retries"`
		CLI        CLIConfig `yaml:"cli"`
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("advisor: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("advisor: unmarshal config: %w", err)
	}

	cfg := &Config{
		Backend:    raw.Backend,
		BaseURL:    raw.BaseURL,
		APIKey:     raw.APIKey,
		Model:      raw.Model,
		MaxRetries: raw.MaxRetries,
		CLI:        raw.CLI,
		timeoutRaw: raw.Timeout,
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.parseTimeout(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present for the selected
// backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHosted:
		if strings.TrimSpace(c.APIKey) == "" {
			return errors.New("advisor config: api_key is required for the hosted backend")
		}
		if strings.TrimSpace(c.Model) == "" {
			return errors.New("advisor config: model is required for the hosted backend")
		}
	case BackendCLI:
		if strings.TrimSpace(c.CLI.Command) == "" {
			return errors.New("advisor config: cli.command is required for the cli backend")
		}
	case BackendOff:
	default:
		return fmt.Errorf("advisor config: unknown backend %q", c.Backend)
	}
	if c.Timeout <= 0 {
		return errors.New("advisor config: timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("advisor config: max_retries cannot be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = BackendOff
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

func (c *Config) applyEnvOverrides() {
	c.Backend = expandAndOverride(c.Backend, envBackend)
	c.BaseURL = expandAndOverride(c.BaseURL, envBaseURL)
	c.APIKey = expandAndOverride(c.APIKey, envAPIKey)
	c.Model = expandAndOverride(c.Model, envModel)

	if raw := os.Getenv(envTimeout); raw != "" {
		c.timeoutRaw = raw
	} else {
		c.timeoutRaw = os.ExpandEnv(c.timeoutRaw)
	}
}

func (c *Config) parseTimeout() error {
	if strings.TrimSpace(c.timeoutRaw) == "" {
		c.Timeout = defaultTimeout
		return nil
	}
	d, err := time.ParseDuration(c.timeoutRaw)
	if err != nil {
		return fmt.Errorf("advisor config: invalid timeout %q: %w", c.timeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("advisor config: timeout must be positive, got %s", d)
	}
	c.Timeout = d
	return nil
}

func expandAndOverride(current, envKey string) string {
	current = os.ExpandEnv(current)
	if envVal := os.Getenv(envKey); envVal != "" {
		return envVal
	}
	return current
}
