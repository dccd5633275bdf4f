package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// providerEnvKeys lists the supported provider credential env vars, in
// the order their credentials are resolved.
var providerEnvKeys = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"MISTRAL_API_KEY",
	"GEMINI_API_KEY",
	"FIREWORKS_API_KEY",
	"GROQ_API_KEY",
	"AI21_API_KEY",
	"TOGETHER_API_KEY",
	"DEEPSEEK_API_KEY",
}

// LoggingConfig controls core.Logger construction.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `yaml:"format"` // "json", "text", or "" to auto-detect
	Output string `yaml:"output"` // "stdout" or "stderr"
}

// Config is the layered configuration root for an llmonpy process. Every
// field resolves explicit-struct-value > environment variable > default, the
// same precedence gomind's core/config.go applies.
type Config struct {
	ServiceName string `yaml:"service_name"`
	DataDir     string `yaml:"data_dir"`

	Logging LoggingConfig `yaml:"logging"`

	// ProviderAPIKeys maps a provider env key name (e.g. "OPENAI_API_KEY")
	// to its resolved credential. Populated from the environment by NewConfig, not
	// meant to be hand-filled in YAML.
	ProviderAPIKeys map[string]string `yaml:"-"`

	WandbAPIKey string `yaml:"-"`
}

// Option mutates a Config during construction. Functional options mirror
// gomind's ai/provider.go AIOption pattern.
type Option func(*Config) error

// WithServiceName sets the service name used in log lines and traces.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		c.ServiceName = name
		return nil
	}
}

// WithDataDir overrides the default ./data directory.
func WithDataDir(dir string) Option {
	return func(c *Config) error {
		c.DataDir = dir
		return nil
	}
}

// WithLogging sets the full logging configuration.
func WithLogging(cfg LoggingConfig) Option {
	return func(c *Config) error {
		c.Logging = cfg
		return nil
	}
}

// NewConfig builds a Config starting from defaults, applying loadFromEnv,
// then the supplied options (options win over environment, matching
// "explicit field > env var > default").
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		ServiceName: "llmonpy",
		DataDir:     "./data",
		Logging: LoggingConfig{
			Level:  "INFO",
			Output: "stdout",
		},
		ProviderAPIKeys: make(map[string]string),
	}

	cfg.loadFromEnv()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewFrameworkError("core.NewConfig", "InvalidConfiguration", err)
		}
	}

	return cfg, nil
}

// loadFromEnv resolves provider credentials using LLMONPY_<KEY> preferred
// over bare <KEY>, and the service-level overrides LLMONPY_DATA_DIR /
// LLMONPY_LOG_LEVEL / LLMONPY_SERVICE_NAME.
func (c *Config) loadFromEnv() {
	for _, key := range providerEnvKeys {
		if v := firstNonEmpty(os.Getenv("LLMONPY_"+key), os.Getenv(key)); v != "" {
			c.ProviderAPIKeys[key] = v
		}
	}

	c.WandbAPIKey = os.Getenv("WANDB_API_KEY")

	if v := os.Getenv("LLMONPY_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LLMONPY_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("LLMONPY_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToUpper(v)
	}
	if v := os.Getenv("LLMONPY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// LoadFromFile merges a YAML workflow/config file into cfg. File values
// override defaults but not values already set by environment variables or
// explicit options applied after LoadFromFile is called.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFrameworkError("core.LoadFromFile", "ConfigurationError", err).WithID(path)
	}

	cfg, err := NewConfig()
	if err != nil {
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, NewFrameworkError("core.LoadFromFile", "ConfigurationError", err).WithID(path)
	}

	if fileCfg.ServiceName != "" && os.Getenv("LLMONPY_SERVICE_NAME") == "" {
		cfg.ServiceName = fileCfg.ServiceName
	}
	if fileCfg.DataDir != "" && os.Getenv("LLMONPY_DATA_DIR") == "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.Logging.Level != "" && os.Getenv("LLMONPY_LOG_LEVEL") == "" {
		cfg.Logging.Level = fileCfg.Logging.Level
	}
	if fileCfg.Logging.Format != "" && os.Getenv("LLMONPY_LOG_FORMAT") == "" {
		cfg.Logging.Format = fileCfg.Logging.Format
	}
	if fileCfg.Logging.Output != "" {
		cfg.Logging.Output = fileCfg.Logging.Output
	}

	return cfg, nil
}

// Validate checks the config is usable: the data directory must be
// creatable and at least one provider credential must be present.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return NewFrameworkError("core.Validate", "InvalidConfiguration", fmt.Errorf("data_dir must not be empty"))
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return NewFrameworkError("core.Validate", "InvalidConfiguration", err).WithID(c.DataDir)
	}
	if len(c.ProviderAPIKeys) == 0 {
		return NewFrameworkError("core.Validate", "NoApiKey", ErrNoAPIKey)
	}
	return nil
}

// APIKey returns the resolved credential for a provider env key name (e.g.
// "OPENAI_API_KEY"), or "" if none is configured.
func (c *Config) APIKey(providerEnvKey string) string {
	return c.ProviderAPIKeys[providerEnvKey]
}

// TraceStorePath returns the path to the relational trace index.
func (c *Config) TraceStorePath() string {
	return filepath.Join(c.DataDir, "trace_store.db")
}

// StepsLogPath, EventsLogPath, TourneyResultsLogPath, TraceInfoLogPath
// return the paths of the four append-only JSONL streams.
func (c *Config) StepsLogPath() string          { return filepath.Join(c.DataDir, "steps.jsonl") }
func (c *Config) EventsLogPath() string         { return filepath.Join(c.DataDir, "events.jsonl") }
func (c *Config) TourneyResultsLogPath() string { return filepath.Join(c.DataDir, "tourney_results.jsonl") }
func (c *Config) TraceInfoLogPath() string      { return filepath.Join(c.DataDir, "trace_info.jsonl") }

// RateLimiterLogDir returns the directory holding per-minute-bucket
// activity logs, one file per epoch minute.
func (c *Config) RateLimiterLogDir() string {
	return filepath.Join(c.DataDir, "rate_llmiter_logs")
}

// RateLimiterLogPath returns the path for a specific minute-bucket epoch.
func (c *Config) RateLimiterLogPath(epochMinute int64) string {
	return filepath.Join(c.RateLimiterLogDir(), strconv.FormatInt(epochMinute, 10)+".jsonl")
}
