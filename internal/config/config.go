// Package config loads the service configuration from config.yaml and
// CASCADE_-prefixed environment variables, env taking precedence.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/modelcascade/cascade/internal/gate"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Storage    StorageConfig    `koanf:"storage"`
	Auth       AuthConfig       `koanf:"auth"`
	Gate       GateConfig       `koanf:"gate"`
	Escalation EscalationConfig `koanf:"escalation"`
	Providers  []ProviderConfig `koanf:"providers"`
	Experiment ExperimentConfig `koanf:"experiment"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout bounds one whole HTTP request, escalation included.
	// Duration string like "120s".
	RequestTimeout string `koanf:"request_timeout"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	Enabled bool           `koanf:"enabled"`
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

type GateConfig struct {
	Threshold float64 `koanf:"threshold"`
}

type EscalationConfig struct {
	// Enabled false pins every evaluation to the first tier.
	Enabled bool `koanf:"enabled"`
	// TierTimeout is the per-tier provider call deadline. A timed-out
	// non-terminal tier escalates like any other provider failure.
	TierTimeout string `koanf:"tier_timeout"`
}

// ProviderConfig describes one escalation tier. Tiers are ordered by Cost,
// cheapest first; the most expensive one is terminal.
type ProviderConfig struct {
	Name    string  `koanf:"name"`
	Type    string  `koanf:"type"` // openai, anthropic, gemini
	Model   string  `koanf:"model"`
	APIKey  string  `koanf:"api_key"`
	BaseURL string  `koanf:"base_url"`
	Cost    float64 `koanf:"cost"` // relative cost per call, drives tier order
	Timeout string  `koanf:"timeout"`
}

type ExperimentConfig struct {
	// MinSamples is the eligibility floor for winner selection.
	MinSamples int `koanf:"min_samples"`
	// FallbackProvider names the single escalation tier experiments use.
	// Defaults to the most expensive configured provider.
	FallbackProvider string `koanf:"fallback_provider"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the given YAML file (optional) and the
// environment. CASCADE_SERVER__PORT=9090 overrides server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Absent file is fine, env alone can carry a full configuration.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CASCADE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CASCADE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Keys may reference environment variables as ${VAR_NAME}.
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.request_timeout":  "120s",
		"logging.level":           "info",
		"storage.type":            "memory",
		"gate.threshold":          gate.DefaultThreshold,
		"escalation.enabled":      true,
		"escalation.tier_timeout": "60s",
		"experiment.min_samples":  5,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

// Validate rejects configurations the router or engine could not start with.
// Provider credentials are checked later, at adapter construction, so a
// missing key surfaces as an explicit configuration error rather than a
// silently skipped tier.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("gate.threshold %v outside [0,1]", c.Gate.Threshold)
	}
	switch c.Storage.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.type %q not supported (memory, sqlite)", c.Storage.Type)
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path required for sqlite storage")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Type == "" {
			return fmt.Errorf("provider %q has no type", p.Name)
		}
		if _, err := p.TimeoutDuration(0); err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
	}

	if c.Experiment.FallbackProvider != "" && !seen[c.Experiment.FallbackProvider] {
		return fmt.Errorf("experiment.fallback_provider %q is not a configured provider",
			c.Experiment.FallbackProvider)
	}
	if _, err := parseDuration(c.Server.RequestTimeout, 120*time.Second); err != nil {
		return fmt.Errorf("server.request_timeout: %w", err)
	}
	if _, err := parseDuration(c.Escalation.TierTimeout, 60*time.Second); err != nil {
		return fmt.Errorf("escalation.tier_timeout: %w", err)
	}
	return nil
}

// RequestTimeoutDuration returns the parsed server request timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.Server.RequestTimeout, 120*time.Second)
	return d
}

// TierTimeoutDuration returns the parsed default per-tier timeout.
func (c *Config) TierTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.Escalation.TierTimeout, 60*time.Second)
	return d
}

// TimeoutDuration returns this provider's timeout, or fallback when unset.
func (p ProviderConfig) TimeoutDuration(fallback time.Duration) (time.Duration, error) {
	return parseDuration(p.Timeout, fallback)
}

// LogLevel normalizes the configured level name; unknown names fall back
// to info.
func (c *Config) LogLevel() string {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(c.Logging.Level)
	default:
		return "info"
	}
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
