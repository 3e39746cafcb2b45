// Package config loads the daemon configuration from a YAML file with
// HERALD_* environment overrides. Resolved values only are handed to the
// rest of the process; nothing else reads the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks for the config file when no path is given.
const DefaultPath = "herald.yaml"

// Config is the complete daemon configuration.
type Config struct {
	Listen           string       `yaml:"listen"`
	DBPath           string       `yaml:"db_path"`
	LogLevel         string       `yaml:"log_level"`
	RateLimitEnabled bool         `yaml:"ratelimit_enabled"`
	Vault            VaultConfig  `yaml:"vault"`
	Handlers         []string     `yaml:"handlers"`
	Notify           NotifyConfig `yaml:"notify"`

	GitHub PlatformConfig `yaml:"github"`
	Matrix PlatformConfig `yaml:"matrix"`
	Relay  PlatformConfig `yaml:"relay"`
}

// VaultConfig locates the encrypted credential store. With Enabled false the
// store is never opened and credentials come from HERALD_CRED_* environment
// variables instead.
type VaultConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	KeyFile string `yaml:"key_file"`
}

// NotifyConfig selects optional event sinks beyond logging and metrics.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures event publishing to a NATS subject.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// PlatformConfig holds one platform's pacing, retry, and endpoint settings.
type PlatformConfig struct {
	Enabled             bool          `yaml:"enabled"`
	DefaultTarget       string        `yaml:"default_target"`
	MinInterval         time.Duration `yaml:"min_interval"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaxRetries          int           `yaml:"max_retries"`
	ErrorBaseDelay      time.Duration `yaml:"error_base_delay"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	MaxMentionsPerCycle int           `yaml:"max_mentions_per_cycle"`

	// Endpoint settings; which ones apply depends on the platform.
	APIBase    string `yaml:"api_base"`   // github, for GitHub Enterprise
	Homeserver string `yaml:"homeserver"` // matrix
	URL        string `yaml:"url"`        // relay websocket endpoint
}

// DefaultConfig returns the configuration used when no file and no overrides
// are present. All platforms start disabled.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		DBPath:           "herald.db",
		LogLevel:         "info",
		RateLimitEnabled: true,
		Vault: VaultConfig{
			Enabled: true,
			Path:    "herald.vault",
			KeyFile: "herald.key",
		},
		Handlers: []string{"log"},
		GitHub:   defaultPlatform(),
		Matrix:   defaultPlatform(),
		Relay:    defaultPlatform(),
	}
}

func defaultPlatform() PlatformConfig {
	return PlatformConfig{
		MinInterval:         30 * time.Second,
		PollInterval:        time.Minute,
		MaxRetries:          3,
		ErrorBaseDelay:      30 * time.Second,
		MaxBackoff:          30 * time.Minute,
		MaxMentionsPerCycle: 10,
	}
}

// Load reads the config file at path (DefaultPath when empty), applies
// HERALD_* environment overrides, and validates the result. A missing file
// at the default path is not an error; a missing file at an explicit path is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies the HERALD_* variables that override file values.
// Per-platform tuning stays file-only; credentials use the separate
// HERALD_CRED_* namespace read by the environment vault.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HERALD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("HERALD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HERALD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HERALD_VAULT_PATH"); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("HERALD_VAULT_KEY_FILE"); v != "" {
		cfg.Vault.KeyFile = v
	}
	if v := os.Getenv("HERALD_NATS_URL"); v != "" {
		cfg.Notify.NATS.URL = v
	}
	if v := os.Getenv("HERALD_NATS_SUBJECT"); v != "" {
		cfg.Notify.NATS.Subject = v
	}

	boolVars := []struct {
		name string
		dst  *bool
	}{
		{"HERALD_RATELIMIT_ENABLED", &cfg.RateLimitEnabled},
		{"HERALD_VAULT_ENABLED", &cfg.Vault.Enabled},
		{"HERALD_NATS_ENABLED", &cfg.Notify.NATS.Enabled},
	}
	for _, bv := range boolVars {
		v, ok := os.LookupEnv(bv.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s has invalid boolean %q: %w", bv.name, v, err)
		}
		*bv.dst = parsed
	}

	return nil
}

// Validate checks the resolved configuration for values the daemon cannot
// run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	if c.Vault.Enabled {
		if c.Vault.Path == "" {
			return fmt.Errorf("vault.path must not be empty")
		}
		if c.Vault.KeyFile == "" {
			return fmt.Errorf("vault.key_file must not be empty")
		}
	}

	for _, pc := range []struct {
		id  string
		cfg PlatformConfig
	}{
		{"github", c.GitHub},
		{"matrix", c.Matrix},
		{"relay", c.Relay},
	} {
		if !pc.cfg.Enabled {
			continue
		}
		if err := pc.cfg.validate(); err != nil {
			return fmt.Errorf("%s: %w", pc.id, err)
		}
	}

	if c.Matrix.Enabled && c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix: homeserver must be set")
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("relay: url must be set")
	}

	return nil
}

func (p PlatformConfig) validate() error {
	if p.MinInterval <= 0 {
		return fmt.Errorf("min_interval must be positive, got %s", p.MinInterval)
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", p.PollInterval)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", p.MaxRetries)
	}
	if p.ErrorBaseDelay <= 0 {
		return fmt.Errorf("error_base_delay must be positive, got %s", p.ErrorBaseDelay)
	}
	if p.MaxBackoff < p.ErrorBaseDelay {
		return fmt.Errorf("max_backoff %s is below error_base_delay %s", p.MaxBackoff, p.ErrorBaseDelay)
	}
	if p.MaxMentionsPerCycle <= 0 {
		return fmt.Errorf("max_mentions_per_cycle must be positive, got %d", p.MaxMentionsPerCycle)
	}
	return nil
}

// LoadKeyFile reads a vault key file: 64 hex characters (32 bytes), with
// surrounding whitespace tolerated.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}

	encoded := strings.TrimSpace(string(data))
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("key file %s is not valid hex: %w", path, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key file %s holds %d bytes, need 32", path, len(key))
	}
	return key, nil
}
