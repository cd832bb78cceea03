// Package config handles reading and writing ~/.convo/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDir  = ".convo"
	configFile = "config.yaml"
)

const (
	DurableNone   = "none"
	DurableHTTP   = "http"
	DurableSQLite = "sqlite"
)

const (
	EnvBackendURL  = "CONVO_BACKEND_URL"
	EnvUserID      = "CONVO_USER_ID"
	EnvAccessToken = "CONVO_ACCESS_TOKEN"
	EnvDataDir     = "CONVO_DATA_DIR"
	EnvLogLevel    = "CONVO_LOG_LEVEL"
)

// Config is the top-level structure for config.yaml.
type Config struct {
	Version      int           `yaml:"version"`
	BackendURL   string        `yaml:"backend_url"`
	DataDir      string        `yaml:"data_dir"`
	DefaultModel string        `yaml:"default_model"`
	LogLevel     string        `yaml:"log_level"`
	Auth         AuthConfig    `yaml:"auth"`
	Durable      DurableConfig `yaml:"durable"`
	Proxy        ProxyConfig   `yaml:"proxy"`
}

// AuthConfig is the identity sent with every backend call.
type AuthConfig struct {
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// DurableConfig selects where sessions are stored beyond the local mirror.
type DurableConfig struct {
	Kind string `yaml:"kind"` // "none" | "http" | "sqlite"
	URL  string `yaml:"url"`  // http only, defaults to backend_url
	Path string `yaml:"path"` // sqlite only, defaults to data_dir/durable.db
}

// ProxyConfig configures `convo serve`.
type ProxyConfig struct {
	Addr   string            `yaml:"addr"`
	Tokens map[string]string `yaml:"tokens"` // bearer token -> user id
}

// DefaultDir returns ~/.convo, or .convo when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configDir
	}
	return filepath.Join(home, configDir)
}

// DefaultPath returns the config file path under DefaultDir.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), configFile)
}

// DefaultConfig returns a Config that talks to a proxy on localhost and keeps
// sessions in an embedded database.
func DefaultConfig() *Config {
	return &Config{
		Version:      1,
		BackendURL:   "http://localhost:8000",
		DataDir:      DefaultDir(),
		DefaultModel: "gpt-4o-mini",
		LogLevel:     "info",
		Auth: AuthConfig{
			UserID:      "local",
			AccessToken: "local",
		},
		Durable: DurableConfig{
			Kind: DurableSQLite,
		},
		Proxy: ProxyConfig{
			Addr: "127.0.0.1:8000",
		},
	}
}

// ReadConfig reads the file at path over DefaultConfig. A missing file is not
// an error.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// WriteConfig writes cfg to path, creating parent directories.
func WriteConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from CONVO_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.BackendURL, EnvBackendURL)
	set(&c.Auth.UserID, EnvUserID)
	set(&c.Auth.AccessToken, EnvAccessToken)
	set(&c.DataDir, EnvDataDir)
	set(&c.LogLevel, EnvLogLevel)
}

// Validate checks the fields the client needs to start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("config: backend_url is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: data_dir is required")
	}
	switch c.Durable.Kind {
	case DurableNone, DurableHTTP, DurableSQLite:
	case "":
		c.Durable.Kind = DurableNone
	default:
		return fmt.Errorf("config: unknown durable kind %q", c.Durable.Kind)
	}
	return nil
}

// DurableURL is the durable store base URL, falling back to the backend.
func (c *Config) DurableURL() string {
	if c.Durable.URL != "" {
		return c.Durable.URL
	}
	return c.BackendURL
}

// SQLitePath is the embedded durable database path.
func (c *Config) SQLitePath(defaultName string) string {
	if c.Durable.Path != "" {
		return c.Durable.Path
	}
	return filepath.Join(c.DataDir, defaultName)
}
