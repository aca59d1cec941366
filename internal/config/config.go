// Package config loads pulse configuration from .pulse.yml with PULSE_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultConfig returns the configuration used when no file or overrides
// exist. The polling and backoff numbers mirror what the production backend
// tolerates.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:    "http://localhost:8000",
		PollInterval: 30 * time.Second,
		Realtime: RealtimeConfig{
			MaxFailures:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  1.3,
		},
		Toasts: ToastConfig{
			TTL:        6 * time.Second,
			MaxDesktop: 3,
		},
		DevServer: DevServerConfig{
			Port:      8000,
			JWTSecret: "dev-only-secret",
			Username:  "admin",
			Password:  "admin",
			DBPath:    ".pulse/devserver.db",
		},
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (PULSE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// PULSE_TOKEN -> token, PULSE_SERVER_URL -> server_url, etc.
	if err := k.Load(env.Provider("PULSE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "PULSE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server_url %q must be an http(s) URL", c.ServerURL)
	}
	if c.PollInterval < 5*time.Second {
		return fmt.Errorf("poll_interval %s is below the backend rate limit floor", c.PollInterval)
	}
	if c.Realtime.MaxFailures < 1 {
		return fmt.Errorf("realtime.max_failures must be at least 1")
	}
	if c.Realtime.BackoffFactor <= 1 {
		return fmt.Errorf("realtime.backoff_factor must be greater than 1")
	}
	if c.Toasts.TTL <= 0 {
		return fmt.Errorf("toasts.ttl must be positive")
	}
	if c.Toasts.MaxDesktop < 0 {
		return fmt.Errorf("toasts.max_desktop must be non-negative")
	}
	if c.DevServer.Port <= 0 || c.DevServer.Port > 65535 {
		return fmt.Errorf("dev_server.port %d out of range", c.DevServer.Port)
	}
	return nil
}
