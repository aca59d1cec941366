package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want 30s", cfg.PollInterval)
	}
	if cfg.Realtime.MaxFailures != 3 {
		t.Errorf("Realtime.MaxFailures = %d, want 3", cfg.Realtime.MaxFailures)
	}
	if cfg.Capabilities.PerItemMarkRead {
		t.Error("per-item mark-read must default to off (backend support is unconfirmed)")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pulse.yml")
	body := `
server_url: https://api.example.com
poll_interval: 45s
notify: true
realtime:
  max_failures: 5
capabilities:
  per_item_mark_read: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PULSE_TOKEN", "env-token")
	t.Setenv("PULSE_SERVER_URL", "https://override.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://override.example.com" {
		t.Errorf("ServerURL = %q, want env override", cfg.ServerURL)
	}
	if cfg.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.Token)
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("PollInterval = %s, want 45s", cfg.PollInterval)
	}
	if cfg.Realtime.MaxFailures != 5 {
		t.Errorf("Realtime.MaxFailures = %d, want 5", cfg.Realtime.MaxFailures)
	}
	if !cfg.Capabilities.PerItemMarkRead || !cfg.Notify {
		t.Error("file values not applied")
	}
	// Untouched keys keep their defaults.
	if cfg.Realtime.BackoffFactor != 1.3 {
		t.Errorf("BackoffFactor = %v, want default 1.3", cfg.Realtime.BackoffFactor)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pulse.yml")

	cfg := DefaultConfig()
	cfg.ServerURL = "https://saved.example.com"
	cfg.Notify = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ServerURL != "https://saved.example.com" || !loaded.Notify {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if loaded.PollInterval != cfg.PollInterval {
		t.Errorf("PollInterval = %s, want %s", loaded.PollInterval, cfg.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty url", func(c *Config) { c.ServerURL = "" }, false},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://x" }, false},
		{"poll too aggressive", func(c *Config) { c.PollInterval = time.Second }, false},
		{"zero failures", func(c *Config) { c.Realtime.MaxFailures = 0 }, false},
		{"shrinking backoff", func(c *Config) { c.Realtime.BackoffFactor = 0.9 }, false},
		{"zero toast ttl", func(c *Config) { c.Toasts.TTL = 0 }, false},
		{"bad port", func(c *Config) { c.DevServer.Port = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.wantOK {
				t.Errorf("Validate() = %v, wantOK = %v", err, tt.wantOK)
			}
		})
	}
}
