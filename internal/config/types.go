package config

import "time"

// Config is the top-level pulse configuration, corresponding to .pulse.yml.
type Config struct {
	// ServerURL is the notification backend base URL.
	ServerURL string `yaml:"server_url" koanf:"server_url"`

	// Token is the bearer credential. Usually supplied via PULSE_TOKEN
	// rather than written to disk.
	Token string `yaml:"token,omitempty" koanf:"token"`

	// Notify grants permission for OS-level notifications. Off by default;
	// flipping it is the explicit user action the delivery path relies on.
	Notify bool `yaml:"notify" koanf:"notify"`

	PollInterval time.Duration      `yaml:"poll_interval" koanf:"poll_interval"`
	Realtime     RealtimeConfig     `yaml:"realtime" koanf:"realtime"`
	Toasts       ToastConfig        `yaml:"toasts" koanf:"toasts"`
	Capabilities CapabilitiesConfig `yaml:"capabilities" koanf:"capabilities"`
	DevServer    DevServerConfig    `yaml:"dev_server" koanf:"dev_server"`
}

// RealtimeConfig tunes the websocket channel and its fallback policy.
type RealtimeConfig struct {
	Disabled       bool          `yaml:"disabled" koanf:"disabled"`
	MaxFailures    int           `yaml:"max_failures" koanf:"max_failures"`
	InitialBackoff time.Duration `yaml:"initial_backoff" koanf:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" koanf:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor" koanf:"backoff_factor"`
}

// ToastConfig tunes in-app toast behaviour.
type ToastConfig struct {
	TTL        time.Duration `yaml:"ttl" koanf:"ttl"`
	MaxDesktop int           `yaml:"max_desktop" koanf:"max_desktop"`
}

// CapabilitiesConfig declares what the backend supports. Several backend
// revisions only persist "mark all read"; with PerItemMarkRead off, marking
// a single notification read is a local-only state change.
type CapabilitiesConfig struct {
	PerItemMarkRead bool `yaml:"per_item_mark_read" koanf:"per_item_mark_read"`
}

// DevServerConfig configures the local simulated backend (pulse serve).
type DevServerConfig struct {
	Port      int    `yaml:"port" koanf:"port"`
	JWTSecret string `yaml:"jwt_secret" koanf:"jwt_secret"`
	Username  string `yaml:"username" koanf:"username"`
	Password  string `yaml:"password" koanf:"password"`
	DBPath    string `yaml:"db_path" koanf:"db_path"`
	AllowAll  bool   `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}
