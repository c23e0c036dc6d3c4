package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models trustroom.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Store struct {
		Driver    string `yaml:"driver"`
		Workspace string `yaml:"workspace"`
		DSN       string `yaml:"dsn"`
	} `yaml:"store"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		SystemKey string `yaml:"system_key"`
	} `yaml:"auth"`
	Guest struct {
		TokenTTLDays int    `yaml:"token_ttl_days"`
		LinkPath     string `yaml:"link_path"`
	} `yaml:"guest"`
	Notify struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notify"`
	Live struct {
		GapTimeoutMS int `yaml:"gap_timeout_ms"`
	} `yaml:"live"`
	Effects struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"effects"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	OTel OTelConfig `yaml:"otel"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Active reports whether the webhook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("config.store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Guest.TokenTTLDays <= 0 {
		return fmt.Errorf("config.guest.token_ttl_days must be positive")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.notify.webhooks[%d].url must be http(s)", i)
		}
	}
	if c.Live.GapTimeoutMS < 0 {
		return fmt.Errorf("config.live.gap_timeout_ms must not be negative")
	}
	switch c.OTel.Exporter {
	case "", "otlp-http", "stdout", "none":
	default:
		return fmt.Errorf("config.otel.exporter must be otlp-http, stdout or none")
	}
	return nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Guest.TokenTTLDays) * 24 * time.Hour
}

func (c *Config) GapTimeout() time.Duration {
	return time.Duration(c.Live.GapTimeoutMS) * time.Millisecond
}

func (c *Config) EffectsTimeout() time.Duration {
	return time.Duration(c.Effects.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "trustroom.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads the config file, falling back to defaults when it is absent.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api/trust

store:
  driver: sqlite
  workspace: .

auth:
  jwt_secret: ""
  system_key: ""

guest:
  token_ttl_days: 90
  link_path: /trust-room

notify:
  webhooks: []

live:
  gap_timeout_ms: 2000

effects:
  timeout_seconds: 15

log:
  level: info

otel:
  enabled: false
  exporter: none
  service_name: trustroom
  sample_rate: 1.0
`
