package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Decision thresholds and lane flags
// live in the config.json artifact, not here; this file covers deployment
// wiring only.
type Config struct {
	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Artifact store (Redis) settings
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// MX resolution settings
	MX MXConfig `yaml:"mx"`

	// Persistence settings
	Persistence PersistenceConfig `yaml:"persistence"`

	// Alerting settings
	Alerting AlertingConfig `yaml:"alerting"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP listener parameters
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// ArtifactsConfig contains KV store parameters
type ArtifactsConfig struct {
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`

	// Per-kind TTL overrides in seconds; zero keeps the default.
	ConfigTTL     time.Duration `yaml:"config_ttl"`
	ModelTTL      time.Duration `yaml:"model_ttl"`
	DomainListTTL time.Duration `yaml:"domain_list_ttl"`
}

// MXConfig contains DNS-over-HTTPS resolver parameters
type MXConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// PersistenceConfig contains validation store parameters
type PersistenceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PostgresURL string `yaml:"postgres_url"`
	QueueSize   int    `yaml:"queue_size"`
}

// AlertingConfig contains webhook parameters
type AlertingConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig contains logging parameters
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  2 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			RedisURL:  "redis://localhost:6379",
			KeyPrefix: "fraudguard",
		},
		MX: MXConfig{
			Endpoint:  "https://dns.google/resolve",
			Timeout:   200 * time.Millisecond,
			CacheSize: 10000,
			CacheTTL:  300 * time.Second,
		},
		Persistence: PersistenceConfig{
			Enabled:   true,
			QueueSize: 1024,
		},
		Alerting: AlertingConfig{
			Timeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns defaults. Environment variables override file values for secrets.
func LoadConfig(configPath string) (*Config, error) {
	// A .env alongside the binary seeds the environment for local runs.
	_ = godotenv.Load()

	config := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	return config, nil
}

// applyEnv overlays secret-bearing settings from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("FRAUDGUARD_REDIS_URL"); v != "" {
		c.Artifacts.RedisURL = v
	}
	if v := os.Getenv("FRAUDGUARD_POSTGRES_URL"); v != "" {
		c.Persistence.PostgresURL = v
	}
	if v := os.Getenv("FRAUDGUARD_WEBHOOK_URL"); v != "" {
		c.Alerting.WebhookURL = v
	}
	if v := os.Getenv("FRAUDGUARD_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// SaveConfig writes the configuration to a YAML file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}
	return nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Artifacts.RedisURL == "" {
		return fmt.Errorf("artifacts.redis_url must not be empty")
	}
	if c.MX.Timeout < 0 {
		return fmt.Errorf("mx.timeout must be >= 0")
	}
	if c.MX.CacheSize < 0 {
		return fmt.Errorf("mx.cache_size must be >= 0")
	}
	if c.Persistence.Enabled && c.Persistence.PostgresURL == "" {
		return fmt.Errorf("persistence.postgres_url required when persistence is enabled")
	}
	if c.Persistence.QueueSize < 0 {
		return fmt.Errorf("persistence.queue_size must be >= 0")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
