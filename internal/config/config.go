// Package config provides daemon configuration loading for AIPatterner.
// It supports YAML files plus environment variable overrides; the learning
// policy itself lives in a separate TOML file (see internal/policy).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all AIPatterner daemon configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`

	// PolicyPath points at the TOML policy file; empty means defaults.
	PolicyPath string `json:"policyPath" yaml:"policyPath"`
}

// ServerConfig covers local runtime settings.
type ServerConfig struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// MQTTConfig points at the broker events and feedback arrive on.
type MQTTConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// TopicPrefix is the root of the event/feedback/proposal topics.
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix"`
}

// DispatchConfig controls the due-reminder proposal sweep.
type DispatchConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Schedule is a cron expression; descriptors like "@every 1m" work.
	Schedule string `json:"schedule" yaml:"schedule"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "data",
			LogLevel: "info",
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			TopicPrefix: "aipatterner",
		},
		Dispatch: DispatchConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
	}
}

// Load reads the YAML config at path over the defaults, applies environment
// overrides, and ensures the data directory exists. A missing file is fine;
// the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults apply
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt host required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid mqtt port %d", c.MQTT.Port)
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt topicPrefix required")
	}
	if c.Dispatch.Enabled && c.Dispatch.Schedule == "" {
		return fmt.Errorf("dispatch schedule required when dispatch is enabled")
	}
	return nil
}

// DatabasePath is the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Server.DataDir, "aipatterner.db")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AIPATTERNER_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("AIPATTERNER_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("AIPATTERNER_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("AIPATTERNER_MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = n
		}
	}
	if v := os.Getenv("AIPATTERNER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("AIPATTERNER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("AIPATTERNER_POLICY_PATH"); v != "" {
		cfg.PolicyPath = v
	}
}
