package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main gapura configuration
type Config struct {
	// Data directory, defaults to ~/.gapura
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Database file path, defaults to <data_dir>/gapura.db
	Database string `json:"database" mapstructure:"database"`

	// Policy document path, defaults to <data_dir>/policy.yaml
	PolicyPath string `json:"policy_path" mapstructure:"policy_path"`

	// Profile is the identity commands run as
	Profile ProfileConfig `json:"profile" mapstructure:"profile"`

	// Tools holds execution settings
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Approvals holds approval lifecycle settings
	Approvals ApprovalsConfig `json:"approvals" mapstructure:"approvals"`

	// Server holds the serve-mode HTTP configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ProfileConfig identifies the owner profile for CLI commands
type ProfileConfig struct {
	ID          string `json:"id" mapstructure:"id"`
	DisplayName string `json:"display_name" mapstructure:"display_name"`
	Timezone    string `json:"timezone" mapstructure:"timezone"`
}

// ToolsConfig holds execution settings
type ToolsConfig struct {
	DefaultTimeoutMS int `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
}

// ApprovalsConfig holds approval lifecycle settings
type ApprovalsConfig struct {
	// TTLHours is how long a pending approval stays actionable before the
	// serve-mode sweep denies it. Zero disables expiry.
	TTLHours int `json:"ttl_hours" mapstructure:"ttl_hours"`

	// SweepSchedule is a cron expression for the expiry sweep
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// ServerConfig holds the serve-mode HTTP configuration
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Profile: ProfileConfig{
			ID:          "owner",
			DisplayName: "Owner",
			Timezone:    "America/Chicago",
		},
		Tools: ToolsConfig{
			DefaultTimeoutMS: 10000,
		},
		Approvals: ApprovalsConfig{
			TTLHours:      24,
			SweepSchedule: "@every 10m",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8484,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with the shared secret
// masked.
func (c *Config) String() string {
	clone := *c
	if clone.Server.SharedSecret != "" {
		clone.Server.SharedSecret = "********"
	}
	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Profile.ID == "" {
		return fmt.Errorf("profile.id is required")
	}
	if c.Tools.DefaultTimeoutMS < 0 {
		return fmt.Errorf("tools.default_timeout_ms must not be negative")
	}
	if c.Approvals.TTLHours < 0 {
		return fmt.Errorf("approvals.ttl_hours must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}
