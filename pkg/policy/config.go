// Package policy is the pure decision core of the execution gateway. Given a
// tool identity, its declared mode, and input parameters it returns allow,
// deny, or require_approval with a human-readable rationale. The engine
// performs no I/O and holds no mutable state.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// QuietHours blocks speaker actions inside a daily window
type QuietHours struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"` // "HH:MM"
	End     string `yaml:"end"`   // "HH:MM", window may wrap midnight
}

// SonosRules bound what speaker tools may do
type SonosRules struct {
	AllowedRooms []string   `yaml:"allowed_rooms"`
	MaxVolume    int        `yaml:"max_volume"`
	QuietHours   QuietHours `yaml:"quiet_hours"`
}

// GitHubRules bound what pull-request tools may do
type GitHubRules struct {
	AllowedRepos    []string `yaml:"allowed_repos"`
	DraftOnly       bool     `yaml:"draft_only"`
	AllowMerge      bool     `yaml:"allow_merge"`
	AllowPushToMain bool     `yaml:"allow_push_to_main"`
}

// ExecutionRules hold the blanket execution defaults
type ExecutionRules struct {
	DefaultMode          string   `yaml:"default_mode"`
	ApprovalsRequiredFor []string `yaml:"approvals_required_for"`
}

// NamespaceRule overrides the declared execution mode for a whole tool
// namespace (the segment before the first dot in the tool name).
type NamespaceRule struct {
	Mode string `yaml:"mode"`
}

// Config is the policy document. It is constructed once per load and never
// mutated afterwards; the engine receives it as a read-only value.
type Config struct {
	Timezone   string                   `yaml:"timezone"`
	Execution  ExecutionRules           `yaml:"execution"`
	Namespaces map[string]NamespaceRule `yaml:"namespaces"`
	GitHub     *GitHubRules             `yaml:"github"`
	Sonos      *SonosRules              `yaml:"sonos"`
}

// DefaultConfig returns a restrictive baseline used when no policy file exists
func DefaultConfig() *Config {
	return &Config{
		Timezone: "America/Chicago",
		Execution: ExecutionRules{
			DefaultMode:          "read_only",
			ApprovalsRequiredFor: []string{"execute_gated"},
		},
		Namespaces: map[string]NamespaceRule{},
	}
}

// LoadConfig parses a YAML policy document from path
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig parses a YAML policy document
func ParseConfig(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if cfg.Namespaces == nil {
		cfg.Namespaces = map[string]NamespaceRule{}
	}
	if cfg.Sonos != nil && cfg.Sonos.MaxVolume <= 0 {
		return nil, fmt.Errorf("sonos.max_volume must be positive")
	}
	return cfg, nil
}
