// Package config defines the gateway's YAML configuration, its defaults and
// validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AccountType selects the Copilot API host.
type AccountType string

const (
	AccountIndividual AccountType = "individual"
	AccountBusiness   AccountType = "business"
	AccountEnterprise AccountType = "enterprise"
)

// Config is the root configuration document.
type Config struct {
	// Host is the listen address; empty binds all interfaces.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	Debug         bool   `yaml:"debug" json:"debug"`
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir        string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// PayloadLogging writes request and response bodies to the log.
	PayloadLogging bool `yaml:"payload-logging" json:"payload-logging"`

	// AuthDir holds the persisted GitHub token.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// GitHubToken bypasses the stored token when set.
	GitHubToken string `yaml:"github-token,omitempty" json:"-"`

	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	Upstream  UpstreamConfig  `yaml:"upstream" json:"upstream"`
	Models    ModelsConfig    `yaml:"models" json:"models"`
	RateLimit RateLimitConfig `yaml:"rate-limit" json:"rate-limit"`
	Usage     UsageConfig     `yaml:"usage" json:"usage"`
}

// UpstreamConfig describes the Copilot chat endpoint.
type UpstreamConfig struct {
	AccountType AccountType `yaml:"account-type" json:"account-type"`

	// BaseURL overrides the host derived from AccountType.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// EditorVersion is sent as Editor-Version when the lookup at
	// EditorVersionURL is disabled or fails.
	EditorVersion       string `yaml:"editor-version" json:"editor-version"`
	EditorVersionURL    string `yaml:"editor-version-url" json:"editor-version-url"`
	EditorPluginVersion string `yaml:"editor-plugin-version" json:"editor-plugin-version"`
	APIVersion          string `yaml:"api-version" json:"api-version"`

	// IdleTimeout aborts a stream that produced no bytes for this long.
	IdleTimeout time.Duration `yaml:"idle-timeout" json:"idle-timeout"`

	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig tunes the upstream circuit breaker.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// FailureThreshold is the number of consecutive failures that opens it.
	FailureThreshold uint32        `yaml:"failure-threshold" json:"failure-threshold"`
	OpenTimeout      time.Duration `yaml:"open-timeout" json:"open-timeout"`
}

// ModelPrefix rewrites any requested model starting with Prefix to Target.
type ModelPrefix struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	Target string `yaml:"target" json:"target"`
}

type ModelsConfig struct {
	CacheTTL time.Duration `yaml:"cache-ttl" json:"cache-ttl"`

	// Prefixes are checked in order; the first match wins.
	Prefixes []ModelPrefix `yaml:"prefixes" json:"prefixes"`

	// Display maps upstream ids to the name reported back to message-block clients.
	Display map[string]string `yaml:"display" json:"display"`

	// DisguiseClaude lists Claude models under GPT-style ids.
	DisguiseClaude bool `yaml:"disguise-claude" json:"disguise-claude"`
}

type RateLimitConfig struct {
	// RequestsPerSecond of 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests-per-second" json:"requests-per-second"`
	Burst             int     `yaml:"burst" json:"burst"`
	// Wait queues requests instead of rejecting them with 429.
	Wait bool `yaml:"wait" json:"wait"`
}

type UsageConfig struct {
	// DSN is sqlite://path or postgres://...; empty keeps counters in memory only.
	DSN           string        `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	RetentionDays int           `yaml:"retention-days" json:"retention-days"`
	BatchSize     int           `yaml:"batch-size" json:"batch-size"`
	FlushInterval time.Duration `yaml:"flush-interval" json:"flush-interval"`
}

// DefaultPort is the port the gateway listens on when none is configured.
const DefaultPort = 4141

// DefaultModelPrefixes is the built-in model normalization table.
func DefaultModelPrefixes() []ModelPrefix {
	return []ModelPrefix{
		{Prefix: "claude-sonnet-4-", Target: "claude-sonnet-4"},
		{Prefix: "claude-4-sonnet", Target: "claude-sonnet-4"},
		{Prefix: "claude-3-7-sonnet", Target: "claude-3.7-sonnet"},
		{Prefix: "claude-3-5-sonnet", Target: "claude-3.5-sonnet"},
		{Prefix: "gpt-4.1", Target: "claude-sonnet-4"},
	}
}

// DefaultEditorVersionURL is a PKGBUILD whose pkgver tracks the current VS
// Code release.
const DefaultEditorVersionURL = "https://aur.archlinux.org/cgit/aur.git/plain/PKGBUILD?h=visual-studio-code-bin"

func NewDefaultConfig() *Config {
	return &Config{
		Port:    DefaultPort,
		AuthDir: "$XDG_CONFIG_HOME/copilot-gateway/auth",
		Upstream: UpstreamConfig{
			AccountType:         AccountIndividual,
			EditorVersion:       "vscode/1.99.3",
			EditorVersionURL:    DefaultEditorVersionURL,
			EditorPluginVersion: "copilot-chat/0.26.7",
			APIVersion:          "2025-04-01",
			IdleTimeout:         3 * time.Minute,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Models: ModelsConfig{
			CacheTTL:       5 * time.Minute,
			Prefixes:       DefaultModelPrefixes(),
			Display:        map[string]string{"claude-sonnet-4": "claude-4-sonnet"},
			DisguiseClaude: true,
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Usage: UsageConfig{
			RetentionDays: 30,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
	}
}

// ResolveBaseURL returns the Copilot API root for the configured account.
func (u UpstreamConfig) ResolveBaseURL() string {
	if u.BaseURL != "" {
		return u.BaseURL
	}
	switch u.AccountType {
	case AccountBusiness:
		return "https://api.business.githubcopilot.com"
	case AccountEnterprise:
		return "https://api.enterprise.githubcopilot.com"
	}
	return "https://api.githubcopilot.com"
}

// LoadConfig reads and validates the file at path. Missing keys keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadConfigOptional is LoadConfig that tolerates a missing file when
// optional is set, returning the defaults.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefaultConfigYAML renders the defaults for a first-run config file.
func GenerateDefaultConfigYAML() []byte {
	out, err := yaml.Marshal(NewDefaultConfig())
	if err != nil {
		return nil
	}
	return append([]byte("# copilot-gateway configuration\n"), out...)
}
