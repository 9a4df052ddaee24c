package bootstrap

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// EnvPrefix namespaces the gateway's own environment variables.
const EnvPrefix = "COPILOT_GATEWAY_"

// gatewayEnv fields stay nil unless the variable is set.
type gatewayEnv struct {
	Host          *string  `env:"HOST"`
	Port          *int     `env:"PORT"`
	Debug         *bool    `env:"DEBUG"`
	AccountType   *string  `env:"ACCOUNT_TYPE"`
	BaseURL       *string  `env:"BASE_URL"`
	AuthDir       *string  `env:"AUTH_DIR"`
	ProxyURL      *string  `env:"PROXY_URL"`
	LoggingToFile *bool    `env:"LOGGING_TO_FILE"`
	UsageDSN      *string  `env:"USAGE_DSN"`
	RetentionDays *int     `env:"USAGE_RETENTION_DAYS"`
	RateLimit     *float64 `env:"RATE_LIMIT"`
	RateLimitWait *bool    `env:"RATE_LIMIT_WAIT"`
}

// wellKnownEnv are unprefixed variables shared with other GitHub tooling.
type wellKnownEnv struct {
	GitHubToken    *string `env:"GH_TOKEN"`
	PayloadLogging *bool   `env:"ENABLE_PAYLOAD_LOGGING"`
}

// ApplyEnvOverrides applies environment variable overrides on top of the
// file configuration.
func ApplyEnvOverrides(cfg *config.Config) error {
	var g gatewayEnv
	if err := env.ParseWithOptions(&g, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse %s* environment: %w", EnvPrefix, err)
	}
	var w wellKnownEnv
	if err := env.Parse(&w); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if g.Host != nil {
		cfg.Host = *g.Host
	}
	if g.Port != nil {
		cfg.Port = *g.Port
		log.Infof("Port overridden by env: %d", cfg.Port)
	}
	if g.Debug != nil {
		cfg.Debug = *g.Debug
		log.Infof("Debug overridden by env: %v", cfg.Debug)
	}
	if g.AccountType != nil {
		cfg.Upstream.AccountType = config.AccountType(*g.AccountType)
		log.Infof("Account type overridden by env: %s", cfg.Upstream.AccountType)
	}
	if g.BaseURL != nil {
		cfg.Upstream.BaseURL = *g.BaseURL
		log.Infof("Upstream base URL overridden by env")
	}
	if g.AuthDir != nil {
		cfg.AuthDir = *g.AuthDir
		log.Infof("Auth dir overridden by env: %s", cfg.AuthDir)
	}
	if g.ProxyURL != nil {
		cfg.ProxyURL = *g.ProxyURL
		log.Infof("Proxy URL overridden by env")
	}
	if g.LoggingToFile != nil {
		cfg.LoggingToFile = *g.LoggingToFile
	}
	if g.UsageDSN != nil {
		cfg.Usage.DSN = *g.UsageDSN
		log.Infof("Usage DSN overridden by env")
	}
	if g.RetentionDays != nil {
		cfg.Usage.RetentionDays = *g.RetentionDays
	}
	if g.RateLimit != nil {
		cfg.RateLimit.RequestsPerSecond = *g.RateLimit
		log.Infof("Rate limit overridden by env: %g req/s", cfg.RateLimit.RequestsPerSecond)
	}
	if g.RateLimitWait != nil {
		cfg.RateLimit.Wait = *g.RateLimitWait
	}

	if w.GitHubToken != nil && *w.GitHubToken != "" {
		cfg.GitHubToken = *w.GitHubToken
		log.Infof("GitHub token taken from GH_TOKEN")
	}
	if w.PayloadLogging != nil {
		cfg.PayloadLogging = *w.PayloadLogging
	}
	return nil
}
