package config

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// Validate checks field ranges and normalizes empty values to defaults.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &ValidationError{Field: "port", Message: "must be between 1 and 65535, got " + strconv.Itoa(c.Port)}
	}

	switch c.Upstream.AccountType {
	case "":
		c.Upstream.AccountType = AccountIndividual
	case AccountIndividual, AccountBusiness, AccountEnterprise:
	default:
		return &ValidationError{Field: "upstream.account-type", Message: "unknown account type " + strconv.Quote(string(c.Upstream.AccountType))}
	}

	if c.Upstream.EditorVersionURL != "" {
		if err := checkURL(c.Upstream.EditorVersionURL); err != nil {
			return &ValidationError{Field: "upstream.editor-version-url", Message: err.Error()}
		}
	}
	if c.Upstream.BaseURL != "" {
		if err := checkURL(c.Upstream.BaseURL); err != nil {
			return &ValidationError{Field: "upstream.base-url", Message: err.Error()}
		}
		c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	}
	if c.ProxyURL != "" {
		if err := checkURL(c.ProxyURL); err != nil {
			return &ValidationError{Field: "proxy-url", Message: err.Error()}
		}
	}

	for i, p := range c.Models.Prefixes {
		if p.Prefix == "" || p.Target == "" {
			return &ValidationError{Field: "models.prefixes[" + strconv.Itoa(i) + "]", Message: "prefix and target are required"}
		}
	}
	if c.Models.CacheTTL < 0 {
		return &ValidationError{Field: "models.cache-ttl", Message: "must not be negative"}
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return &ValidationError{Field: "rate-limit.requests-per-second", Message: "must not be negative"}
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		c.RateLimit.Burst = 1
	}

	if dsn := c.Usage.DSN; dsn != "" &&
		!strings.HasPrefix(dsn, "sqlite://") &&
		!strings.HasPrefix(dsn, "postgres://") &&
		!strings.HasPrefix(dsn, "postgresql://") {
		return &ValidationError{Field: "usage.dsn", Message: "must start with sqlite:// or postgres://"}
	}
	if c.Usage.BatchSize <= 0 {
		c.Usage.BatchSize = 100
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return &url.Error{Op: "parse", URL: raw, Err: errMissingHost}
	}
	return nil
}

var errMissingHost = errors.New("scheme and host are required")
