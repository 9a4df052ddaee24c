package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_DefaultsKept(t *testing.T) {
	cfg, err := Parse([]byte("port: 8080\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.Models.CacheTTL != 5*time.Minute {
		t.Errorf("Expected default cache ttl, got %v", cfg.Models.CacheTTL)
	}
	if len(cfg.Models.Prefixes) != len(DefaultModelPrefixes()) {
		t.Errorf("Expected default prefixes, got %v", cfg.Models.Prefixes)
	}
	if cfg.Upstream.EditorVersion != "vscode/1.99.3" {
		t.Errorf("Expected default editor version, got %q", cfg.Upstream.EditorVersion)
	}
	if cfg.Upstream.EditorVersionURL != DefaultEditorVersionURL {
		t.Errorf("Expected editor version lookup enabled by default, got %q", cfg.Upstream.EditorVersionURL)
	}
}

func TestParse_Durations(t *testing.T) {
	cfg, err := Parse([]byte("models:\n  cache-ttl: 90s\nupstream:\n  idle-timeout: 2m\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Models.CacheTTL != 90*time.Second || cfg.Upstream.IdleTimeout != 2*time.Minute {
		t.Errorf("Unexpected durations: %v %v", cfg.Models.CacheTTL, cfg.Upstream.IdleTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad port", "port: 70000\n", "port"},
		{"bad account", "upstream:\n  account-type: team\n", "upstream.account-type"},
		{"bad base url", "upstream:\n  base-url: not-a-url\n", "upstream.base-url"},
		{"bad proxy", "proxy-url: '://x'\n", "proxy-url"},
		{"empty prefix", "models:\n  prefixes:\n    - prefix: ''\n      target: x\n", "models.prefixes[0]"},
		{"negative rps", "rate-limit:\n  requests-per-second: -1\n", "rate-limit.requests-per-second"},
		{"bad dsn", "usage:\n  dsn: mysql://x\n", "usage.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestValidate_Normalizes(t *testing.T) {
	cfg, err := Parse([]byte("upstream:\n  account-type: ''\n  base-url: https://example.com/\nrate-limit:\n  requests-per-second: 2\n  burst: 0\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Upstream.AccountType != AccountIndividual {
		t.Errorf("Expected individual, got %s", cfg.Upstream.AccountType)
	}
	if cfg.Upstream.ResolveBaseURL() != "https://example.com" {
		t.Errorf("Expected trimmed base url, got %s", cfg.Upstream.ResolveBaseURL())
	}
	if cfg.RateLimit.Burst != 1 {
		t.Errorf("Expected burst raised to 1, got %d", cfg.RateLimit.Burst)
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := map[AccountType]string{
		AccountIndividual: "https://api.githubcopilot.com",
		AccountBusiness:   "https://api.business.githubcopilot.com",
		AccountEnterprise: "https://api.enterprise.githubcopilot.com",
	}
	for account, want := range tests {
		u := UpstreamConfig{AccountType: account}
		if got := u.ResolveBaseURL(); got != want {
			t.Errorf("%s: expected %s, got %s", account, want, got)
		}
	}
}

func TestLoadConfigOptional_Missing(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Expected default port, got %d", cfg.Port)
	}
	if _, err := LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Error("Expected error when file is required")
	}
}

func TestGenerateDefaultConfigYAML_RoundTrip(t *testing.T) {
	cfg, err := Parse(GenerateDefaultConfigYAML())
	if err != nil {
		t.Fatalf("Default YAML does not parse: %v", err)
	}
	if cfg.Models.Display["claude-sonnet-4"] != "claude-4-sonnet" {
		t.Errorf("Expected display mapping, got %v", cfg.Models.Display)
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 4141\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("port: 5000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.Port != 5000 {
			t.Errorf("Expected reloaded port 5000, got %d", cfg.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
