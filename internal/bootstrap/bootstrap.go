// Package bootstrap loads the configuration every CLI command starts from.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/util"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "$XDG_CONFIG_HOME/copilot-gateway/config.yaml"

// Result contains the result of bootstrapping the application.
type Result struct {
	Config         *config.Config
	ConfigFilePath string
}

// Bootstrap loads .env, the config file and environment overrides, and
// resolves the directories the config names. The default config file is
// created on first run.
func Bootstrap(configPath string) (*Result, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	defaultPath, err := util.ResolvePath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		configPath = defaultPath
	} else if configPath, err = util.ResolvePath(configPath); err != nil {
		return nil, err
	}
	if configPath == defaultPath && !util.FileExists(configPath) {
		autoInitConfig(configPath)
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.AuthDir, err = util.ResolvePath(cfg.AuthDir); err != nil {
		return nil, fmt.Errorf("failed to resolve auth directory: %w", err)
	}
	if cfg.AuthDir == "" {
		cfg.AuthDir = filepath.Join(filepath.Dir(configPath), "auth")
	}
	if cfg.LogDir, err = util.ResolvePath(cfg.LogDir); err != nil {
		return nil, fmt.Errorf("failed to resolve log directory: %w", err)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(filepath.Dir(configPath), "logs")
	}

	return &Result{Config: cfg, ConfigFilePath: configPath}, nil
}

// autoInitConfig silently creates config on first run
func autoInitConfig(configPath string) {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Join(dir, "auth"), 0o700)
	if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return
	}
	fmt.Printf("First run: created config at %s\n", configPath)
}
