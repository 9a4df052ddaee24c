// Package util holds small helpers shared by the CLI and bootstrap code.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading ~, $XDG_CONFIG_HOME and other environment
// variables in p. An unset XDG_CONFIG_HOME falls back to ~/.config.
func ResolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	if strings.Contains(p, "$XDG_CONFIG_HOME") || strings.Contains(p, "${XDG_CONFIG_HOME}") {
		xdg := os.Getenv("XDG_CONFIG_HOME")
		if xdg == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
			xdg = filepath.Join(home, ".config")
		}
		p = strings.NewReplacer("${XDG_CONFIG_HOME}", xdg, "$XDG_CONFIG_HOME", xdg).Replace(p)
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	return filepath.Clean(os.ExpandEnv(p)), nil
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
