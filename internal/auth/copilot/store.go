package copilot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotLoggedIn means no GitHub token is configured or stored.
var ErrNotLoggedIn = errors.New("not logged in to GitHub; run `copilot-gateway login`")

const tokenFileName = "github_token"

// TokenFile persists the GitHub OAuth token under the auth directory.
type TokenFile struct {
	path string
}

func NewTokenFile(authDir string) *TokenFile {
	return &TokenFile{path: filepath.Join(authDir, tokenFileName)}
}

func (f *TokenFile) Path() string { return f.path }

// Load returns the stored token, or ErrNotLoggedIn when there is none.
func (f *TokenFile) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("read github token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// Save writes the token with owner-only permissions.
func (f *TokenFile) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write github token: %w", err)
	}
	return nil
}

// ResolveGitHubToken prefers an explicit override, then the stored token.
func ResolveGitHubToken(override string, file *TokenFile) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}
	return file.Load()
}
