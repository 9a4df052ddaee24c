// Package copilot authenticates against GitHub and keeps a Copilot API token
// fresh.
package copilot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nghyane/copilot-gateway/internal/config"
	"github.com/nghyane/copilot-gateway/internal/json"
)

const (
	DefaultGitHubURL    = "https://github.com"
	DefaultGitHubAPIURL = "https://api.github.com"

	// ClientID is the GitHub OAuth app used by the Copilot editor plugins.
	ClientID = "Iv1.b507a08c87ecfe98"
	Scope    = "read:user"
)

// CopilotToken is the short-lived API token exchanged for a GitHub token.
type CopilotToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int64  `json:"refresh_in"`
}

// Expiry returns ExpiresAt as a time; zero when unset.
func (t *CopilotToken) Expiry() time.Time {
	if t.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.Unix(t.ExpiresAt, 0)
}

// GitHubClient talks to the GitHub REST API on behalf of a user token.
type GitHubClient struct {
	http    *http.Client
	apiBase string
	editor  config.UpstreamConfig
}

// NewGitHubClient uses DefaultGitHubAPIURL when apiBase is empty.
func NewGitHubClient(client *http.Client, apiBase string, editor config.UpstreamConfig) *GitHubClient {
	if apiBase == "" {
		apiBase = DefaultGitHubAPIURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHubClient{http: client, apiBase: apiBase, editor: editor}
}

func (c *GitHubClient) get(ctx context.Context, path, githubToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", c.editor.EditorVersion)
	req.Header.Set("Editor-Plugin-Version", c.editor.EditorPluginVersion)
	req.Header.Set("X-Github-Api-Version", c.editor.APIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Path: path, Body: body}
	}
	return body, nil
}

// CopilotToken exchanges githubToken for a Copilot API token.
func (c *GitHubClient) CopilotToken(ctx context.Context, githubToken string) (*CopilotToken, error) {
	body, err := c.get(ctx, "/copilot_internal/v2/token", githubToken)
	if err != nil {
		return nil, err
	}
	var tok CopilotToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode copilot token: %w", err)
	}
	if tok.Token == "" {
		return nil, fmt.Errorf("copilot token response has no token")
	}
	return &tok, nil
}

// User returns the login name the token belongs to.
func (c *GitHubClient) User(ctx context.Context, githubToken string) (string, error) {
	body, err := c.get(ctx, "/user", githubToken)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "login").String(), nil
}

// HTTPError is a non-200 GitHub reply.
type HTTPError struct {
	StatusCode int
	Path       string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("github %s: status %d: %.200s", e.Path, e.StatusCode, e.Body)
}

// Permanent reports whether retrying cannot help: the token is rejected or
// has no Copilot seat.
func (e *HTTPError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
