package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// LoginOptions configures the device flow.
type LoginOptions struct {
	// NoBrowser prints the verification URL without trying to open it.
	NoBrowser bool
	// Force runs the device flow even when a token is already stored.
	Force bool

	GitHubURL  string
	HTTPClient *http.Client
	// Out receives the user-facing instructions; defaults to stdout.
	Out io.Writer
	// OpenURL opens the verification page; defaults to the system browser.
	OpenURL func(string) error
}

func (o *LoginOptions) normalize() {
	if o.GitHubURL == "" {
		o.GitHubURL = DefaultGitHubURL
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.OpenURL == nil {
		o.OpenURL = open.Run
	}
}

func deviceConfig(githubURL string) *oauth2.Config {
	base := strings.TrimRight(githubURL, "/")
	return &oauth2.Config{
		ClientID: ClientID,
		Scopes:   []string{Scope},
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: base + "/login/device/code",
			TokenURL:      base + "/login/oauth/access_token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// DeviceLogin runs the GitHub OAuth device flow and returns the access token.
func DeviceLogin(ctx context.Context, opts LoginOptions) (string, error) {
	opts.normalize()
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}

	conf := deviceConfig(opts.GitHubURL)
	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("request device code: %w", err)
	}
	// GitHub answers slow_down to clients that poll on the exact interval.
	da.Interval++

	fmt.Fprintf(opts.Out, "Please enter the code %q at %s\n", da.UserCode, da.VerificationURI)
	if !opts.NoBrowser {
		if err := opts.OpenURL(da.VerificationURI); err != nil {
			log.Warnf("Failed to open browser automatically: %v", err)
		}
	}
	fmt.Fprintln(opts.Out, "Waiting for GitHub authorization...")

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return "", fmt.Errorf("device authorization failed: %s", re.ErrorCode)
		}
		return "", fmt.Errorf("poll access token: %w", err)
	}
	return tok.AccessToken, nil
}

// Login ensures a GitHub token is stored, running the device flow when there
// is none or opts.Force is set, and returns the token and its login name.
func Login(ctx context.Context, file *TokenFile, gh *GitHubClient, opts LoginOptions) (token, user string, err error) {
	if !opts.Force {
		if token, err = file.Load(); err == nil {
			user, err = gh.User(ctx, token)
			return token, user, err
		}
		if !errors.Is(err, ErrNotLoggedIn) {
			return "", "", err
		}
	}

	log.Info("Getting new GitHub access token")
	token, err = DeviceLogin(ctx, opts)
	if err != nil {
		return "", "", err
	}
	if err = file.Save(token); err != nil {
		return "", "", err
	}
	if user, err = gh.User(ctx, token); err != nil {
		return token, "", err
	}
	log.Infof("Logged in as %s", user)
	return token, user, nil
}
