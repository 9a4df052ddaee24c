package copilot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nghyane/copilot-gateway/internal/config"
)

func testEditor() config.UpstreamConfig {
	return config.NewDefaultConfig().Upstream
}

func fastConfig() TokenSourceConfig {
	cfg := DefaultTokenSourceConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.JitterDelay = 0
	return cfg
}

type tokenServer struct {
	hits      atomic.Int32
	status    int
	delay     time.Duration
	expiresIn int64
	refreshIn int64
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/copilot_internal/v2/token":
		n := s.hits.Add(1)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		fmt.Fprintf(w, `{"token":"cop-%d","expires_at":%d,"refresh_in":%d}`,
			n, time.Now().Unix()+s.expiresIn, s.refreshIn)
	case "/user":
		if r.Header.Get("Authorization") != "token gh-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	default:
		http.NotFound(w, r)
	}
}

func newGitHub(t *testing.T, h http.Handler) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGitHubClient(srv.Client(), srv.URL, testEditor())
}

func TestTokenFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	f := NewTokenFile(dir)

	if _, err := f.Load(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Expected ErrNotLoggedIn, got %v", err)
	}
	if err := f.Save("gho_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(f.Path())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
	got, err := f.Load()
	if err != nil || got != "gho_abc" {
		t.Errorf("Expected gho_abc, got %q (%v)", got, err)
	}

	if err := os.WriteFile(f.Path(), []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Load(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Expected blank file treated as missing, got %v", err)
	}
}

func TestResolveGitHubToken(t *testing.T) {
	f := NewTokenFile(t.TempDir())
	if tok, err := ResolveGitHubToken(" env-tok ", f); err != nil || tok != "env-tok" {
		t.Errorf("Expected override, got %q (%v)", tok, err)
	}
	if _, err := ResolveGitHubToken("", f); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Expected ErrNotLoggedIn, got %v", err)
	}
}

func TestGitHubClient_CopilotToken(t *testing.T) {
	var auth, editor string
	gh := newGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		editor = r.Header.Get("Editor-Version")
		_, _ = w.Write([]byte(`{"token":"cop","expires_at":1700000000,"refresh_in":1500}`))
	}))

	tok, err := gh.CopilotToken(context.Background(), "gh-tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Token != "cop" || tok.RefreshIn != 1500 || tok.Expiry().Unix() != 1700000000 {
		t.Errorf("Unexpected token: %+v", tok)
	}
	if auth != "token gh-tok" || editor != "vscode/1.99.3" {
		t.Errorf("Unexpected headers: %q %q", auth, editor)
	}
}

func TestGitHubClient_User(t *testing.T) {
	gh := newGitHub(t, &tokenServer{})
	user, err := gh.User(context.Background(), "gh-tok")
	if err != nil || user != "octocat" {
		t.Errorf("Expected octocat, got %q (%v)", user, err)
	}

	_, err = gh.User(context.Background(), "bad")
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized || !he.Permanent() {
		t.Errorf("Expected permanent 401, got %v", err)
	}
}

func TestTokenSource_CachesToken(t *testing.T) {
	srv := &tokenServer{expiresIn: 1800, refreshIn: 1500}
	ts := NewTokenSource(newGitHub(t, srv), "gh-tok", fastConfig())

	for i := 0; i < 3; i++ {
		tok, err := ts.Token(context.Background())
		if err != nil || tok != "cop-1" {
			t.Fatalf("Expected cop-1, got %q (%v)", tok, err)
		}
	}
	if srv.hits.Load() != 1 {
		t.Errorf("Expected one exchange, got %d", srv.hits.Load())
	}
	st := ts.Stats()
	if !st.Ready || st.Refreshes != 1 {
		t.Errorf("Unexpected stats: %+v", st)
	}
	wantRefresh := time.Now().Add(1440 * time.Second)
	if d := st.RefreshAt.Sub(wantRefresh); d < -5*time.Second || d > 5*time.Second {
		t.Errorf("Expected refresh at refresh_in-60s, got %v", st.RefreshAt)
	}
}

func TestTokenSource_ConcurrentMissesShareExchange(t *testing.T) {
	srv := &tokenServer{expiresIn: 1800, refreshIn: 1500, delay: 50 * time.Millisecond}
	ts := NewTokenSource(newGitHub(t, srv), "gh-tok", fastConfig())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.Token(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	if srv.hits.Load() != 1 {
		t.Errorf("Expected a single shared exchange, got %d", srv.hits.Load())
	}
}

func TestTokenSource_PermanentErrorNotRetried(t *testing.T) {
	srv := &tokenServer{status: http.StatusForbidden}
	ts := NewTokenSource(newGitHub(t, srv), "gh-tok", fastConfig())

	if err := ts.Start(context.Background()); err == nil {
		t.Fatal("Expected start to fail")
	}
	if srv.hits.Load() != 1 {
		t.Errorf("Expected no retries on 403, got %d attempts", srv.hits.Load())
	}
	if ts.Stats().Failures != 1 {
		t.Errorf("Expected one recorded failure, got %+v", ts.Stats())
	}
}

func TestTokenSource_TransientErrorRetried(t *testing.T) {
	var hits atomic.Int32
	gh := newGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"token":"ok","expires_at":%d,"refresh_in":1500}`, time.Now().Unix()+1800)
	}))
	ts := NewTokenSource(gh, "gh-tok", fastConfig())

	tok, err := ts.Token(context.Background())
	if err != nil || tok != "ok" {
		t.Fatalf("Expected token after retries, got %q (%v)", tok, err)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits.Load())
	}
}

func TestTokenSource_BackgroundRefresh(t *testing.T) {
	srv := &tokenServer{expiresIn: 2, refreshIn: 1}
	cfg := fastConfig()
	cfg.MinValid = time.Millisecond
	ts := NewTokenSource(newGitHub(t, srv), "gh-tok", cfg)

	if err := ts.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ts.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for srv.hits.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if srv.hits.Load() < 2 {
		t.Fatal("Expected a background refresh")
	}
	tok, _ := ts.Token(context.Background())
	if tok == "cop-1" {
		t.Error("Expected the refreshed token to be served")
	}
}

func TestTokenSource_StopIsIdempotent(t *testing.T) {
	ts := NewTokenSource(newGitHub(t, &tokenServer{expiresIn: 1800, refreshIn: 1500}), "gh-tok", fastConfig())
	if err := ts.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.Stop()
	ts.Stop()
	if tok, err := ts.Token(context.Background()); err != nil || tok != "cop-1" {
		t.Errorf("Expected cached token after stop, got %q (%v)", tok, err)
	}
}

func deviceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("client_id") != ClientID {
			t.Errorf("Expected client id %s, got %q", ClientID, r.Form.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/login/device/code":
			if r.Form.Get("scope") != Scope {
				t.Errorf("Expected scope %s, got %q", Scope, r.Form.Get("scope"))
			}
			_, _ = w.Write([]byte(`{"device_code":"dev","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","expires_in":900,"interval":0}`))
		case "/login/oauth/access_token":
			if r.Form.Get("device_code") != "dev" {
				t.Errorf("Expected device code, got %q", r.Form.Get("device_code"))
			}
			_, _ = w.Write([]byte(`{"access_token":"gho_new","token_type":"bearer","scope":"read:user"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeviceLogin(t *testing.T) {
	srv := deviceServer(t)
	var out bytes.Buffer
	var opened string

	tok, err := DeviceLogin(context.Background(), LoginOptions{
		GitHubURL:  srv.URL,
		HTTPClient: srv.Client(),
		Out:        &out,
		OpenURL:    func(u string) error { opened = u; return nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "gho_new" {
		t.Errorf("Expected gho_new, got %q", tok)
	}
	if !strings.Contains(out.String(), "ABCD-1234") {
		t.Errorf("Expected user code in instructions, got %q", out.String())
	}
	if opened != "https://github.com/login/device" {
		t.Errorf("Expected verification URL opened, got %q", opened)
	}
}

func TestLogin_UsesStoredToken(t *testing.T) {
	file := NewTokenFile(t.TempDir())
	if err := file.Save("gh-tok"); err != nil {
		t.Fatal(err)
	}
	gh := newGitHub(t, &tokenServer{})

	tok, user, err := Login(context.Background(), file, gh, LoginOptions{
		GitHubURL: "http://127.0.0.1:1",
		OpenURL:   func(string) error { t.Error("device flow must not run"); return nil },
	})
	if err != nil || tok != "gh-tok" || user != "octocat" {
		t.Errorf("Expected stored token for octocat, got %q %q (%v)", tok, user, err)
	}
}

func TestLogin_ForceRunsDeviceFlow(t *testing.T) {
	file := NewTokenFile(t.TempDir())
	if err := file.Save("old"); err != nil {
		t.Fatal(err)
	}
	dev := deviceServer(t)
	gh := newGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	}))

	tok, _, err := Login(context.Background(), file, gh, LoginOptions{
		Force:      true,
		NoBrowser:  true,
		GitHubURL:  dev.URL,
		HTTPClient: dev.Client(),
		Out:        &bytes.Buffer{},
	})
	if err != nil || tok != "gho_new" {
		t.Fatalf("Expected new token, got %q (%v)", tok, err)
	}
	if stored, _ := file.Load(); stored != "gho_new" {
		t.Errorf("Expected new token persisted, got %q", stored)
	}
}

func TestResolveEditorVersion(t *testing.T) {
	pkgbuild := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, "# Maintainer: someone\npkgname=visual-studio-code-bin\npkgver=1.104.2\npkgrel=1\n")
		case "/garbage":
			fmt.Fprint(w, "nothing to see")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer pkgbuild.Close()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"fetched", pkgbuild.URL + "/ok", "vscode/1.104.2"},
		{"no pkgver", pkgbuild.URL + "/garbage", "vscode/1.99.3"},
		{"bad status", pkgbuild.URL + "/missing", "vscode/1.99.3"},
		{"disabled", "", "vscode/1.99.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveEditorVersion(context.Background(), pkgbuild.Client(), tt.url, "vscode/1.99.3")
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
