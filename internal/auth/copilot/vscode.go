package copilot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

const vscodeVersionTimeout = 5 * time.Second

var pkgverRe = regexp.MustCompile(`(?m)^pkgver=([0-9][0-9.]*)`)

// FetchVSCodeVersion reads the current VS Code version from a PKGBUILD.
func FetchVSCodeVersion(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, vscodeVersionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vscode version: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	m := pkgverRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("vscode version: no pkgver in response")
	}
	return string(m[1]), nil
}

// ResolveEditorVersion returns "vscode/<current>" when url is set and the
// lookup succeeds, otherwise fallback.
func ResolveEditorVersion(ctx context.Context, client *http.Client, url, fallback string) string {
	if url == "" {
		return fallback
	}
	v, err := FetchVSCodeVersion(ctx, client, url)
	if err != nil {
		log.Debugf("using configured editor version %s: %v", fallback, err)
		return fallback
	}
	log.Debugf("editor version: vscode/%s", v)
	return "vscode/" + v
}
