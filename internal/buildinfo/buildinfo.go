// Package buildinfo carries version metadata injected at link time with
// -ldflags "-X github.com/nghyane/copilot-gateway/internal/buildinfo.Version=...".
package buildinfo

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
