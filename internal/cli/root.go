// Package cli implements the copilot-gateway command line with cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nghyane/copilot-gateway/internal/bootstrap"
	"github.com/nghyane/copilot-gateway/internal/buildinfo"
	log "github.com/nghyane/copilot-gateway/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "copilot-gateway",
	Short: "OpenAI and Anthropic compatible gateway for GitHub Copilot",
	Long: `copilot-gateway exposes GitHub Copilot's chat models behind the OpenAI
chat completions API and the Anthropic messages API.

Run 'copilot-gateway login' once, then 'copilot-gateway serve'.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		log.SetupBaseLogger()
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*bootstrap.Result, error) {
	return bootstrap.Bootstrap(cfgFile)
}

func init() {
	rootCmd.Version = buildinfo.String()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+bootstrap.DefaultConfigPath+")")
}
