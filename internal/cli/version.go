package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nghyane/copilot-gateway/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(c *cobra.Command, args []string) {
		fmt.Fprintf(c.OutOrStdout(), "copilot-gateway %s\n", buildinfo.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
