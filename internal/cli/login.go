package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nghyane/copilot-gateway/internal/auth/copilot"
	"github.com/nghyane/copilot-gateway/internal/resilience"
)

var (
	loginNoBrowser bool
	loginForce     bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login to GitHub Copilot",
	Long: `Login to GitHub Copilot using the OAuth device flow.

You will be shown a code to enter at github.com/login/device. The resulting
GitHub token is stored in the auth directory and reused by 'serve'.`,
	RunE: func(c *cobra.Command, args []string) error {
		result, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := result.Config

		client, err := resilience.NewTransports(resilience.DefaultTransportSettings).Client(cfg.ProxyURL, 0)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		file := copilot.NewTokenFile(cfg.AuthDir)
		gh := copilot.NewGitHubClient(client, "", cfg.Upstream)
		_, user, err := copilot.Login(ctx, file, gh, copilot.LoginOptions{
			NoBrowser:  loginNoBrowser,
			Force:      loginForce,
			HTTPClient: client,
			Out:        c.OutOrStdout(),
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if user != "" {
			fmt.Fprintf(c.OutOrStdout(), "Logged in as %s\n", user)
		}
		fmt.Fprintf(c.OutOrStdout(), "GitHub token saved to %s\n", file.Path())
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "print the verification URL instead of opening a browser")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "run the device flow even when a token is stored")
	rootCmd.AddCommand(loginCmd)
}
