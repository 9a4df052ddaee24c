package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nghyane/copilot-gateway/internal/auth/copilot"
	"github.com/nghyane/copilot-gateway/internal/bootstrap"
	"github.com/nghyane/copilot-gateway/internal/buildinfo"
	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/service"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the gateway HTTP server.

It loads the configuration, exchanges the stored GitHub token for a Copilot
token, and serves /v1/chat/completions, /v1/messages and /v1/models until
interrupted.`,
	RunE: func(c *cobra.Command, args []string) error {
		result, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := result.Config
		if servePort != 0 {
			cfg.Port = servePort
		}

		log.SetDebug(cfg.Debug)
		if err := log.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
			return fmt.Errorf("configure log output: %w", err)
		}
		log.Infof("copilot-gateway %s", buildinfo.String())
		log.Infof("Config: %s", result.ConfigFilePath)

		svc, err := service.New(cfg, result.ConfigFilePath, service.WithReloadHook(bootstrap.ApplyEnvOverrides))
		if err != nil {
			if errors.Is(err, copilot.ErrNotLoggedIn) {
				return fmt.Errorf("no GitHub token found: run 'copilot-gateway login' or set GH_TOKEN")
			}
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return svc.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
