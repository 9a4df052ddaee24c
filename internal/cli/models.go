package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nghyane/copilot-gateway/internal/registry"
	"github.com/nghyane/copilot-gateway/internal/service"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available to your Copilot account",
	RunE: func(c *cobra.Command, args []string) error {
		result, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := service.New(result.Config, "")
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithTimeout(c.Context(), time.Minute)
		defer cancel()
		models, err := svc.Catalog().Models(ctx)
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		printModels(c, svc.Mapper(), models)
		return nil
	},
}

func printModels(c *cobra.Command, mapper *registry.ModelMapper, models []*registry.ModelInfo) {
	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVENDOR\tMAX OUTPUT\tLISTED AS")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.ID, m.Vendor, m.Capabilities.Limits.MaxOutputTokens, mapper.ListedID(m))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
