package cli

import (
	"github.com/daryltucker/sheet-runner/internal/engine"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/daryltucker/sheet-runner/internal/scenario"
	"github.com/spf13/cobra"
)

var (
	gridOutput    string
	gridScenarios string
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Recompose the contact sheet from stored results",
	Long: `Rebuilds grid.<ext> from the images already in the output directory, in battery
order, without contacting the service. Failure placeholders are included.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if gridOutput != "" {
			cfg.OutputDir = gridOutput
		}
		if gridScenarios != "" {
			cfg.ScenarioFile = gridScenarios
		}

		battery, err := scenario.Load(cfg.ScenarioFile)
		if err != nil {
			return err
		}

		results, path, err := engine.NewRunner(cfg, nil, nil, battery).Recompose(cmd.Context())
		if err != nil {
			return err
		}
		output.Logger.Info("Grid recomposed", "path", path, "scenarios", results.Len(), "images", results.Total())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gridCmd)

	gridCmd.Flags().StringVarP(&gridOutput, "output-dir", "o", "", "Directory holding stored results")
	gridCmd.Flags().StringVarP(&gridScenarios, "scenarios", "s", "", "Scenario battery YAML (default is the embedded battery)")
}
