/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes the full scenario battery and composes the contact sheet.

REQUIREMENTS:
  User-specified:
  - Run the battery.
  - Specific flags for overrides.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config.
  - A run with failed scenarios still exits 0 unless --fail-on-error is set;
    failures are part of the sheet, not a harness error.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load fails or engine run fails.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Validate -> Engine.Run.

USAGE:
  sheet-runner run --url http://gpu-box:45554 -o ./results

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/runner.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"fmt"

	"github.com/daryltucker/sheet-runner/internal/engine"
	"github.com/daryltucker/sheet-runner/internal/model"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/spf13/cobra"
)

var (
	urlOverride       string
	outputOverride    string
	scenariosOverride string
	reuseFailures     bool
	failOnError       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenario battery",
	Long: `Executes every scenario of the battery against the diffusion service.
The process follows a strict protocol:
1. Status: Logs the GPU the service reports.
2. Checkpoint: Downloads the base checkpoint if the service does not have it.
3. Scenarios: Runs each scenario in order. Scenarios with images already in the
   output directory are not sent again; failures become placeholder images.
4. Sheet: Writes run_manifest.csv/.jsonl, prints a summary and saves grid.png.

Delete a scenario's images from the output directory to run it again.`,
	Example: `  # Run with defaults (uses sheet_runner.yaml)
  sheet-runner run

  # Override the service URL and output directory
  sheet-runner run --url http://gpu-box:45554 -o ./results

  # Use a custom battery
  sheet-runner run --scenarios ./scenarios.yaml

  # Treat stored failures as results instead of retrying them
  sheet-runner run --reuse-failures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// 2. Overrides
		flags := cmd.Flags()
		if urlOverride != "" {
			cfg.URL = urlOverride
		}
		if outputOverride != "" {
			cfg.OutputDir = outputOverride
		}
		if scenariosOverride != "" {
			cfg.ScenarioFile = scenariosOverride
		}
		if flags.Changed("reuse-failures") {
			cfg.ReuseFailures = reuseFailures
		}

		// 3. Execution
		report, err := engine.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if summary := report.Summary(); failOnError && summary.Failed() {
			return fmt.Errorf("%d scenario(s) failed, see %s",
				summary.Counts[model.StatusFailed], report.GridPath)
		}
		output.Logger.Info("Run complete", "run_id", report.RunID, "grid", report.GridPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&urlOverride, "url", "", "Base URL of the diffusion service")
	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for images, manifest and grid")
	runCmd.Flags().StringVarP(&scenariosOverride, "scenarios", "s", "", "Scenario battery YAML (default is the embedded battery)")
	runCmd.Flags().BoolVar(&reuseFailures, "reuse-failures", false, "Treat stored failure placeholders as cached results")
	runCmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit non-zero when any scenario failed")
}
