/*
PURPOSE:
  Defines the root Cobra command for the Sheet Runner CLI.
  Handles global flags, configuration loading and logger setup.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config, --log-level, --log-format.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Flags override the config file, which overrides the environment-free defaults.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/sheet-runner/main.go
  - Calls: Child commands (run, grid, status, checkpoints, scenarios)
  - Modifies: Global logger (output.Init) once flags are parsed.

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands; they call loadConfig() first.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init() and loadConfig().

RELATED FILES:
  - cmd/sheet-runner/main.go
  - internal/config/config.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"context"
	"fmt"

	"github.com/daryltucker/sheet-runner/internal/config"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/spf13/cobra"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile   string
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "sheet-runner",
		Short: "Visual regression harness for diffusion services",
		Long: `Runs a fixed battery of image generation scenarios against a diffusion service,
caches every result on disk and composes a captioned contact sheet for review.
Use 'run --help' for run options.`,
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads the config file, applies global flag overrides and
// initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}

	output.Init(output.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sheet_runner.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
}
