package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/daryltucker/sheet-runner/internal/assets"
	"github.com/daryltucker/sheet-runner/internal/output"
	"github.com/daryltucker/sheet-runner/internal/scenario"
	"github.com/spf13/cobra"
)

var (
	scenariosForce bool
	scenariosFile  string
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Manage scenario batteries",
}

var scenariosInstallCmd = &cobra.Command{
	Use:   "install [path]",
	Short: "Write the embedded default battery to a file for editing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}

		target := "scenarios.yaml"
		if len(args) == 1 {
			target = args[0]
		}

		if !scenariosForce {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to check %s: %w", target, err)
			}
		}

		content, err := fs.ReadFile(assets.Scenarios, assets.DefaultScenarios)
		if err != nil {
			return fmt.Errorf("failed to read embedded scenarios: %w", err)
		}

		if dir := filepath.Dir(target); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create target directory %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}

		output.Logger.Info("Installed scenario battery", "path", target)
		return nil
	},
}

var scenariosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the expanded scenario names in run order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if scenariosFile != "" {
			cfg.ScenarioFile = scenariosFile
		}

		battery, err := scenario.Load(cfg.ScenarioFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, s := range battery.Expand() {
			if len(s.Requires) > 0 {
				fmt.Fprintf(out, "%s (requires %v)\n", s.Name, s.Requires)
				continue
			}
			fmt.Fprintln(out, s.Name)
		}
		return nil
	},
}

func init() {
	scenariosInstallCmd.Flags().BoolVarP(&scenariosForce, "force", "f", false, "Overwrite an existing file")
	scenariosListCmd.Flags().StringVarP(&scenariosFile, "scenarios", "s", "", "Scenario battery YAML (default is the embedded battery)")

	scenariosCmd.AddCommand(scenariosInstallCmd)
	scenariosCmd.AddCommand(scenariosListCmd)
	rootCmd.AddCommand(scenariosCmd)
}
