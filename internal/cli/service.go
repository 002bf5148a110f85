/*
PURPOSE:
  Defines the 'status' and 'checkpoints' subcommands.
  Helps debug connectivity before a full run.

REQUIREMENTS:
  User-specified:
  - Show what GPU the service runs on.
  - List installed checkpoints.

  Implementation-discovered:
  - Useful validation step before full run.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Client (Status, Checkpoints)

ERROR HANDLING:
  - Returns the classified client error (ConnectionError, HTTPError, ...).

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  sheet-runner status --url ...
  sheet-runner checkpoints

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/client.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"
	"sort"

	"github.com/daryltucker/sheet-runner/internal/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var serviceURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the diffusion service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "GPU: %s\n", status.GPUName())
		data, err := yaml.Marshal(status.Raw)
		if err != nil {
			return fmt.Errorf("failed to format status: %w", err)
		}
		_, err = out.Write(data)
		return err
	},
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoints installed on the diffusion service",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		available, err := client.Checkpoints(cmd.Context())
		if err != nil {
			return err
		}

		names := make([]string, 0, len(available))
		for name := range available {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Querying %s...\n", client.BaseURL)
		for _, name := range names {
			fmt.Fprintf(out, "- %s\n", name)
		}
		return nil
	},
}

func newClient(cmd *cobra.Command) (*engine.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if serviceURL != "" {
		cfg.URL = serviceURL
	}
	return engine.NewClient(cfg), nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkpointsCmd)

	statusCmd.Flags().StringVar(&serviceURL, "url", "", "Base URL of the diffusion service")
	checkpointsCmd.Flags().StringVar(&serviceURL, "url", "", "Base URL of the diffusion service")
}
