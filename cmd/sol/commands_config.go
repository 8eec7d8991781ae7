package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/speedoflight/internal/config"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration or print its JSON Schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				schema, err := config.JSONSchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, root)
			},
		},
	)
	return cmd
}

func runConfigValidate(cmd *cobra.Command, root *rootFlags) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(root.configPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%s is invalid:\n", root.configPath)
			for _, problem := range verr.Problems {
				fmt.Fprintf(out, "  - %s\n", problem)
			}
			return fmt.Errorf("%d configuration problem(s)", len(verr.Problems))
		}
		return err
	}
	selected := cfg.LLM.Selected()
	model := selected.Model
	if model == "" {
		model = "default model"
	}
	fmt.Fprintf(out, "%s is valid\n", root.configPath)
	fmt.Fprintf(out, "  provider: %s (%s)\n", cfg.LLM.Provider, model)
	fmt.Fprintf(out, "  mcp servers: %d\n", len(cfg.MCPServers))
	fmt.Fprintf(out, "  clipboard: %t | computer: %t\n", cfg.Desktop.EnableClipboard, cfg.Desktop.EnableComputerUse)
	return nil
}
