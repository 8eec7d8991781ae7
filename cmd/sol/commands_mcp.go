package main

import "github.com/spf13/cobra"

// buildMcpCmd creates the "mcp" command group.
func buildMcpCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect MCP servers and call their tools",
		Long: `Start the configured MCP servers and inspect what they expose.

Use "sol mcp servers" to see which servers came up.`,
	}
	cmd.AddCommand(
		buildMcpServersCmd(root),
		buildMcpToolsCmd(root),
		buildMcpResourcesCmd(root),
		buildMcpPromptsCmd(root),
		buildMcpCallCmd(root),
		buildMcpReadCmd(root),
		buildMcpPromptCmd(root),
	)
	return cmd
}

func buildMcpServersCmd(root *rootFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured MCP servers and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpServers(cmd, root, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func buildMcpToolsCmd(root *rootFlags) *cobra.Command {
	var serverID string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpTools(cmd, root, serverID)
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "Server ID (optional)")
	return cmd
}

func buildMcpResourcesCmd(root *rootFlags) *cobra.Command {
	var serverID string
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List MCP resources and resource templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpResources(cmd, root, serverID)
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "Server ID (optional)")
	return cmd
}

func buildMcpPromptsCmd(root *rootFlags) *cobra.Command {
	var serverID string
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List MCP prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpPrompts(cmd, root, serverID)
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "Server ID (optional)")
	return cmd
}

func buildMcpCallCmd(root *rootFlags) *cobra.Command {
	var (
		rawJSON string
		rawArgs []string
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call an MCP tool",
		Long: `Call a tool by name. Arguments come from --json or repeated --arg key=value
flags; values that parse as JSON are sent as JSON, anything else as a string.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpCall(cmd, root, args[0], rawJSON, rawArgs)
		},
	}
	cmd.Flags().StringVar(&rawJSON, "json", "", "Tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Tool argument (key=value)")
	return cmd
}

func buildMcpReadCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read <server-id> <uri>",
		Short: "Read an MCP resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpRead(cmd, root, args[0], args[1])
		},
	}
}

func buildMcpPromptCmd(root *rootFlags) *cobra.Command {
	var rawArgs []string
	cmd := &cobra.Command{
		Use:   "prompt <server-id> <name>",
		Short: "Render an MCP prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpPrompt(cmd, root, args[0], args[1], rawArgs)
		},
	}
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Prompt argument (key=value)")
	return cmd
}
