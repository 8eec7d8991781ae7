// Package main is the sol command line.
//
// sol runs a desktop assistant: a model provider plus local clipboard and
// computer tools and any number of MCP tool servers.
//
//	sol run "copy today's date to the clipboard"
//	sol chat
//	sol mcp tools
//	sol config validate
//
// Configuration is read from --config, $SOL_CONFIG, or sol.yaml. API keys
// fall back to ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY and
// GEMINI_API_KEY.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "sol.yaml"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func buildRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "sol",
		Short: "Speed of Light - a desktop assistant with MCP tools",
		Long: `sol sends your request to a model provider and lets it use local
desktop tools (clipboard, screen, keyboard, mouse) and tools from MCP servers.

Supported providers: Anthropic, OpenAI, OpenRouter, Ollama, Google Gemini`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", envOr("SOL_CONFIG", defaultConfigPath), "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override observability.log_level")

	rootCmd.AddCommand(
		buildRunCmd(flags),
		buildChatCmd(flags),
		buildMcpCmd(flags),
		buildConfigCmd(flags),
		buildTraceCmd(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
