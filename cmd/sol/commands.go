package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// runFlags configure a conversation.
type runFlags struct {
	tracePath   string
	metricsAddr string
	autoApprove bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tracePath, "trace", "", "Write a JSONL event trace to this file")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&f.autoApprove, "yes", false, "Approve every desktop action without asking")
}

func buildRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run one request to completion",
		Long: `Send one request to the model and let it use tools until it finishes.

The final reply is printed to stdout. The exit status is non-zero when the
run fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, root, flags, strings.Join(args, " "))
		},
	}
	flags.register(cmd)
	return cmd
}

func buildChatCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Read requests line by line and run each one in the same conversation.

Type /exit or press Ctrl-D to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, root, flags)
		},
	}
	flags.register(cmd)
	return cmd
}
