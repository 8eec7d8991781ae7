package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/speedoflight/internal/agent"
	"github.com/haasonsaas/speedoflight/pkg/models"
)

// buildTraceCmd creates the "trace" command group for JSONL traces written
// with --trace.
func buildTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect JSONL event traces",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a trace file structure",
		Long: `Validate a JSONL trace file.

Checks:
- Header has a supported version
- Sequences strictly increase
- Every run.started is closed by exactly one run.completed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceValidate(cmd, args[0])
		},
	})
	return cmd
}

func runTraceValidate(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := agent.NewTraceReader(f)
	if err != nil {
		return err
	}
	events, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	out := cmd.OutOrStdout()
	problems := agent.ValidateTrace(events)
	if len(problems) > 0 {
		fmt.Fprintf(out, "%s is invalid:\n", path)
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("%d trace problem(s)", len(problems))
	}

	runs := 0
	for _, e := range events {
		if e.Type == models.AgentEventRunCompleted {
			runs++
		}
	}
	header := reader.Header()
	fmt.Fprintf(out, "%s is valid: session %s, %d events, %d runs\n", path, header.SessionID, len(events), runs)
	return nil
}
