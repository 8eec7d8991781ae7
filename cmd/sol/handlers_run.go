package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/speedoflight/internal/agent"
	"github.com/haasonsaas/speedoflight/internal/desktop"
)

const shutdownTimeout = 10 * time.Second

// startApp loads config and wires a conversation for run and chat.
func startApp(ctx context.Context, cmd *cobra.Command, root *rootFlags, flags *runFlags, approver desktop.Approver, sink *terminalSink) (*app, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg, cmd.ErrOrStderr())
	if flags.autoApprove {
		approver = desktop.AutoApprove
	}
	return newApp(ctx, cfg, logger, appOptions{
		tracePath:   flags.tracePath,
		metricsAddr: flags.metricsAddr,
		approver:    approver,
		sink:        sink,
	})
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.close(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

// runOnce handles the run command.
func runOnce(cmd *cobra.Command, root *rootFlags, flags *runFlags, text string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := newTerminalSink(cmd.OutOrStdout(), cmd.ErrOrStderr())
	approver := desktop.NewPromptApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
	a, err := startApp(ctx, cmd, root, flags, approver, sink)
	if err != nil {
		return err
	}
	defer closeApp(a)

	return a.runner.Run(ctx, agent.Request{Text: text})
}

// runChat handles the chat command. Requests and approval answers share
// stdin, so both are read through the same PromptApprover.
func runChat(cmd *cobra.Command, root *rootFlags, flags *runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := cmd.ErrOrStderr()
	sink := newTerminalSink(cmd.OutOrStdout(), status)
	input := desktop.NewPromptApprover(cmd.InOrStdin(), status)
	a, err := startApp(ctx, cmd, root, flags, input, sink)
	if err != nil {
		return err
	}
	defer closeApp(a)

	for {
		fmt.Fprint(status, "> ")
		line, err := input.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(status)
			return nil
		}
		if err != nil {
			return err
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		if err := a.runner.Run(ctx, agent.Request{Text: text}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Debug("run failed", "error", err)
		}
		// Events are printed from the queue goroutine.
		if _, err := sink.wait(ctx); err != nil {
			return nil
		}
	}
}
