package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/speedoflight/internal/mcp"
)

// startRegistry starts every configured server. The returned func shuts
// them down.
func startRegistry(cmd *cobra.Command, root *rootFlags) (*mcp.Registry, func(), error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg, cmd.ErrOrStderr())
	registry := mcp.NewRegistry(cfg.MCPServers, mcp.RegistryOptions{
		Logger:            logger,
		ValidateArguments: true,
	})
	if err := registry.Start(cmd.Context()); err != nil {
		return nil, nil, err
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()
		if err := registry.Shutdown(ctx); err != nil {
			logger.Warn("failed to stop MCP servers", "error", err)
		}
	}
	return registry, stop, nil
}

// readyServers returns the ids to report on: one server, or every ready one.
func readyServers(registry *mcp.Registry, serverID string) ([]string, error) {
	if serverID != "" {
		if _, err := registry.Session(serverID); err != nil {
			return nil, err
		}
		return []string{serverID}, nil
	}
	var ids []string
	for _, status := range registry.Status() {
		if status.Ready {
			ids = append(ids, status.ID)
		}
	}
	return ids, nil
}

// runMcpServers handles the mcp servers command.
func runMcpServers(cmd *cobra.Command, root *rootFlags, jsonOutput bool) error {
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	out := cmd.OutOrStdout()
	statuses := registry.Status()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		return nil
	}
	fmt.Fprintln(out, "MCP Servers:")
	for _, status := range statuses {
		state := "ready"
		switch {
		case status.Disabled:
			state = "disabled"
		case !status.Ready:
			state = "failed"
		}
		fmt.Fprintf(out, "  %s (%s, %s) - %s\n", status.ID, status.Name, status.Transport, state)
		if status.Error != "" {
			fmt.Fprintf(out, "    Error: %s\n", status.Error)
		}
		if status.Ready {
			fmt.Fprintf(out, "    Server: %s %s | Protocol: %s\n", status.Server.Name, status.Server.Version, status.ProtocolVersion)
			fmt.Fprintf(out, "    Tools: %d | Resources: %d | Templates: %d | Prompts: %d\n", status.Tools, status.Resources, status.Templates, status.Prompts)
		}
	}
	return nil
}

// runMcpTools handles the mcp tools command.
func runMcpTools(cmd *cobra.Command, root *rootFlags, serverID string) error {
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	ids, err := readyServers(registry, serverID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return nil
	}
	for _, id := range ids {
		discovery, err := registry.Discovered(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Tools for %s:\n", id)
		if len(discovery.Tools) == 0 {
			fmt.Fprintln(out, "  (none)")
		}
		for _, tool := range discovery.Tools {
			fmt.Fprintf(out, "  - %s: %s\n", tool.Name, firstLine(tool.Description))
		}
	}
	return nil
}

// runMcpResources handles the mcp resources command.
func runMcpResources(cmd *cobra.Command, root *rootFlags, serverID string) error {
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	ids, err := readyServers(registry, serverID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range ids {
		discovery, err := registry.Discovered(id)
		if err != nil {
			return err
		}
		if len(discovery.Resources)+len(discovery.ResourceTemplates) == 0 {
			continue
		}
		fmt.Fprintf(out, "Resources for %s:\n", id)
		for _, res := range discovery.Resources {
			fmt.Fprintf(out, "  - %s (%s)", res.URI, res.Name)
			if res.MimeType != "" {
				fmt.Fprintf(out, " [%s]", res.MimeType)
			}
			fmt.Fprintln(out)
		}
		for _, tmpl := range discovery.ResourceTemplates {
			fmt.Fprintf(out, "  - %s (%s, template)\n", tmpl.URITemplate, tmpl.Name)
		}
	}
	return nil
}

// runMcpPrompts handles the mcp prompts command.
func runMcpPrompts(cmd *cobra.Command, root *rootFlags, serverID string) error {
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	ids, err := readyServers(registry, serverID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range ids {
		discovery, err := registry.Discovered(id)
		if err != nil {
			return err
		}
		if len(discovery.Prompts) == 0 {
			continue
		}
		fmt.Fprintf(out, "Prompts for %s:\n", id)
		for _, prompt := range discovery.Prompts {
			fmt.Fprintf(out, "  - %s: %s\n", prompt.Name, firstLine(prompt.Description))
			for _, arg := range prompt.Arguments {
				required := ""
				if arg.Required {
					required = " (required)"
				}
				fmt.Fprintf(out, "      %s%s\n", arg.Name, required)
			}
		}
	}
	return nil
}

// runMcpCall handles the mcp call command.
func runMcpCall(cmd *cobra.Command, root *rootFlags, tool, rawJSON string, rawArgs []string) error {
	args, err := toolArguments(rawJSON, rawArgs)
	if err != nil {
		return err
	}
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	result, err := registry.CallTool(cmd.Context(), tool, args)
	if err != nil {
		return err
	}
	printContent(cmd.OutOrStdout(), result.Content)
	if result.IsError {
		return fmt.Errorf("tool %s reported an error", tool)
	}
	return nil
}

// runMcpRead handles the mcp read command.
func runMcpRead(cmd *cobra.Command, root *rootFlags, serverID, uri string) error {
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	session, err := registry.Session(serverID)
	if err != nil {
		return err
	}
	contents, err := session.ReadResource(cmd.Context(), uri)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range contents {
		if c.Text != "" {
			fmt.Fprintln(out, c.Text)
			continue
		}
		data, _ := base64.StdEncoding.DecodeString(c.Blob)
		fmt.Fprintf(out, "[%s %s, %d bytes]\n", c.URI, c.MimeType, len(data))
	}
	return nil
}

// runMcpPrompt handles the mcp prompt command.
func runMcpPrompt(cmd *cobra.Command, root *rootFlags, serverID, name string, rawArgs []string) error {
	arguments := map[string]string{}
	for _, raw := range rawArgs {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --arg %q, expected key=value", raw)
		}
		arguments[key] = value
	}
	registry, stop, err := startRegistry(cmd, root)
	if err != nil {
		return err
	}
	defer stop()

	session, err := registry.Session(serverID)
	if err != nil {
		return err
	}
	result, err := session.GetPrompt(cmd.Context(), name, arguments)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if result.Description != "" {
		fmt.Fprintln(out, result.Description)
	}
	for _, msg := range result.Messages {
		fmt.Fprintf(out, "[%s] ", msg.Role)
		printContent(out, []mcp.Content{msg.Content})
	}
	return nil
}

// toolArguments builds a JSON object from --json or key=value pairs.
func toolArguments(rawJSON string, rawArgs []string) (json.RawMessage, error) {
	if rawJSON != "" {
		if len(rawArgs) > 0 {
			return nil, errors.New("use either --json or --arg, not both")
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(rawJSON), &obj); err != nil {
			return nil, fmt.Errorf("--json must be a JSON object: %w", err)
		}
		return json.RawMessage(rawJSON), nil
	}
	args := map[string]any{}
	for _, raw := range rawArgs {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", raw)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return json.Marshal(args)
}

func printContent(out io.Writer, contents []mcp.Content) {
	for _, c := range contents {
		switch c.Type {
		case "text":
			fmt.Fprintln(out, c.Text)
		case "image", "audio":
			data, _ := base64.StdEncoding.DecodeString(c.Data)
			fmt.Fprintf(out, "[%s %s, %d bytes]\n", c.Type, c.MimeType, len(data))
		case "resource":
			if c.Resource == nil {
				continue
			}
			if c.Resource.Text != "" {
				fmt.Fprintln(out, c.Resource.Text)
			} else {
				fmt.Fprintf(out, "[resource %s]\n", c.Resource.URI)
			}
		default:
			fmt.Fprintf(out, "[unsupported content %q]\n", c.Type)
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
