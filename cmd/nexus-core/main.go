// Package main provides the CLI entry point for nexus-core, a thin
// demonstration harness wiring the protocol, provider, context
// manager, sandbox, tool router, turn engine, and session packages
// (C1-C7) into a runnable agent.
//
// # Basic Usage
//
//	nexus-core chat --config nexus-core.yaml
//	nexus-core run --config nexus-core.yaml --message "list the files here"
//	nexus-core sessions list --config nexus-core.yaml
//
// # Environment Variables
//
//   - NEXUS_CORE_PROVIDER, NEXUS_CORE_MODEL, NEXUS_CORE_API_KEY,
//     NEXUS_CORE_MAX_TURNS, NEXUS_CORE_OTLP_ENDPOINT override the
//     matching config fields, per internal/config.applyEnvOverrides.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main() to facilitate testing, matching the teacher's
// cmd/nexus/main.go buildRootCmd shape.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexus-core",
		Short: "nexus-core - a minimal AI coding-agent harness",
		Long: `nexus-core drives a turn-based conversation against an LLM provider,
dispatching the tool calls it emits through a sandboxed, approval-gated
tool router, and persisting sessions to a SQL-backed index.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildChatCmd(),
		buildRunCmd(),
		buildSessionsCmd(),
	)
	return root
}
