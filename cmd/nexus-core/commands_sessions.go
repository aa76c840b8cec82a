package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexuscore/agent/internal/session"
)

// buildSessionsCmd creates the "sessions" command group for inspecting
// the SQL-backed session index (C7), grounded on the teacher's
// cmd/nexus session-listing subcommands but trimmed to list/show.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsShowCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath string
	var agentID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness(configPath)
			if err != nil {
				return err
			}
			defer h.Close()

			records, err := h.index.List(cmd.Context(), agentID, limit, 0)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAGENT\tTURNS\tINPUT\tOUTPUT\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.AgentID, r.TurnCount, r.Usage.Input, r.Usage.Output, r.UpdatedAt.Format("2006-01-02T15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Filter by agent ID (all agents if empty)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of sessions to list")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a single session's bookkeeping record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness(configPath)
			if err != nil {
				return err
			}
			defer h.Close()

			rec, err := h.index.Get(context.Background(), args[0])
			if err != nil {
				if err == session.ErrSessionNotFound {
					return fmt.Errorf("no such session: %s", args[0])
				}
				return fmt.Errorf("get session: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:         %s\n", rec.ID)
			fmt.Fprintf(out, "key:        %s\n", rec.Key)
			fmt.Fprintf(out, "agent:      %s\n", rec.AgentID)
			fmt.Fprintf(out, "provider:   %s\n", rec.Provider)
			fmt.Fprintf(out, "model:      %s\n", rec.Model)
			fmt.Fprintf(out, "turns:      %d\n", rec.TurnCount)
			fmt.Fprintf(out, "usage:      in=%d out=%d cache_read=%d cache_write=%d\n",
				rec.Usage.Input, rec.Usage.Output, rec.Usage.CacheRead, rec.Usage.CacheWrite)
			fmt.Fprintf(out, "created_at: %s\n", rec.CreatedAt.Format("2006-01-02T15:04:05"))
			fmt.Fprintf(out, "updated_at: %s\n", rec.UpdatedAt.Format("2006-01-02T15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
