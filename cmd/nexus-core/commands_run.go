package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/turnengine"
)

// buildRunCmd creates the "run" command: a single scripted turn
// against a fresh session, for non-interactive invocation (CI, shell
// scripts), mirroring the teacher's one-shot "exec" subcommand shape.
func buildRunCmd() *cobra.Command {
	var configPath string
	var agentID string
	var message string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single message through a fresh session and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}

			h, err := newHarness(configPath)
			if err != nil {
				return err
			}
			defer h.Close()

			sessionID := uuid.NewString()
			sess, err := h.newSession(sessionID, agentID, sessionID)
			if err != nil {
				return err
			}
			defer sess.Close("run command completed")

			result := sess.RunTurn(cmd.Context(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock(message)))
			printTurnResult(cmd.OutOrStdout(), result)

			if err := h.index.Create(context.Background(), sess.ToRecord()); err != nil {
				return fmt.Errorf("record session: %w", err)
			}
			if result.Outcome != turnengine.OutcomeCompleted {
				return fmt.Errorf("turn did not complete: %s", result.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent-id", "default", "Agent identity associated with this session")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message to send to the agent")
	return cmd
}
