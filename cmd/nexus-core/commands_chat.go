package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/turnengine"
)

const defaultConfigPath = "nexus-core.yaml"

// buildChatCmd creates the "chat" command: an interactive REPL that
// reads lines from stdin, runs a turn per line, and prints the
// assistant's reply, adapted from the teacher's cmd/nexus main.go
// line-reading loop shape (bufio.NewScanner over os.Stdin).
func buildChatCmd() *cobra.Command {
	var configPath string
	var agentID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			defer sess.Close("chat command exited")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s ready (provider=%s). Type a message, or Ctrl-D to quit.\n", sessionID, h.cfg.Provider.Name)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				result := sess.RunTurn(cmd.Context(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock(line)))
				printTurnResult(out, result)
			}
			if err := scanner.Err(); err != nil && err != io.EOF {
				return err
			}

			rec := sess.ToRecord()
			return h.index.Create(context.Background(), rec)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent-id", "default", "Agent identity associated with this session")
	return cmd
}

func printTurnResult(out io.Writer, result turnengine.Result) {
	if result.LastMessage != nil {
		fmt.Fprintln(out, messageText(result.LastMessage))
	}
	if result.Outcome != turnengine.OutcomeCompleted {
		fmt.Fprintf(out, "[%s] %v\n", result.Outcome, result.Err)
	}
}

// messageText concatenates a message's text blocks, the simple
// rendering a terminal client needs for an assistant reply.
func messageText(m *protocol.Message) string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Kind == protocol.BlockText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}
