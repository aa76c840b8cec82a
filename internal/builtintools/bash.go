package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
)

const defaultCommandTimeout = 120 * time.Second

// BashTool runs a shell command through the sandbox's platform-native
// guard, adapted from the teacher's internal/tools/exec/tools.go
// ExecTool, minus background/process management (out of scope: the
// spec's tool contract is request/response, §6.2).
type BashTool struct {
	workspace string
	sandbox   *sandbox.Manager
}

// NewBashTool creates a bash tool rooted at workspace and gated by sb.
func NewBashTool(workspace string, sb *sandbox.Manager) *BashTool {
	return &BashTool{workspace: workspace, sandbox: sb}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Spec() protocol.ToolSpec {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Shell command to execute."},
			"cwd":             map[string]any{"type": "string", "description": "Working directory (relative to workspace)."},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 0, "description": "Timeout in seconds (0 = tool default)."},
		},
		"required": []string{"command"},
	}
	raw, _ := json.Marshal(schema)
	return protocol.ToolSpec{Name: "bash", Description: "Run a shell command in the workspace.", InputSchema: raw}
}

func (t *BashTool) SupportsParallel() bool { return false }

// ApprovalRequirement defers to the command-safety predicate via
// toolrouter.Decide (spec §4.3 "Command safety predicate"); this tool
// itself never forces Ask/Deny independent of policy.
func (t *BashTool) ApprovalRequirement(input []byte) protocol.ApprovalRequirement {
	return protocol.ApprovalSkip
}

func (t *BashTool) SandboxPreference() protocol.SandboxPreference { return protocol.SandboxRequired }

func (t *BashTool) AllowsEscalation() bool { return true }

func (t *BashTool) Execute(ctx context.Context, tc toolrouter.ToolContext, input []byte) (protocol.ToolOutput, error) {
	var in struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return protocol.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return protocol.TextOutput("command is required", true), nil
	}
	if t.sandbox == nil {
		return protocol.TextOutput("sandbox unavailable", true), nil
	}

	cwd := t.workspace
	if strings.TrimSpace(in.Cwd) != "" {
		resolved, err := (resolver{Root: t.workspace}).Resolve(in.Cwd)
		if err != nil {
			return protocol.TextOutput(err.Error(), true), nil
		}
		cwd = resolved
	}

	timeout := defaultCommandTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}

	stdout, stderr, exitCode, err := t.sandbox.RunCommand(ctx, command, cwd, tc.Env, timeout, tc.SkipSandbox)
	if err != nil {
		return protocol.ToolOutput{}, err
	}

	result := map[string]any{
		"stdout":    stdout,
		"stderr":    stderr,
		"exit_code": exitCode,
	}
	payload, _ := json.Marshal(result)
	return protocol.ToolOutput{Content: []protocol.ToolOutputContent{{Type: protocol.OutputJSON, JSON: payload}}, IsError: exitCode != 0}, nil
}
