package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
)

// WriteTool writes a file within the sandbox's workspace, adapted from
// the teacher's internal/tools/files/write.go WriteTool.
type WriteTool struct {
	resolver resolver
	sandbox  *sandbox.Manager
}

// NewWriteTool creates a write tool rooted at workspace and gated by sb.
func NewWriteTool(workspace string, sb *sandbox.Manager) *WriteTool {
	return &WriteTool{resolver: resolver{Root: workspace}, sandbox: sb}
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Spec() protocol.ToolSpec {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path to write (relative to workspace)."},
			"content": map[string]any{"type": "string", "description": "File contents to write."},
			"append":  map[string]any{"type": "boolean", "description": "Append instead of overwrite (default: false)."},
		},
		"required": []string{"path", "content"},
	}
	raw, _ := json.Marshal(schema)
	return protocol.ToolSpec{Name: "write", Description: "Write content to a file in the workspace (overwrites by default).", InputSchema: raw}
}

func (t *WriteTool) SupportsParallel() bool { return false }

func (t *WriteTool) ApprovalRequirement(input []byte) protocol.ApprovalRequirement {
	return protocol.ApprovalAsk
}

func (t *WriteTool) SandboxPreference() protocol.SandboxPreference { return protocol.SandboxRequired }

func (t *WriteTool) AllowsEscalation() bool { return true }

func (t *WriteTool) Execute(ctx context.Context, tc toolrouter.ToolContext, input []byte) (protocol.ToolOutput, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return protocol.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if strings.TrimSpace(in.Path) == "" {
		return protocol.TextOutput("path is required", true), nil
	}

	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return protocol.TextOutput(err.Error(), true), nil
	}
	if t.sandbox != nil && !tc.SkipSandbox {
		if err := t.sandbox.CheckPath(resolved, sandbox.OpWrite); err != nil {
			return protocol.ToolOutput{}, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return protocol.TextOutput(fmt.Sprintf("create directory: %v", err), true), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return protocol.TextOutput(fmt.Sprintf("open file: %v", err), true), nil
	}
	defer file.Close()

	n, err := file.WriteString(in.Content)
	if err != nil {
		return protocol.TextOutput(fmt.Sprintf("write file: %v", err), true), nil
	}

	result := map[string]any{"path": in.Path, "bytes_written": n, "append": in.Append}
	payload, _ := json.Marshal(result)
	return protocol.ToolOutput{Content: []protocol.ToolOutputContent{{Type: protocol.OutputJSON, JSON: payload}}}, nil
}
