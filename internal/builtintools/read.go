// Package builtintools implements the small set of file and shell
// tools that cmd/nexus-core registers with a toolrouter.Router to turn
// C1-C7 into a runnable harness, adapted from the teacher's
// internal/tools/files and internal/tools/exec packages into the
// toolrouter.Tool interface.
package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
)

// resolver resolves and validates workspace-relative paths, adapted
// from the teacher's internal/tools/files/resolver.go Resolver.
type resolver struct {
	Root string
}

func (r resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

const defaultMaxReadBytes = 200000

// ReadTool reads a file within the sandbox's workspace, honoring C4's
// path check before touching disk.
type ReadTool struct {
	resolver     resolver
	sandbox      *sandbox.Manager
	maxReadBytes int
}

// NewReadTool creates a read tool rooted at workspace and gated by sb.
func NewReadTool(workspace string, sb *sandbox.Manager) *ReadTool {
	return &ReadTool{resolver: resolver{Root: workspace}, sandbox: sb, maxReadBytes: defaultMaxReadBytes}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Spec() protocol.ToolSpec {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path to the file (relative to workspace)."},
			"offset":    map[string]any{"type": "integer", "minimum": 0, "description": "Byte offset to start reading from."},
			"max_bytes": map[string]any{"type": "integer", "minimum": 0, "description": "Maximum bytes to read (capped by tool default)."},
		},
		"required": []string{"path"},
	}
	raw, _ := json.Marshal(schema)
	return protocol.ToolSpec{Name: "read", Description: "Read a file from the workspace with optional offset and byte limit.", InputSchema: raw}
}

func (t *ReadTool) SupportsParallel() bool { return true }

func (t *ReadTool) ApprovalRequirement(input []byte) protocol.ApprovalRequirement {
	return protocol.ApprovalSkip
}

func (t *ReadTool) SandboxPreference() protocol.SandboxPreference { return protocol.SandboxAuto }

func (t *ReadTool) AllowsEscalation() bool { return false }

func (t *ReadTool) Execute(ctx context.Context, tc toolrouter.ToolContext, input []byte) (protocol.ToolOutput, error) {
	var in struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return protocol.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if strings.TrimSpace(in.Path) == "" {
		return protocol.TextOutput("path is required", true), nil
	}
	if in.Offset < 0 {
		return protocol.TextOutput("offset must be >= 0", true), nil
	}

	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return protocol.TextOutput(err.Error(), true), nil
	}
	if t.sandbox != nil && !tc.SkipSandbox {
		if err := t.sandbox.CheckPath(resolved, sandbox.OpRead); err != nil {
			return protocol.ToolOutput{}, err
		}
	}

	file, err := os.Open(resolved)
	if err != nil {
		return protocol.TextOutput(fmt.Sprintf("open file: %v", err), true), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return protocol.TextOutput(fmt.Sprintf("stat file: %v", err), true), nil
	}
	if in.Offset > 0 {
		if _, err := file.Seek(in.Offset, io.SeekStart); err != nil {
			return protocol.TextOutput(fmt.Sprintf("seek file: %v", err), true), nil
		}
	}

	limit := t.maxReadBytes
	if in.MaxBytes > 0 && in.MaxBytes < limit {
		limit = in.MaxBytes
	}
	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - in.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return protocol.TextOutput(fmt.Sprintf("read file: %v", err), true), nil
	}
	truncated := info.Size() > 0 && in.Offset+int64(len(buf)) < info.Size()

	result := map[string]any{
		"path":      in.Path,
		"content":   string(buf),
		"offset":    in.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}
	payload, _ := json.Marshal(result)
	return protocol.ToolOutput{Content: []protocol.ToolOutputContent{{Type: protocol.OutputJSON, JSON: payload}}}, nil
}
