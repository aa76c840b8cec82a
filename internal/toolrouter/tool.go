// Package toolrouter implements C5: the tool router and orchestrator —
// registration, input validation, approval gating, sandbox escalation,
// and parallel/serial dispatch.
package toolrouter

import (
	"context"
	"strings"

	"github.com/nexuscore/agent/internal/protocol"
)

// ToolContext is passed to every Tool.Execute call (spec §6.2).
type ToolContext struct {
	Cwd       string
	SessionID string
	FullAuto  bool
	Env       map[string]string
	// SkipSandbox is set by the orchestrator for the single post-escalation
	// retry after a sandbox denial has been explicitly approved (spec
	// §4.5 step 4). Tools must bypass their own sandbox guard when this
	// is true; it is never set on a first attempt.
	SkipSandbox bool
}

// Tool is a single registered tool.
type Tool interface {
	Name() string
	Spec() protocol.ToolSpec
	// SupportsParallel reports whether this tool may run concurrently
	// with other parallel-safe tools in the same head batch.
	SupportsParallel() bool
	// ApprovalRequirement lets a tool request Ask based on its parsed
	// input. Decide acts only on an Ask answer (any other value is
	// treated like Skip), and FullAuto or a disabled
	// RequireApprovalForWrites still turns that Ask into Skip.
	ApprovalRequirement(input []byte) protocol.ApprovalRequirement
	// SandboxPreference reports this tool's sandbox wrapping preference.
	SandboxPreference() protocol.SandboxPreference
	// AllowsEscalation reports whether, on SandboxDenied, this tool may
	// be retried once without the sandbox after explicit approval.
	AllowsEscalation() bool
	Execute(ctx context.Context, tc ToolContext, input []byte) (protocol.ToolOutput, error)
}

// ToolProvider claims a name-prefix family (e.g. "lsp_*", "ast_*",
// "mcp__*") and resolves individual tool names within it lazily.
type ToolProvider interface {
	// Prefix returns the family prefix this provider claims, e.g. "mcp__".
	Prefix() string
	// Resolve returns the Tool for a fully-qualified name under Prefix(),
	// or ok=false if this provider doesn't recognize it.
	Resolve(name string) (Tool, bool)
}

// matchesPrefix reports whether name falls under provider prefix p,
// supporting a trailing "*" wildcard exactly like the teacher's
// matchToolPattern (internal/agent/tool_registry.go).
func matchesPrefix(prefix, name string) bool {
	p := strings.TrimSuffix(prefix, "*")
	return strings.HasPrefix(name, p)
}
