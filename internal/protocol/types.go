// Package protocol defines the wire-independent message, content-block,
// and tool types shared by the provider, context, and turn-engine layers.
// It has no behavior beyond construction helpers and JSON (de)serialization.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// BlockKind tags the variant of a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockThinking   BlockKind = "thinking"
)

// ImageSource describes where image bytes come from.
type ImageSource struct {
	// MediaType is the MIME type, e.g. "image/png".
	MediaType string
	// Data is base64-encoded raw bytes, or empty if URL is set.
	Data string
	// URL is a remote image location, mutually exclusive with Data.
	URL string
}

// ContentBlock is a tagged union. Exactly one of the typed fields is
// populated, selected by Kind.
type ContentBlock struct {
	Kind BlockKind

	// Text holds BlockText content.
	Text string

	// Image holds BlockImage content.
	Image *ImageSource

	// ToolUse fields (BlockToolUse).
	ToolUseID   string
	ToolName    string
	ToolInput   json.RawMessage

	// ToolResult fields (BlockToolResult).
	ToolCallID string
	ResultText string
	IsError    bool

	// Thinking holds BlockThinking content; opaque, round-tripped only.
	Thinking string
}

// TextBlock constructs a BlockText content block.
func TextBlock(s string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: s}
}

// ToolUseBlock constructs a BlockToolUse content block. input must not be
// nil; an absent input is invalid per the ToolUse invariant in spec §3.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock constructs a BlockToolResult content block.
func ToolResultBlock(callID, text string, isErr bool) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolCallID: callID, ResultText: text, IsError: isErr}
}

// ThinkingBlock constructs a BlockThinking content block.
func ThinkingBlock(s string) ContentBlock {
	return ContentBlock{Kind: BlockThinking, Thinking: s}
}

// Valid reports whether the block satisfies the per-kind invariants
// described in spec §3 (a ToolUse block with absent input is invalid).
func (b ContentBlock) Valid() error {
	if b.Kind == BlockToolUse && len(b.ToolInput) == 0 {
		return fmt.Errorf("%w: tool_use %s/%s has no input", ErrToolCallInputMissing, b.ToolUseID, b.ToolName)
	}
	return nil
}

// Message is a single turn of conversation history.
type Message struct {
	ID      string
	Role    Role
	Content []ContentBlock
}

// NewMessage creates a Message with a generated id.
func NewMessage(role Role, blocks ...ContentBlock) *Message {
	return &Message{ID: uuid.NewString(), Role: role, Content: blocks}
}

// ToolUses returns the ToolUse blocks in order.
func (m *Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResults returns the ToolResult blocks in order.
func (m *Message) ToolResults() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// Chars estimates the serialized character length of the message, used by
// the context manager's char/4 token estimator.
func (m *Message) Chars() int {
	n := 0
	for _, b := range m.Content {
		switch b.Kind {
		case BlockText:
			n += len(b.Text)
		case BlockThinking:
			n += len(b.Thinking)
		case BlockToolUse:
			n += len(b.ToolName) + len(b.ToolInput)
		case BlockToolResult:
			n += len(b.ResultText)
		case BlockImage:
			n += imageCharConstant
		}
	}
	return n
}

// imageCharConstant is the configured constant character-equivalent cost
// charged for an image block by the token estimator (spec §4.3).
const imageCharConstant = 1600

// ToolSpec is a stable, immutable-for-the-turn tool declaration.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ApprovalRequirement classifies whether a tool call needs human/policy review.
type ApprovalRequirement string

const (
	ApprovalSkip        ApprovalRequirement = "skip"
	ApprovalAsk         ApprovalRequirement = "ask"
	ApprovalDenyByPolicy ApprovalRequirement = "deny_by_policy"
)

// SandboxPreference expresses a tool's opinion on sandbox wrapping.
type SandboxPreference string

const (
	SandboxAuto     SandboxPreference = "auto"
	SandboxRequired SandboxPreference = "required"
	SandboxNone     SandboxPreference = "none"
)

// ToolCall is the runtime-staged invocation extracted from an assistant
// ToolUse block.
type ToolCall struct {
	CallID       string
	Name         string
	Input        json.RawMessage
	ApprovalReq  ApprovalRequirement
	SandboxPref  SandboxPreference
}

// ToolOutputContentType tags an OutputContent variant.
type ToolOutputContentType string

const (
	OutputText  ToolOutputContentType = "text"
	OutputJSON  ToolOutputContentType = "json"
	OutputImage ToolOutputContentType = "image"
)

// ToolOutputContent is one piece of a ToolOutput's content list.
type ToolOutputContent struct {
	Type ToolOutputContentType
	Text string
	JSON json.RawMessage
	Image *ImageSource
}

// ToolOutput is what a Tool's Execute returns.
type ToolOutput struct {
	Content []ToolOutputContent
	IsError bool
}

// TextOutput builds a single-block text ToolOutput.
func TextOutput(s string, isErr bool) ToolOutput {
	return ToolOutput{Content: []ToolOutputContent{{Type: OutputText, Text: s}}, IsError: isErr}
}

// Text flattens the content blocks into a plain string for feeding back
// into a ToolResult content block.
func (o ToolOutput) Text() string {
	out := ""
	for _, c := range o.Content {
		switch c.Type {
		case OutputText:
			out += c.Text
		case OutputJSON:
			out += string(c.JSON)
		case OutputImage:
			out += "[image]"
		}
	}
	return out
}

// TokenUsage is additive usage accounting.
type TokenUsage struct {
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		CacheRead:  u.CacheRead + o.CacheRead,
		CacheWrite: u.CacheWrite + o.CacheWrite,
	}
}

// Total returns input+output, the figure most token budgets compare
// against.
func (u TokenUsage) Total() int {
	return u.Input + u.Output
}

// StopReason is the provider-declared cause for a response's termination.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)
