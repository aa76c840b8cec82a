// Package provider implements the C2 provider-client contract: converting
// messages+tools into a wire request, returning either a complete
// response or a chunk stream, classifying errors, and applying retry.
package provider

import (
	"context"

	"github.com/nexuscore/agent/internal/protocol"
)

// CompletionRequest is what the turn engine hands to a Provider.
type CompletionRequest struct {
	Messages    []*protocol.Message
	System      string
	Tools       []protocol.ToolSpec
	MaxTokens   int
	Temperature *float32
	ThinkingBudget int // 0 disables extended thinking
}

// CompletionResponse is the non-streaming convenience result.
type CompletionResponse struct {
	Message    *protocol.Message
	StopReason protocol.StopReason
	Usage      protocol.TokenUsage
}

// Provider is the C2 contract (spec §4.2).
type Provider interface {
	// Chat is the non-streaming convenience call.
	Chat(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ChatStream returns a channel of StreamChunks in wire order. The
	// channel is closed after a ChunkMessageStop or ChunkError chunk.
	ChatStream(ctx context.Context, req CompletionRequest) (<-chan protocol.StreamChunk, error)

	MaxTokens() int
	Model() string
	ProviderName() string
	SupportsTools() bool
}

// ValidateTurn runs the three preconditions spec §4.2 requires before a
// request is sent: role alternation, ToolUse/ToolResult pairing, and
// non-null ToolUse input. A violation returns a *Error with
// ReasonMessageOrderingConflict or ReasonToolCallInputMissing.
func ValidateTurn(messages []*protocol.Message) error {
	// Skip a single leading system message for the alternation check.
	start := 0
	if len(messages) > 0 && messages[0].Role == protocol.RoleSystem {
		start = 1
	}

	var prevRole protocol.Role
	havePrev := false
	for i := start; i < len(messages); i++ {
		m := messages[i]
		// A tool-result message is the user side of the alternation (spec
		// §8: "every ToolUse has a matching ToolResult in the next user
		// block") even though it carries its own RoleToolResult so
		// contextmgr can distinguish it from a plain user message.
		role := m.Role
		if role == protocol.RoleToolResult {
			role = protocol.RoleUser
		}
		if role != protocol.RoleUser && role != protocol.RoleAssistant {
			continue
		}
		if havePrev && role == prevRole {
			return &Error{Reason: ReasonMessageOrderingConflict, Message: "roles do not alternate"}
		}
		prevRole = role
		havePrev = true

		if m.Role == protocol.RoleAssistant {
			uses := m.ToolUses()
			if len(uses) == 0 {
				continue
			}
			for _, u := range uses {
				if err := u.Valid(); err != nil {
					return &Error{Reason: ReasonToolCallInputMissing, Message: err.Error(), Cause: err}
				}
			}
			if i+1 >= len(messages) {
				return &Error{Reason: ReasonMessageOrderingConflict, Message: "tool_use with no following tool_result message"}
			}
			results := messages[i+1].ToolResults()
			if len(results) != len(uses) {
				return &Error{Reason: ReasonMessageOrderingConflict, Message: "tool_use/tool_result count mismatch"}
			}
			for j, u := range uses {
				if results[j].ToolCallID != u.ToolUseID {
					return &Error{Reason: ReasonMessageOrderingConflict, Message: "tool_result order does not match tool_use order"}
				}
			}
		}
	}
	return nil
}
