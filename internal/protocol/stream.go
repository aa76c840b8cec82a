package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChunkKind tags a StreamChunk variant.
type ChunkKind string

const (
	ChunkMessageStart      ChunkKind = "message_start"
	ChunkContentBlockStart ChunkKind = "content_block_start"
	ChunkContentBlockDelta ChunkKind = "content_block_delta"
	ChunkContentBlockStop  ChunkKind = "content_block_stop"
	ChunkMessageDelta      ChunkKind = "message_delta"
	ChunkMessageStop       ChunkKind = "message_stop"
	ChunkError             ChunkKind = "error"
)

// DeltaKind tags a ContentBlockDelta's payload.
type DeltaKind string

const (
	DeltaText       DeltaKind = "text_delta"
	DeltaInputJSON  DeltaKind = "input_json_delta"
	DeltaThinking   DeltaKind = "thinking_delta"
)

// StreamChunk is the closed sum type produced by provider clients, one
// value per SSE event (spec §4.1 / §6.1).
type StreamChunk struct {
	Kind ChunkKind

	// MessageStart
	Model        string
	UsagePartial TokenUsage

	// ContentBlockStart / Stop / Delta all carry Index.
	Index int
	Block BlockKind // ContentBlockStart only

	// ToolUseID/ToolName are set on ContentBlockStart when Block == BlockToolUse.
	ToolUseID string
	ToolName  string

	DeltaType DeltaKind
	DeltaText string // text_delta or thinking_delta payload

	// MessageDelta
	StopReason *StopReason
	UsageDelta *TokenUsage

	// Error
	Err *ProviderLikeError
}

// ProviderLikeError is the minimal shape protocol needs from a provider
// error without importing the provider package (which imports protocol).
type ProviderLikeError struct {
	Classified string
	Message    string
}

func (e *ProviderLikeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Classified, e.Message)
}

// Accumulator folds an ordered stream of StreamChunks into a fully
// materialized assistant Message, exactly as a non-streaming response
// would assemble it (spec §4.1, testable property in §8).
type Accumulator struct {
	model      string
	blocks     []*accBlock
	stopReason *StopReason
	usage      TokenUsage
	err        error
}

type accBlock struct {
	kind       BlockKind
	text       bytes.Buffer // text or thinking
	jsonInput  bytes.Buffer // tool_use partial JSON
	toolUseID  string
	toolName   string
	finalized  bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Feed applies one chunk, in wire order. Order is not re-checked; the
// caller (provider client) guarantees wire order is preserved.
func (a *Accumulator) Feed(c StreamChunk) error {
	switch c.Kind {
	case ChunkMessageStart:
		a.model = c.Model
		a.usage = a.usage.Add(c.UsagePartial)
	case ChunkContentBlockStart:
		a.growTo(c.Index)
		a.blocks[c.Index].kind = c.Block
		a.blocks[c.Index].toolUseID = c.ToolUseID
		a.blocks[c.Index].toolName = c.ToolName
	case ChunkContentBlockDelta:
		a.growTo(c.Index)
		b := a.blocks[c.Index]
		switch c.DeltaType {
		case DeltaText, DeltaThinking:
			b.text.WriteString(c.DeltaText)
		case DeltaInputJSON:
			b.jsonInput.WriteString(c.DeltaText)
		}
	case ChunkContentBlockStop:
		a.growTo(c.Index)
		a.blocks[c.Index].finalized = true
	case ChunkMessageDelta:
		if c.StopReason != nil {
			a.stopReason = c.StopReason
		}
		if c.UsageDelta != nil {
			a.usage = a.usage.Add(*c.UsageDelta)
		}
	case ChunkMessageStop:
		// no-op: terminal marker
	case ChunkError:
		if c.Err != nil {
			a.err = c.Err
		}
	}
	return nil
}

func (a *Accumulator) growTo(i int) {
	for len(a.blocks) <= i {
		a.blocks = append(a.blocks, &accBlock{})
	}
}

// Err returns the terminal stream error, if any.
func (a *Accumulator) Err() error { return a.err }

// StopReason returns the declared stop reason, if the stream completed.
func (a *Accumulator) StopReason() *StopReason { return a.stopReason }

// Usage returns accumulated usage.
func (a *Accumulator) Usage() TokenUsage { return a.usage }

// Message materializes the accumulated blocks into an assistant Message.
// A tool_use block whose JSON input fails to parse (or is entirely
// absent) surfaces ErrToolCallInputMissing, matching spec §4.1.
func (a *Accumulator) Message() (*Message, error) {
	m := NewMessage(RoleAssistant)
	for i, b := range a.blocks {
		switch b.kind {
		case BlockText:
			m.Content = append(m.Content, TextBlock(b.text.String()))
		case BlockThinking:
			m.Content = append(m.Content, ThinkingBlock(b.text.String()))
		case BlockToolUse:
			raw := b.jsonInput.Bytes()
			if len(raw) == 0 {
				return nil, fmt.Errorf("block %d (%s): %w", i, b.toolName, ErrToolCallInputMissing)
			}
			if !json.Valid(raw) {
				return nil, fmt.Errorf("block %d (%s): %w", i, b.toolName, ErrToolCallInputMissing)
			}
			m.Content = append(m.Content, ToolUseBlock(b.toolUseID, b.toolName, append([]byte(nil), raw...)))
		}
	}
	return m, nil
}
