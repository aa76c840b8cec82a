package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/agent/internal/protocol"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	DefaultMaxTokens int
	RequestTimeout time.Duration
	MaxRetries     int
}

// AnthropicProvider implements Provider against the real Anthropic
// streaming API, in spec §6.1's bit-compatible wire format.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider builds a client from the given config, adapted
// from the teacher's providers/anthropic.go NewAnthropicProvider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Reason: ReasonConfiguration, Provider: "anthropic", Message: "missing API key"}
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 8192
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (p *AnthropicProvider) MaxTokens() int      { return p.cfg.DefaultMaxTokens }
func (p *AnthropicProvider) Model() string       { return p.cfg.Model }
func (p *AnthropicProvider) ProviderName() string { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) modelOrDefault(req CompletionRequest) string {
	return p.cfg.Model
}

func (p *AnthropicProvider) maxTokensOrDefault(req CompletionRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return int64(p.cfg.DefaultMaxTokens)
}

func (p *AnthropicProvider) buildParams(req CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelOrDefault(req)),
		Messages:  messages,
		MaxTokens: p.maxTokensOrDefault(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.ThinkingBudget > 0 {
		budget := int64(req.ThinkingBudget)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// ChatStream streams a completion as protocol.StreamChunk values in wire
// order. Its Retry wrapper covers only building the request and starting
// the stream; errors reported while streaming arrive as a ChunkError
// chunk, and retrying those is left to the caller (turnengine's
// streamPhase wraps each ChatStream call in Retry).
func (p *AnthropicProvider) ChatStream(ctx context.Context, req CompletionRequest) (<-chan protocol.StreamChunk, error) {
	if err := ValidateTurn(req.Messages); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	out := make(chan protocol.StreamChunk, 16)

	var attemptErr error
	err := Retry(ctx, p.cfg.MaxRetries, 30*time.Second, IsRetryable, func() error {
		params, buildErr := p.buildParams(req)
		if buildErr != nil {
			return buildErr
		}
		stream := p.client.Messages.NewStreaming(ctx, params)
		attemptErr = nil
		go p.pump(stream, out, cancel)
		return nil
	})
	if err != nil {
		cancel()
		close(out)
		return nil, New("anthropic", p.cfg.Model, err)
	}
	_ = attemptErr
	return out, nil
}

// Chat is the non-streaming convenience wrapper over ChatStream, folding
// the chunk stream through protocol.Accumulator.
func (p *AnthropicProvider) Chat(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	chunks, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	acc := protocol.NewAccumulator()
	for c := range chunks {
		if ferr := acc.Feed(c); ferr != nil {
			return nil, ferr
		}
	}
	if acc.Err() != nil {
		return nil, acc.Err()
	}
	msg, err := acc.Message()
	if err != nil {
		return nil, err
	}
	resp := &CompletionResponse{Message: msg, Usage: acc.Usage()}
	if sr := acc.StopReason(); sr != nil {
		resp.StopReason = *sr
	}
	return resp, nil
}

// pump drains the Anthropic SSE stream into protocol.StreamChunk values,
// adapted from the teacher's processStream. maxEmptyStreamEvents guards
// against a malformed stream that floods empty events.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) pump(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, out chan<- protocol.StreamChunk, cancel context.CancelFunc) {
	defer cancel()
	defer close(out)

	empty := 0
	idx := -1
	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			out <- protocol.StreamChunk{
				Kind:  protocol.ChunkMessageStart,
				Model: string(ms.Message.Model),
				UsagePartial: protocol.TokenUsage{
					Input: int(ms.Message.Usage.InputTokens),
				},
			}
		case "content_block_start":
			idx++
			cbs := event.AsContentBlockStart()
			switch cbs.ContentBlock.Type {
			case "text":
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockStart, Index: idx, Block: protocol.BlockText}
			case "thinking":
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockStart, Index: idx, Block: protocol.BlockThinking}
			case "tool_use":
				tu := cbs.ContentBlock.AsToolUse()
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockStart, Index: idx, Block: protocol.BlockToolUse, ToolUseID: tu.ID, ToolName: tu.Name}
			default:
				processed = false
			}
		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch cbd.Delta.Type {
			case "text_delta":
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockDelta, Index: idx, DeltaType: protocol.DeltaText, DeltaText: cbd.Delta.Text}
			case "thinking_delta":
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockDelta, Index: idx, DeltaType: protocol.DeltaThinking, DeltaText: cbd.Delta.Thinking}
			case "input_json_delta":
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockDelta, Index: idx, DeltaType: protocol.DeltaInputJSON, DeltaText: cbd.Delta.PartialJSON}
			default:
				processed = false
			}
		case "content_block_stop":
			out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockStop, Index: idx}
		case "message_delta":
			md := event.AsMessageDelta()
			var sr *protocol.StopReason
			if md.Delta.StopReason != "" {
				mapped := mapStopReason(string(md.Delta.StopReason))
				sr = &mapped
			}
			usage := protocol.TokenUsage{Output: int(md.Usage.OutputTokens)}
			out <- protocol.StreamChunk{Kind: protocol.ChunkMessageDelta, StopReason: sr, UsageDelta: &usage}
		case "message_stop":
			out <- protocol.StreamChunk{Kind: protocol.ChunkMessageStop}
		default:
			processed = false
		}

		if !processed {
			empty++
			if empty >= maxEmptyStreamEvents {
				out <- protocol.StreamChunk{Kind: protocol.ChunkError, Err: &protocol.ProviderLikeError{Classified: string(ReasonStreamError), Message: "too many empty stream events"}}
				return
			}
		} else {
			empty = 0
		}
	}
	if err := stream.Err(); err != nil {
		classified := New("anthropic", p.cfg.Model, err)
		out <- protocol.StreamChunk{Kind: protocol.ChunkError, Err: &protocol.ProviderLikeError{Classified: string(classified.Reason), Message: classified.Message}}
	}
}

func mapStopReason(s string) protocol.StopReason {
	switch s {
	case "end_turn":
		return protocol.StopEndTurn
	case "max_tokens":
		return protocol.StopMaxTokens
	case "stop_sequence":
		return protocol.StopStopSequence
	case "tool_use":
		return protocol.StopToolUse
	default:
		return protocol.StopEndTurn
	}
}

func convertMessages(messages []*protocol.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == protocol.RoleSystem {
			continue // handled separately via params.System
		}
		var content []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Kind {
			case protocol.BlockText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case protocol.BlockToolUse:
				var input any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("tool_use %s input: %w", b.ToolUseID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case protocol.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolCallID, b.ResultText, b.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if m.Role == protocol.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []protocol.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		tp.OfTool.Description = anthropic.String(t.Description)
		result = append(result, tp)
	}
	return result, nil
}
