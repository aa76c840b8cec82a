package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nexuscore/agent/internal/protocol"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	DefaultMaxTokens int
	RequestTimeout   time.Duration
	MaxRetries       int
}

// OpenAIProvider implements Provider against an OpenAI-compatible
// chat-completions endpoint, translating to/from the internal protocol
// types per spec §6.1's "OpenAI-compatible path".
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider builds a client from the given config.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Reason: ReasonConfiguration, Provider: "openai", Message: "missing API key"}
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 4096
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (p *OpenAIProvider) MaxTokens() int       { return p.cfg.DefaultMaxTokens }
func (p *OpenAIProvider) Model() string        { return p.cfg.Model }
func (p *OpenAIProvider) ProviderName() string { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool  { return true }

func (p *OpenAIProvider) buildRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessages(m)...)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.DefaultMaxTokens
	}

	out := openai.ChatCompletionRequest{
		Model:     p.cfg.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	for _, t := range req.Tools {
		var params any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &params)
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func toOpenAIMessages(m *protocol.Message) []openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if m.Role == protocol.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	var out []openai.ChatCompletionMessage
	var text string
	var toolCalls []openai.ToolCall
	for _, b := range m.Content {
		switch b.Kind {
		case protocol.BlockText:
			text += b.Text
		case protocol.BlockToolUse:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ToolUseID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      b.ToolName,
					Arguments: string(b.ToolInput),
				},
			})
		case protocol.BlockToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    b.ResultText,
				ToolCallID: b.ToolCallID,
			})
		}
	}
	if text != "" || len(toolCalls) > 0 {
		out = append([]openai.ChatCompletionMessage{{Role: role, Content: text, ToolCalls: toolCalls}}, out...)
	}
	return out
}

// Chat is the non-streaming convenience call.
func (p *OpenAIProvider) Chat(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ValidateTurn(req.Messages); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	err := Retry(ctx, p.cfg.MaxRetries, 30*time.Second, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
		return callErr
	})
	if err != nil {
		return nil, New("openai", p.cfg.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Reason: ReasonInvalidResponse, Provider: "openai", Message: "no choices returned"}
	}
	choice := resp.Choices[0]
	msg := protocol.NewMessage(protocol.RoleAssistant)
	if choice.Message.Content != "" {
		msg.Content = append(msg.Content, protocol.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.Content = append(msg.Content, protocol.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	return &CompletionResponse{
		Message:    msg,
		StopReason: mapOpenAIFinishReason(string(choice.FinishReason)),
		Usage: protocol.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

// ChatStream translates choices[0].delta.content deltas into text_delta
// chunks of a single text block and maps finish_reason to a stop reason.
// tool_calls deltas are not translated, so the stream carries no
// tool_use blocks. A receive error ends the stream with ChunkMessageStop;
// no ChunkError is sent.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req CompletionRequest) (<-chan protocol.StreamChunk, error) {
	if err := ValidateTurn(req.Messages); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)

	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, New("openai", p.cfg.Model, err)
	}

	out := make(chan protocol.StreamChunk, 16)
	go func() {
		defer cancel()
		defer close(out)
		defer stream.Close()

		out <- protocol.StreamChunk{Kind: protocol.ChunkMessageStart, Model: p.cfg.Model}
		out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockStart, Index: 0, Block: protocol.BlockText}
		for {
			resp, recvErr := stream.Recv()
			if recvErr != nil {
				break
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockDelta, Index: 0, DeltaType: protocol.DeltaText, DeltaText: delta.Content}
			}
			if resp.Choices[0].FinishReason != "" {
				out <- protocol.StreamChunk{Kind: protocol.ChunkContentBlockStop, Index: 0}
				sr := mapOpenAIFinishReason(string(resp.Choices[0].FinishReason))
				out <- protocol.StreamChunk{Kind: protocol.ChunkMessageDelta, StopReason: &sr}
			}
		}
		out <- protocol.StreamChunk{Kind: protocol.ChunkMessageStop}
	}()
	return out, nil
}

func mapOpenAIFinishReason(s string) protocol.StopReason {
	switch s {
	case "stop":
		return protocol.StopEndTurn
	case "length":
		return protocol.StopMaxTokens
	case "tool_calls", "function_call":
		return protocol.StopToolUse
	default:
		return protocol.StopEndTurn
	}
}
