package turnengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexuscore/agent/internal/contextmgr"
	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/provider"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
)

// fakeProvider replays a fixed queue of chunk batches, one batch per
// ChatStream call, so a test can script a multi-turn exchange.
type fakeProvider struct {
	batches [][]protocol.StreamChunk
	calls   int
}

func (f *fakeProvider) Chat(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	return nil, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req provider.CompletionRequest) (<-chan protocol.StreamChunk, error) {
	if f.calls >= len(f.batches) {
		f.calls++
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	ch := make(chan protocol.StreamChunk, len(batch))
	for _, c := range batch {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) MaxTokens() int      { return 4096 }
func (f *fakeProvider) Model() string       { return "fake-model" }
func (f *fakeProvider) ProviderName() string { return "fake" }
func (f *fakeProvider) SupportsTools() bool { return true }

func textBatch(s string) []protocol.StreamChunk {
	stop := protocol.StopEndTurn
	return []protocol.StreamChunk{
		{Kind: protocol.ChunkMessageStart, Model: "fake-model"},
		{Kind: protocol.ChunkContentBlockStart, Index: 0, Block: protocol.BlockText},
		{Kind: protocol.ChunkContentBlockDelta, Index: 0, DeltaType: protocol.DeltaText, DeltaText: s},
		{Kind: protocol.ChunkContentBlockStop, Index: 0},
		{Kind: protocol.ChunkMessageDelta, StopReason: &stop, UsageDelta: &protocol.TokenUsage{Output: 3}},
		{Kind: protocol.ChunkMessageStop},
	}
}

func toolUseBatch(id, name, inputJSON string) []protocol.StreamChunk {
	stop := protocol.StopToolUse
	return []protocol.StreamChunk{
		{Kind: protocol.ChunkMessageStart, Model: "fake-model"},
		{Kind: protocol.ChunkContentBlockStart, Index: 0, Block: protocol.BlockToolUse, ToolUseID: id, ToolName: name},
		{Kind: protocol.ChunkContentBlockDelta, Index: 0, DeltaType: protocol.DeltaInputJSON, DeltaText: inputJSON},
		{Kind: protocol.ChunkContentBlockStop, Index: 0},
		{Kind: protocol.ChunkMessageDelta, StopReason: &stop, UsageDelta: &protocol.TokenUsage{Output: 5}},
		{Kind: protocol.ChunkMessageStop},
	}
}

// echoTool always succeeds with a fixed response.
type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Spec() protocol.ToolSpec {
	return protocol.ToolSpec{Name: "echo", Description: "echoes input", InputSchema: json.RawMessage(`{"type":"object"}`)}
}
func (echoTool) SupportsParallel() bool { return true }
func (echoTool) ApprovalRequirement(input []byte) protocol.ApprovalRequirement {
	return protocol.ApprovalSkip
}
func (echoTool) SandboxPreference() protocol.SandboxPreference { return protocol.SandboxNone }
func (echoTool) AllowsEscalation() bool                        { return false }
func (echoTool) Execute(ctx context.Context, tc toolrouter.ToolContext, input []byte) (protocol.ToolOutput, error) {
	return protocol.TextOutput("echoed: "+string(input), false), nil
}

func newTestOrchestrator(t *testing.T) *toolrouter.Orchestrator {
	t.Helper()
	router := toolrouter.NewRouter()
	if err := router.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	sb := sandbox.NewManager(sandbox.WorkspaceWrite("/workspace"))
	orch := toolrouter.NewOrchestrator(router, toolrouter.DefaultPolicy(), toolrouter.NewMemoryApprovalStore(), sb)
	return orch
}

func TestRunTurnEchoCompletesWithoutTools(t *testing.T) {
	fp := &fakeProvider{batches: [][]protocol.StreamChunk{textBatch("hello there")}}
	ctxMgr := contextmgr.New(contextmgr.DefaultOptions())
	orch := newTestOrchestrator(t)
	eng := New(fp, ctxMgr, orch, Config{ToolContext: toolrouter.ToolContext{FullAuto: true}})

	result := eng.RunTurn(context.Background(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("hi")))
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected Completed, got %s (err=%v)", result.Outcome, result.Err)
	}
	if result.Turns != 1 {
		t.Fatalf("expected 1 turn, got %d", result.Turns)
	}
}

func TestRunTurnDispatchesStagedToolCall(t *testing.T) {
	fp := &fakeProvider{batches: [][]protocol.StreamChunk{
		toolUseBatch("call-1", "echo", `{"x":1}`),
		textBatch("done"),
	}}
	ctxMgr := contextmgr.New(contextmgr.DefaultOptions())
	orch := newTestOrchestrator(t)
	eng := New(fp, ctxMgr, orch, Config{ToolContext: toolrouter.ToolContext{FullAuto: true}})

	result := eng.RunTurn(context.Background(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("run echo")))
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected Completed, got %s (err=%v)", result.Outcome, result.Err)
	}
	if result.Turns != 2 {
		t.Fatalf("expected 2 turns (tool call + follow-up), got %d", result.Turns)
	}

	foundToolResult := false
	for _, m := range ctxMgr.Messages() {
		if m.Role == protocol.RoleToolResult {
			for _, b := range m.ToolResults() {
				if b.ToolCallID == "call-1" {
					foundToolResult = true
				}
			}
		}
	}
	if !foundToolResult {
		t.Fatal("expected a tool_result message correlated to call-1")
	}
}

func TestRunTurnEmitsLifecycleEvents(t *testing.T) {
	fp := &fakeProvider{batches: [][]protocol.StreamChunk{textBatch("hi")}}
	ctxMgr := contextmgr.New(contextmgr.DefaultOptions())
	orch := newTestOrchestrator(t)
	eng := New(fp, ctxMgr, orch, Config{ToolContext: toolrouter.ToolContext{FullAuto: true}})

	var kinds []EventKind
	eng.Sink = func(e Event) { kinds = append(kinds, e.Kind) }

	result := eng.RunTurn(context.Background(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("hi")))
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected Completed, got %s (err=%v)", result.Outcome, result.Err)
	}

	want := []EventKind{EventThreadStarted, EventTurnStarted, EventAssistantDelta, EventAssistantMessageCompleted, EventTurnCompleted, EventThreadCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(kinds), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, k, kinds[i], kinds)
		}
	}
}

func TestRunTurnCancelledMidLoop(t *testing.T) {
	fp := &fakeProvider{batches: [][]protocol.StreamChunk{
		toolUseBatch("call-1", "echo", `{}`),
		textBatch("unreachable"),
	}}
	ctxMgr := contextmgr.New(contextmgr.DefaultOptions())
	orch := newTestOrchestrator(t)
	eng := New(fp, ctxMgr, orch, Config{ToolContext: toolrouter.ToolContext{FullAuto: true}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := eng.RunTurn(ctx, protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("hi")))
	if result.Outcome != OutcomeCancelled {
		t.Fatalf("expected Cancelled, got %s (err=%v)", result.Outcome, result.Err)
	}
}
