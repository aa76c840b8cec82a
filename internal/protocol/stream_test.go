package protocol

import "testing"

func TestAccumulatorTextMessage(t *testing.T) {
	a := NewAccumulator()
	chunks := []StreamChunk{
		{Kind: ChunkMessageStart, Model: "claude-test"},
		{Kind: ChunkContentBlockStart, Index: 0, Block: BlockText},
		{Kind: ChunkContentBlockDelta, Index: 0, DeltaType: DeltaText, DeltaText: "hi"},
		{Kind: ChunkContentBlockStop, Index: 0},
		{Kind: ChunkMessageDelta, StopReason: stopPtr(StopEndTurn)},
		{Kind: ChunkMessageStop},
	}
	for _, c := range chunks {
		if err := a.Feed(c); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	msg, err := a.Message()
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Kind != BlockText || msg.Content[0].Text != "hi" {
		t.Fatalf("unexpected content: %+v", msg.Content)
	}
	if *a.StopReason() != StopEndTurn {
		t.Fatalf("expected end_turn, got %v", a.StopReason())
	}
}

func TestAccumulatorToolUseConcatenatesInputJSON(t *testing.T) {
	a := NewAccumulator()
	chunks := []StreamChunk{
		{Kind: ChunkContentBlockStart, Index: 0, Block: BlockToolUse, ToolUseID: "call_1", ToolName: "read"},
		{Kind: ChunkContentBlockDelta, Index: 0, DeltaType: DeltaInputJSON, DeltaText: `{"path":`},
		{Kind: ChunkContentBlockDelta, Index: 0, DeltaType: DeltaInputJSON, DeltaText: `"/x"}`},
		{Kind: ChunkContentBlockStop, Index: 0},
	}
	for _, c := range chunks {
		if err := a.Feed(c); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	msg, err := a.Message()
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Kind != BlockToolUse {
		t.Fatalf("expected one tool_use block, got %+v", msg.Content)
	}
	if string(msg.Content[0].ToolInput) != `{"path":"/x"}` {
		t.Fatalf("unexpected input: %s", msg.Content[0].ToolInput)
	}
}

func TestAccumulatorMissingInputIsError(t *testing.T) {
	a := NewAccumulator()
	_ = a.Feed(StreamChunk{Kind: ChunkContentBlockStart, Index: 0, Block: BlockToolUse, ToolUseID: "c1", ToolName: "read"})
	_ = a.Feed(StreamChunk{Kind: ChunkContentBlockStop, Index: 0})
	if _, err := a.Message(); err == nil {
		t.Fatalf("expected ErrToolCallInputMissing")
	}
}

func stopPtr(s StopReason) *StopReason { return &s }
