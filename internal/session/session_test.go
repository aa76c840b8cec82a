package session

import (
	"context"
	"testing"

	"github.com/nexuscore/agent/internal/contextmgr"
	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/provider"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
	"github.com/nexuscore/agent/internal/turnengine"
)

// fakeProvider replays one text-only completion per ChatStream call,
// enough to drive a Session through a single completed turn.
type fakeProvider struct{}

func (fakeProvider) Chat(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	return nil, nil
}

func (fakeProvider) ChatStream(ctx context.Context, req provider.CompletionRequest) (<-chan protocol.StreamChunk, error) {
	stop := protocol.StopEndTurn
	chunks := []protocol.StreamChunk{
		{Kind: protocol.ChunkMessageStart, Model: "fake-model"},
		{Kind: protocol.ChunkContentBlockStart, Index: 0, Block: protocol.BlockText},
		{Kind: protocol.ChunkContentBlockDelta, Index: 0, DeltaType: protocol.DeltaText, DeltaText: "hi back"},
		{Kind: protocol.ChunkContentBlockStop, Index: 0},
		{Kind: protocol.ChunkMessageDelta, StopReason: &stop, UsageDelta: &protocol.TokenUsage{Output: 2}},
		{Kind: protocol.ChunkMessageStop},
	}
	ch := make(chan protocol.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (fakeProvider) MaxTokens() int       { return 4096 }
func (fakeProvider) Model() string        { return "fake-model" }
func (fakeProvider) ProviderName() string { return "fake" }
func (fakeProvider) SupportsTools() bool  { return true }

func newTestSession(t *testing.T) (*Session, *BroadcastBus) {
	t.Helper()
	bus := NewBroadcastBus(16)
	roll, err := NewRolloutRecorder(t.TempDir(), SessionMeta{ID: "sess-1"})
	if err != nil {
		t.Fatalf("NewRolloutRecorder: %v", err)
	}
	t.Cleanup(func() { roll.Close() })

	sess := New("sess-1", "agent-1", "key-1", Deps{
		Provider:    fakeProvider{},
		ContextOpts: contextmgr.DefaultOptions(),
		Router:      toolrouter.NewRouter(),
		Policy:      toolrouter.DefaultPolicy(),
		Approvals:   toolrouter.NewMemoryApprovalStore(),
		Sandbox:     sandbox.NewManager(sandbox.WorkspaceWrite(t.TempDir())),
		EngineConf:  turnengine.Config{ToolContext: toolrouter.ToolContext{FullAuto: true}},
		Bus:         bus,
		Rollout:     roll,
	})
	return sess, bus
}

func TestSessionRunTurnUpdatesBookkeeping(t *testing.T) {
	sess, _ := newTestSession(t)

	result := sess.RunTurn(context.Background(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("hi")))
	if result.Outcome != turnengine.OutcomeCompleted {
		t.Fatalf("expected Completed, got %s (err=%v)", result.Outcome, result.Err)
	}
	if sess.TurnCount() != 1 {
		t.Fatalf("expected turn count 1, got %d", sess.TurnCount())
	}
	if sess.Usage().Output == 0 {
		t.Fatal("expected non-zero output usage after a turn")
	}
}

func TestSessionRunTurnPublishesToBus(t *testing.T) {
	sess, bus := newTestSession(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	sess.RunTurn(context.Background(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("hi")))

	select {
	case ev := <-ch:
		if ev.SessionID != "sess-1" {
			t.Fatalf("expected event for sess-1, got %s", ev.SessionID)
		}
	default:
		t.Fatal("expected a published event after RunTurn")
	}
}

func TestSessionToRecordReflectsUsage(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.RunTurn(context.Background(), protocol.NewMessage(protocol.RoleUser, protocol.TextBlock("hi")))

	rec := sess.ToRecord()
	if rec.ID != "sess-1" || rec.AgentID != "agent-1" || rec.TurnCount != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
