package contextmgr

import (
	"strings"
	"testing"

	"github.com/nexuscore/agent/internal/protocol"
)

func userMsg(text string) *protocol.Message {
	return protocol.NewMessage(protocol.RoleUser, protocol.TextBlock(text))
}

func TestFifoDropsOldestUnderBudget(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTokens = 40
	mgr := New(opts)

	// Each message is ~12 tokens (48 chars / 4).
	msg := strings.Repeat("x", 48)
	for i := 0; i < 5; i++ {
		if err := mgr.AddMessage(userMsg(msg)); err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}
	if got := mgr.CurrentTokens(); got > 40 {
		t.Fatalf("current tokens %d exceeds max 40", got)
	}
}

func TestPolicyErrorRaisesWithoutAppending(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicyError
	opts.MaxTokens = 4
	mgr := New(opts)

	err := mgr.AddMessage(userMsg(strings.Repeat("x", 40)))
	if err == nil {
		t.Fatal("expected ContextExceededError")
	}
	if _, ok := err.(*ContextExceededError); !ok {
		t.Fatalf("expected *ContextExceededError, got %T", err)
	}
	if len(mgr.Messages()) != 0 {
		t.Fatal("message should not have been appended")
	}
}

func TestSystemMessagePreservedUnderFifo(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTokens = 20
	mgr := New(opts)

	sysMsg := protocol.NewMessage(protocol.RoleSystem, protocol.TextBlock("sys"))
	if err := mgr.AddMessage(sysMsg); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := mgr.AddMessage(userMsg(strings.Repeat("y", 40))); err != nil {
			t.Fatal(err)
		}
	}
	msgs := mgr.Messages()
	if len(msgs) == 0 || msgs[0].Role != protocol.RoleSystem {
		t.Fatal("system message at index 0 must be preserved")
	}
}

func TestToolPairDroppedAtomically(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTokens = 30
	mgr := New(opts)

	call := protocol.NewMessage(protocol.RoleAssistant, protocol.ToolUseBlock("c1", "read", []byte(`{"path":"/x"}`)))
	result := protocol.NewMessage(protocol.RoleToolResult, protocol.ToolResultBlock("c1", strings.Repeat("z", 100), false))
	_ = mgr.AddMessage(call)
	_ = mgr.AddMessage(result)
	for i := 0; i < 3; i++ {
		_ = mgr.AddMessage(userMsg(strings.Repeat("w", 40)))
	}

	msgs := mgr.Messages()
	hasCall, hasResult := false, false
	for _, m := range msgs {
		if m.ID == call.ID {
			hasCall = true
		}
		if m.ID == result.ID {
			hasResult = true
		}
	}
	if hasCall != hasResult {
		t.Fatalf("tool_use/tool_result pair was not dropped atomically: call=%v result=%v", hasCall, hasResult)
	}
}

func TestCompactionThreshold(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTokens = 100
	opts.ProtectedTokens = 10
	opts.CompactionThreshold = 0.5
	mgr := New(opts)
	_ = mgr.AddMessage(userMsg(strings.Repeat("a", 200))) // ~50 tokens, within the max of 100, so it is kept as is

	status := mgr.CheckCompaction()
	if status.Ratio <= 0 {
		t.Fatal("expected nonzero ratio")
	}
}
