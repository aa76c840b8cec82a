// Package contextmgr implements the C3 context manager: message history,
// token estimation, and truncation/compaction policy enforcement.
package contextmgr

import (
	"fmt"

	"github.com/nexuscore/agent/internal/protocol"
)

// Policy selects a truncation strategy (spec §4.3).
type Policy string

const (
	PolicyFifo       Policy = "fifo"
	PolicyKeepRecent Policy = "keep_recent"
	PolicySummarize  Policy = "summarize"
	PolicyError      Policy = "error"
)

// Summarizer is the out-of-scope collaborator the Summarize policy calls.
// On absence (nil), the Summarize policy falls back to Fifo, per spec §4.3.
type Summarizer interface {
	Summarize(messages []*protocol.Message) (*protocol.Message, error)
}

// Options configures a Manager.
type Options struct {
	Policy           Policy
	KeepRecentN      int
	MaxTokens        int
	CompactionThreshold float64 // default 0.8
	ProtectedTokens     int     // default 40000
	Summarizer       Summarizer
}

// DefaultOptions returns spec §6.5's defaults.
func DefaultOptions() Options {
	return Options{
		Policy:              PolicyFifo,
		MaxTokens:           0, // 0 means unset/unbounded until caller sets one
		CompactionThreshold: 0.8,
		ProtectedTokens:     40000,
	}
}

// ContextExceededError is raised by PolicyError when truncation would be
// needed but the policy forbids it.
type ContextExceededError struct {
	Used, Limit int
}

func (e *ContextExceededError) Error() string {
	return fmt.Sprintf("context exceeded: used=%d limit=%d", e.Used, e.Limit)
}

// Manager owns message history for one session (single-writer: the turn
// engine). Not safe for concurrent mutation, matching spec §5's
// "ContextManager... owned by the session, single-writer" guarantee.
type Manager struct {
	opts     Options
	messages []*protocol.Message
	usage    protocol.TokenUsage
}

// New creates a Manager with the given options.
func New(opts Options) *Manager {
	if opts.Policy == "" {
		opts.Policy = PolicyFifo
	}
	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = 0.8
	}
	if opts.ProtectedTokens <= 0 {
		opts.ProtectedTokens = 40000
	}
	return &Manager{opts: opts}
}

// EstimateTokens estimates tokens for a message as ceil(chars/4), spec §4.3.
func EstimateTokens(m *protocol.Message) int {
	chars := m.Chars()
	if chars == 0 {
		return 0
	}
	return (chars + 3) / 4
}

// CurrentTokens sums the estimated tokens of all retained messages.
func (c *Manager) CurrentTokens() int {
	total := 0
	for _, m := range c.messages {
		total += EstimateTokens(m)
	}
	return total
}

// RemainingTokens returns MaxTokens - CurrentTokens (floor 0). A MaxTokens
// of 0 means "unbounded" and RemainingTokens is undefined (returns 0).
func (c *Manager) RemainingTokens() int {
	if c.opts.MaxTokens <= 0 {
		return 0
	}
	remaining := c.opts.MaxTokens - c.CurrentTokens()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Messages returns the flattened prompt, in order.
func (c *Manager) Messages() []*protocol.Message {
	out := make([]*protocol.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// RecordUsage folds provider-reported usage into the running total.
func (c *Manager) RecordUsage(u protocol.TokenUsage) {
	c.usage = c.usage.Add(u)
}

// Usage returns the accumulated usage.
func (c *Manager) Usage() protocol.TokenUsage { return c.usage }

// AddMessage appends m, then enforces the configured truncation policy.
// PolicyError raises a *ContextExceededError without appending if
// truncation would be required. PolicyFifo and PolicySummarize leave
// CurrentTokens() <= MaxTokens after AddMessage returns. PolicyKeepRecent
// trims to the last KeepRecentN messages by count only and does not
// check the token total afterwards.
func (c *Manager) AddMessage(m *protocol.Message) error {
	if c.opts.MaxTokens <= 0 {
		c.messages = append(c.messages, m)
		return nil
	}

	// Tentatively append, then enforce.
	trial := append(append([]*protocol.Message(nil), c.messages...), m)
	if sumTokens(trial) <= c.opts.MaxTokens {
		c.messages = trial
		return nil
	}

	switch c.opts.Policy {
	case PolicyError:
		return &ContextExceededError{Used: sumTokens(trial), Limit: c.opts.MaxTokens}
	case PolicyKeepRecent:
		c.messages = append(c.messages, m)
		c.messages = keepRecent(c.messages, c.opts.KeepRecentN)
		return nil
	case PolicySummarize:
		if c.opts.Summarizer == nil {
			c.messages = trial
			return c.applyFifo()
		}
		summary, err := c.opts.Summarizer.Summarize(c.messages)
		if err != nil {
			c.messages = trial
			return c.applyFifo()
		}
		c.messages = []*protocol.Message{summary, m}
		return c.applyFifo()
	default: // PolicyFifo
		c.messages = trial
		return c.applyFifo()
	}
}

// applyFifo repeatedly drops the oldest non-system, non-orphaning message
// until CurrentTokens() <= MaxTokens. A leading system message at index 0
// is preserved, and a ToolUse/ToolResult pair is always dropped atomically
// (spec §4.3's tool-pair invariant).
func (c *Manager) applyFifo() error {
	for sumTokens(c.messages) > c.opts.MaxTokens {
		idx := 0
		if len(c.messages) > 0 && c.messages[0].Role == protocol.RoleSystem {
			idx = 1
		}
		if idx >= len(c.messages) {
			break // nothing left to drop but system message
		}
		c.messages = dropAtomic(c.messages, idx)
	}
	return nil
}

// dropAtomic removes the message at idx. If it is an assistant message
// with ToolUse blocks, the immediately following message is dropped too,
// in the same call, when it has the ToolResult role or carries ToolResult
// blocks (call IDs are not compared), so a ToolUse is never left without
// its ToolResult nor vice versa.
func dropAtomic(messages []*protocol.Message, idx int) []*protocol.Message {
	m := messages[idx]
	removeCount := 1
	if m.Role == protocol.RoleAssistant && len(m.ToolUses()) > 0 && idx+1 < len(messages) {
		next := messages[idx+1]
		if next.Role == protocol.RoleToolResult || len(next.ToolResults()) > 0 {
			removeCount = 2
		}
	}
	if m.Role == protocol.RoleToolResult && idx > 0 {
		// Being asked to drop an orphaned tool-result directly: nothing
		// special, single removal.
	}
	out := make([]*protocol.Message, 0, len(messages)-removeCount)
	out = append(out, messages[:idx]...)
	out = append(out, messages[idx+removeCount:]...)
	return out
}

func keepRecent(messages []*protocol.Message, n int) []*protocol.Message {
	if n <= 0 {
		return messages
	}
	var sys *protocol.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == protocol.RoleSystem {
		sys = messages[0]
		rest = messages[1:]
	}
	if len(rest) > n {
		rest = rest[len(rest)-n:]
		// Repair: if rest now starts with an orphaned ToolResult, drop it.
		if len(rest) > 0 && (rest[0].Role == protocol.RoleToolResult || len(rest[0].ToolResults()) > 0) {
			rest = rest[1:]
		}
	}
	if sys != nil {
		return append([]*protocol.Message{sys}, rest...)
	}
	return rest
}

// RepairTrailingOrphan drops a trailing assistant message whose ToolUse
// blocks have no following ToolResult message, as can happen when a
// session is resumed after a crash mid-tool-execution. Returns true if
// a message was dropped.
func (c *Manager) RepairTrailingOrphan() bool {
	if len(c.messages) == 0 {
		return false
	}
	last := c.messages[len(c.messages)-1]
	if last.Role == protocol.RoleAssistant && len(last.ToolUses()) > 0 {
		c.messages = c.messages[:len(c.messages)-1]
		return true
	}
	return false
}

func sumTokens(messages []*protocol.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m)
	}
	return total
}

// CompactionStatus reports whether proactive compaction should run.
type CompactionStatus struct {
	NeedsCompaction   bool
	CompactableTokens int
	Ratio             float64
}

// CheckCompaction implements spec §4.3's compaction-threshold monitor.
func (c *Manager) CheckCompaction() CompactionStatus {
	if c.opts.MaxTokens <= 0 {
		return CompactionStatus{}
	}
	current := c.CurrentTokens()
	ratio := float64(current) / float64(c.opts.MaxTokens)
	compactable := current - c.opts.ProtectedTokens
	if compactable < 0 {
		compactable = 0
	}
	return CompactionStatus{
		NeedsCompaction:   ratio >= c.opts.CompactionThreshold,
		CompactableTokens: compactable,
		Ratio:             ratio,
	}
}
