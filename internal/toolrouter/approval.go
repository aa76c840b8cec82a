package toolrouter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/sandbox"
)

// ReviewDecision is the external policy surface's answer to an Ask
// request (spec §6.3).
type ReviewDecision struct {
	Kind   ReviewDecisionKind
	Reason string
}

type ReviewDecisionKind string

const (
	ReviewApprove            ReviewDecisionKind = "approve"
	ReviewDeny                ReviewDecisionKind = "deny"
	ReviewApproveAndRemember ReviewDecisionKind = "approve_and_remember"
)

// ApprovalKey is a content-derived fingerprint (spec §3): never stores
// verbatim user data, only a normalized digest.
type ApprovalKey struct {
	ToolName string
	Digest   string
	Cwd      string
}

// NewApprovalKey builds a key from a tool call's JSON-normalized input.
func NewApprovalKey(toolName string, input []byte, cwd string) ApprovalKey {
	return ApprovalKey{ToolName: toolName, Digest: normalizedDigest(input), Cwd: cwd}
}

// normalizedDigest JSON-normalizes input (stable key order) before
// hashing, so ApprovalKeys for semantically-equal-but-differently-
// formatted inputs collide, per spec §8's round-trip law.
func normalizedDigest(input []byte) string {
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:])
	}
	normalized := normalize(v)
	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, normalize(t[k]))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return t
	}
}

// CachedApproval is a persisted ApproveAndRemember decision.
type CachedApproval struct {
	Key       ApprovalKey
	ExpiresAt time.Time
}

// ApprovalStore persists CachedApprovals. Spec §4.5: "persistent file;
// entries {key, decision, expires_at}; Deny is never cached."
type ApprovalStore interface {
	Get(key ApprovalKey) (CachedApproval, bool)
	Put(entry CachedApproval) error
}

// MemoryApprovalStore is an in-memory ApprovalStore, adapted from the
// teacher's internal/agent/approval.go MemoryApprovalStore; a
// file-backed store would wrap this with periodic/flush-on-write
// persistence using the same in-memory mirror behind a lock (spec §5).
type MemoryApprovalStore struct {
	mu      sync.Mutex
	entries map[ApprovalKey]CachedApproval
}

// NewMemoryApprovalStore creates an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{entries: make(map[ApprovalKey]CachedApproval)}
}

func (s *MemoryApprovalStore) Get(key ApprovalKey) (CachedApproval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return CachedApproval{}, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(s.entries, key)
		return CachedApproval{}, false
	}
	return entry, true
}

func (s *MemoryApprovalStore) Put(entry CachedApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

// DefaultApprovalTTL is spec §4.5's default cache lifetime.
const DefaultApprovalTTL = time.Hour

// Policy configures approval gating (adapted from the teacher's
// ApprovalPolicy/DefaultApprovalPolicy shape in internal/agent/approval.go).
type Policy struct {
	FullAuto                   bool
	RequireApprovalForWrites    bool
	RequireApprovalForCommands  bool
	AllowEscalation             bool

	// AllowPatterns/DenyPatterns match tool names with trailing "*"
	// wildcard support, same semantics as the teacher's matchesPattern.
	AllowPatterns []string
	DenyPatterns  []string
}

// DefaultPolicy mirrors spec §6.5's defaults.
func DefaultPolicy() Policy {
	return Policy{
		RequireApprovalForWrites:   true,
		RequireApprovalForCommands: true,
	}
}

// Decide computes the approval requirement for one call:
//
//	if full_auto: Skip
//	else if tool name matches DenyPatterns: Deny
//	else if dangerous command under a ReadOnly, no-network sandbox: Deny
//	else if tool.approval_requirement(input) == Ask:
//	    Ask, or Skip when RequireApprovalForWrites is off
//	else if command_is_dangerous(input):
//	    Ask, or Skip when RequireApprovalForCommands is off
//	else: Skip
func Decide(p Policy, t Tool, call protocol.ToolCall, sb sandbox.Policy, commandLine string) protocol.ApprovalRequirement {
	if p.FullAuto {
		return protocol.ApprovalSkip
	}
	if matchesAny(p.DenyPatterns, t.Name()) {
		return protocol.ApprovalDenyByPolicy
	}
	if commandLine != "" && sandbox.Classify(commandLine) == sandbox.SafetyDangerous && !sb.AllowsNetwork() && sb.Kind == sandbox.KindReadOnly {
		// A dangerous write/exec attempted under ReadOnly is denied
		// outright by policy, not merely elevated to Ask.
		return protocol.ApprovalDenyByPolicy
	}
	if req := t.ApprovalRequirement(call.Input); req == protocol.ApprovalAsk {
		if !p.RequireApprovalForWrites {
			return protocol.ApprovalSkip
		}
		return protocol.ApprovalAsk
	}
	if commandLine != "" && sandbox.Classify(commandLine) == sandbox.SafetyDangerous {
		if !p.RequireApprovalForCommands {
			return protocol.ApprovalSkip
		}
		return protocol.ApprovalAsk
	}
	if matchesAny(p.AllowPatterns, t.Name()) {
		return protocol.ApprovalSkip
	}
	return protocol.ApprovalSkip
}

func matchesAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if matchesPrefix(pat, name) {
			return true
		}
	}
	return false
}
