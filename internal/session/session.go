package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agent/internal/contextmgr"
	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/provider"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/toolrouter"
	"github.com/nexuscore/agent/internal/turnengine"
)

// Session owns one conversation's worth of state: a context manager
// (C3), a tool orchestrator (C5), and a turn engine (C6), plus the
// bookkeeping (turn counter, usage totals) that the index Record
// tracks across process restarts. It publishes turn lifecycle events
// to a BroadcastBus and persists them to a RolloutRecorder.
type Session struct {
	mu sync.Mutex

	ID       string
	AgentID  string
	Key      string

	ctx    *contextmgr.Manager
	orch   *toolrouter.Orchestrator
	engine *turnengine.Engine
	bus    *BroadcastBus
	roll   *RolloutRecorder

	turnCount int
	usage     protocol.TokenUsage
}

// Deps bundles the collaborators a Session needs, so construction
// stays a single call regardless of how many components the session
// wires together.
type Deps struct {
	Provider    provider.Provider
	ContextOpts contextmgr.Options
	Router      *toolrouter.Router
	Policy      toolrouter.Policy
	Approvals   toolrouter.ApprovalStore
	Sandbox     *sandbox.Manager
	Reviewer    toolrouter.Reviewer
	EngineConf  turnengine.Config
	Bus         *BroadcastBus
	Rollout     *RolloutRecorder
}

// New builds a Session from Deps, wiring C3 -> C5 -> C6 in sequence —
// generalized from the teacher's per-run assembly in cmd/nexus
// (provider, then tool registry, then agentic loop), adapted to
// produce a long-lived, resumable per-session object rather than a
// one-shot CLI invocation.
func New(id, agentID, key string, deps Deps) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	ctxMgr := contextmgr.New(deps.ContextOpts)
	orch := toolrouter.NewOrchestrator(deps.Router, deps.Policy, deps.Approvals, deps.Sandbox)
	if deps.Reviewer != nil {
		orch.SetReviewer(deps.Reviewer)
	}
	eng := turnengine.New(deps.Provider, ctxMgr, orch, deps.EngineConf)

	s := &Session{
		ID:      id,
		AgentID: agentID,
		Key:     key,
		ctx:     ctxMgr,
		orch:    orch,
		engine:  eng,
		bus:     deps.Bus,
		roll:    deps.Rollout,
	}

	// Every C5/C6 lifecycle event (spec §4.5/§4.6) is forwarded to the
	// bus and the rollout as it happens, not just summarized once per
	// RunTurn call.
	orch.Sink = func(e toolrouter.Event) { s.publish(string(e.Kind), e) }
	eng.Sink = func(e turnengine.Event) { s.publish(string(e.Kind), e) }

	return s
}

// publish fans an orchestrator/engine lifecycle event out to the
// BroadcastBus and appends it to the rollout (spec §4.7 "every event is
// also written to the rollout"). EventSink callbacks have no error
// return, so a rollout write failure here is logged rather than
// propagated; it surfaces to the caller only if it also breaks the
// summary record at the end of RunTurn.
func (s *Session) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(s.ID, payload)
	}
	if s.roll != nil {
		if err := s.roll.Record(kind, payload); err != nil {
			log.Printf("session %s: record rollout event %q: %v", s.ID, kind, err)
		}
	}
}

// Context returns the session's context manager, for callers (e.g. a
// transport layer) that need to inspect history directly.
func (s *Session) Context() *contextmgr.Manager { return s.ctx }

// Orchestrator returns the session's tool orchestrator.
func (s *Session) Orchestrator() *toolrouter.Orchestrator { return s.orch }

// TurnCount reports the number of completed RunTurn calls.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Usage reports cumulative token usage across all turns.
func (s *Session) Usage() protocol.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// RunTurn drives one turn via the underlying Engine, then publishes a
// lifecycle event to the bus and appends it to the rollout log before
// returning. Publish/record failures are folded into the returned
// turnengine.Result's Err via wrapping rather than silently dropped,
// since a broken rollout write means the session can't be resumed
// faithfully.
func (s *Session) RunTurn(ctx context.Context, userMessage *protocol.Message) turnengine.Result {
	result := s.engine.RunTurn(ctx, userMessage)

	s.mu.Lock()
	s.turnCount++
	s.usage = s.usage.Add(result.Usage)
	turnIdx := s.turnCount
	s.mu.Unlock()

	if s.roll != nil {
		if err := s.roll.Record("session_turn_completed", turnCompletedPayload{
			Turn:    turnIdx,
			Outcome: string(result.Outcome),
			Usage:   result.Usage,
		}); err != nil && result.Err == nil {
			result.Err = fmt.Errorf("record rollout: %w", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(s.ID, turnCompletedPayload{
			Turn:    turnIdx,
			Outcome: string(result.Outcome),
			Usage:   result.Usage,
		})
	}

	return result
}

type turnCompletedPayload struct {
	Turn    int                 `json:"turn"`
	Outcome string              `json:"outcome"`
	Usage   protocol.TokenUsage `json:"usage"`
}

// ToRecord snapshots the session's current bookkeeping as an index
// Record, suitable for Index.Create/Update.
func (s *Session) ToRecord() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Record{
		ID:        s.ID,
		Key:       s.Key,
		AgentID:   s.AgentID,
		TurnCount: s.turnCount,
		Usage:     s.usage,
		UpdatedAt: time.Now(),
	}
}

// Close records SessionEnded, then flushes and closes the session's
// rollout recorder, if any (spec §4.7 "Ending a session flushes the
// rollout and emits SessionEnded{reason}").
func (s *Session) Close(reason string) error {
	if s.roll == nil {
		return nil
	}
	if err := s.roll.Record("session_ended", sessionEndedPayload{Reason: reason}); err != nil {
		return err
	}
	return s.roll.Close()
}

type sessionEndedPayload struct {
	Reason string `json:"reason"`
}
