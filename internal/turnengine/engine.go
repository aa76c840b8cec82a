// Package turnengine implements C6: the per-turn driver that reads
// history from the context manager, streams a provider completion,
// stages and dispatches tool calls through the orchestrator, and folds
// results back into history — looping until the assistant stops
// requesting tools or a terminal condition is reached.
//
// Grounded on the teacher's internal/agent/loop.go AgenticLoop state
// machine (Init -> Stream -> ExecuteTools -> Continue -> Complete).
package turnengine

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuscore/agent/internal/contextmgr"
	"github.com/nexuscore/agent/internal/observability"
	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/provider"
	"github.com/nexuscore/agent/internal/toolrouter"
)

// Outcome is the terminal state of a RunTurn call (spec §4.6).
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeNeedsMoreInput    Outcome = "needs_more_input"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeMaxTurnsExceeded  Outcome = "max_turns_exceeded"
	OutcomeProviderError     Outcome = "provider_error"
	OutcomeToolError         Outcome = "tool_error"
)

// Config configures a single RunTurn invocation (spec §6.5 defaults).
type Config struct {
	MaxTurns        int
	MaxRetries      int
	RetryCap        time.Duration
	ToolContext     toolrouter.ToolContext
	System          string
	ThinkingBudget  int
}

// DefaultConfig mirrors spec defaults: MaxTurns=100.
func DefaultConfig() Config {
	return Config{MaxTurns: 100, MaxRetries: 3, RetryCap: 30 * time.Second}
}

// Result summarizes a RunTurn call's outcome.
type Result struct {
	Outcome     Outcome
	Turns       int
	Usage       protocol.TokenUsage
	Err         error
	LastMessage *protocol.Message
}

// Engine drives turns for one session, wiring C2 (Provider), C3
// (contextmgr.Manager), and C5 (toolrouter.Orchestrator) together.
type Engine struct {
	Provider     provider.Provider
	Context      *contextmgr.Manager
	Orchestrator *toolrouter.Orchestrator
	Config       Config
	Sink         EventSink
}

// SetSink installs the EventSink the engine publishes lifecycle events
// to (spec §4.6 "every event is also written to the rollout").
func (e *Engine) SetSink(sink EventSink) { e.Sink = sink }

// New creates an Engine from its three collaborators; cfg is sanitized
// to defaults where zero-valued.
func New(p provider.Provider, ctxMgr *contextmgr.Manager, orch *toolrouter.Orchestrator, cfg Config) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultConfig().RetryCap
	}
	return &Engine{Provider: p, Context: ctxMgr, Orchestrator: orch, Config: cfg}
}

// RunTurn drives the Init -> Stream -> ExecuteTools -> Continue loop
// until the assistant stops requesting tools, a terminal error occurs,
// MaxTurns is exceeded, or ctx is cancelled. Each suspension point
// (before streaming, before dispatching tools, before looping again)
// checks ctx.Err() first, so cancellation takes effect at the next safe
// boundary rather than mid-stream.
// RunTurn drives the turn loop to completion or a terminal condition,
// recording a tracing span and Prometheus metrics for the whole call
// regardless of which return path is taken.
func (e *Engine) RunTurn(ctx context.Context, userMessage *protocol.Message) (result Result) {
	ctx, span := observability.StartTurnSpan(ctx, e.Config.ToolContext.SessionID)
	start := time.Now()
	defer func() {
		observability.RecordTurn(string(result.Outcome), time.Since(start).Seconds())
		observability.EndSpan(span, result.Err)
		if result.Err != nil {
			e.Sink.emit(Event{Kind: EventThreadError, Outcome: result.Outcome, Err: result.Err})
		} else {
			e.Sink.emit(Event{Kind: EventThreadCompleted, Outcome: result.Outcome})
		}
	}()

	e.Sink.emit(Event{Kind: EventThreadStarted})

	if e.Provider == nil {
		return Result{Outcome: OutcomeProviderError, Err: &TurnError{Phase: PhaseInit, Message: "no provider", Cause: ErrNoProvider}}
	}
	if e.Context == nil {
		return Result{Outcome: OutcomeProviderError, Err: &TurnError{Phase: PhaseInit, Message: "no context manager", Cause: ErrNoContextManager}}
	}

	e.Context.RepairTrailingOrphan()

	if userMessage != nil {
		if err := e.Context.AddMessage(userMessage); err != nil {
			return Result{Outcome: OutcomeToolError, Err: &TurnError{Phase: PhaseInit, Cause: err}}
		}
	}

	var totalUsage protocol.TokenUsage
	var lastMsg *protocol.Message

	for turn := 0; turn < e.Config.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeCancelled, Turns: turn, Usage: totalUsage, LastMessage: lastMsg,
				Err: &TurnError{Phase: PhaseStream, Iteration: turn, Cause: ctx.Err()}}
		default:
		}

		if err := provider.ValidateTurn(e.Context.Messages()); err != nil {
			return Result{Outcome: OutcomeProviderError, Turns: turn, Usage: totalUsage,
				Err: &TurnError{Phase: PhaseStream, Iteration: turn, Cause: err}}
		}

		e.Sink.emit(Event{Kind: EventTurnStarted, Turn: turn})

		assistantMsg, usage, stopReason, err := e.streamPhase(ctx, turn)
		if err != nil {
			return Result{Outcome: OutcomeProviderError, Turns: turn, Usage: totalUsage,
				Err: &TurnError{Phase: PhaseStream, Iteration: turn, Cause: err}}
		}
		totalUsage = totalUsage.Add(usage)
		e.Context.RecordUsage(usage)
		lastMsg = assistantMsg
		e.Sink.emit(Event{Kind: EventAssistantMessageCompleted, Turn: turn, StopReason: stopReason})

		if err := e.Context.AddMessage(assistantMsg); err != nil {
			return Result{Outcome: OutcomeToolError, Turns: turn, Usage: totalUsage, LastMessage: lastMsg,
				Err: &TurnError{Phase: PhaseStream, Iteration: turn, Cause: err}}
		}

		toolUses := assistantMsg.ToolUses()
		if len(toolUses) == 0 || stopReason != protocol.StopToolUse {
			e.Sink.emit(Event{Kind: EventTurnCompleted, Turn: turn, StopReason: stopReason})
			return Result{Outcome: OutcomeCompleted, Turns: turn + 1, Usage: totalUsage, LastMessage: lastMsg}
		}

		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeCancelled, Turns: turn + 1, Usage: totalUsage, LastMessage: lastMsg,
				Err: &TurnError{Phase: PhaseExecuteTools, Iteration: turn, Cause: ctx.Err()}}
		default:
		}

		calls := make([]protocol.ToolCall, len(toolUses))
		for i, b := range toolUses {
			calls[i] = protocol.ToolCall{CallID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput}
		}

		if e.Orchestrator == nil {
			return Result{Outcome: OutcomeToolError, Turns: turn + 1, Usage: totalUsage, LastMessage: lastMsg,
				Err: &TurnError{Phase: PhaseExecuteTools, Iteration: turn, Message: "no orchestrator configured for staged tool calls"}}
		}

		results := e.Orchestrator.RunBatch(ctx, e.Config.ToolContext, calls)

		toolResultMsg := protocol.NewMessage(protocol.RoleToolResult)
		for _, r := range results {
			if r.Err != nil {
				toolResultMsg.Content = append(toolResultMsg.Content, protocol.ToolResultBlock(r.CallID, r.Err.Error(), true))
				continue
			}
			toolResultMsg.Content = append(toolResultMsg.Content, protocol.ToolResultBlock(r.CallID, r.Output.Text(), r.Output.IsError))
		}

		if err := e.Context.AddMessage(toolResultMsg); err != nil {
			return Result{Outcome: OutcomeToolError, Turns: turn + 1, Usage: totalUsage, LastMessage: lastMsg,
				Err: &TurnError{Phase: PhaseContinue, Iteration: turn, Cause: err}}
		}
		lastMsg = toolResultMsg
		e.Sink.emit(Event{Kind: EventTurnCompleted, Turn: turn, StopReason: stopReason})
	}

	return Result{Outcome: OutcomeMaxTurnsExceeded, Turns: e.Config.MaxTurns, Usage: totalUsage, LastMessage: lastMsg,
		Err: &TurnError{Phase: PhaseContinue, Iteration: e.Config.MaxTurns, Cause: ErrMaxTurnsExceeded}}
}

// streamPhase calls the provider with retry on retryable errors,
// folding the stream via protocol.Accumulator.
func (e *Engine) streamPhase(ctx context.Context, turn int) (*protocol.Message, protocol.TokenUsage, protocol.StopReason, error) {
	var msg *protocol.Message
	var usage protocol.TokenUsage
	var stopReason protocol.StopReason

	op := func() (opErr error) {
		spanCtx, span := observability.StartLLMSpan(ctx, e.Provider.ProviderName(), e.Provider.Model())
		requestStart := time.Now()
		defer func() {
			observability.RecordLLMRequest(e.Provider.ProviderName(), time.Since(requestStart).Seconds(), opErr,
				usage.Input, usage.Output, usage.CacheRead, usage.CacheWrite)
			observability.EndSpan(span, opErr)
		}()

		acc := protocol.NewAccumulator()
		chunks, err := e.Provider.ChatStream(spanCtx, provider.CompletionRequest{
			Messages:       e.Context.Messages(),
			System:         e.Config.System,
			Tools:          toolSpecsFrom(e.Orchestrator),
			MaxTokens:      e.Provider.MaxTokens(),
			ThinkingBudget: e.Config.ThinkingBudget,
		})
		if err != nil {
			return err
		}
		for c := range chunks {
			if c.Kind == protocol.ChunkContentBlockDelta && c.DeltaType == protocol.DeltaText {
				e.Sink.emit(Event{Kind: EventAssistantDelta, Turn: turn, Text: c.DeltaText})
			}
			if ferr := acc.Feed(c); ferr != nil {
				return ferr
			}
		}
		if acc.Err() != nil {
			return acc.Err()
		}
		m, merr := acc.Message()
		if merr != nil {
			return merr
		}
		msg = m
		usage = acc.Usage()
		if sr := acc.StopReason(); sr != nil {
			stopReason = *sr
		}
		return nil
	}

	err := provider.Retry(ctx, e.Config.MaxRetries, e.Config.RetryCap, provider.IsRetryable, op)
	if err != nil {
		return nil, protocol.TokenUsage{}, "", fmt.Errorf("turn %d: %w", turn, err)
	}
	return msg, usage, stopReason, nil
}

func toolSpecsFrom(orch *toolrouter.Orchestrator) []protocol.ToolSpec {
	if orch == nil || orch.Router == nil {
		return nil
	}
	tools := orch.Router.Specs()
	specs := make([]protocol.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
	}
	return specs
}
