package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexuscore/agent/internal/observability"
	"github.com/nexuscore/agent/internal/protocol"
	"github.com/nexuscore/agent/internal/sandbox"
)

// EventKind tags an orchestrator-emitted Event (spec §4.5 "Events").
type EventKind string

const (
	EventToolCallStarted    EventKind = "tool_call_started"
	EventApprovalRequested  EventKind = "approval_requested"
	EventApprovalApproved   EventKind = "approval_approved"
	EventApprovalDenied     EventKind = "approval_denied"
	EventToolCallCompleted  EventKind = "tool_call_completed"
)

// Event is published once per orchestrator step transition.
type Event struct {
	Kind       EventKind
	ToolCallID string
	ToolName   string
	Reason     string
	Output     *protocol.ToolOutput
	Err        error
}

// EventSink receives Events as the orchestrator runs. Nil is a valid
// no-op sink.
type EventSink func(Event)

func (s EventSink) emit(e Event) {
	if s != nil {
		s(e)
	}
}

// Reviewer asks an external policy surface (human, config rule) to
// resolve an Ask decision. It must not block indefinitely; callers
// thread ctx cancellation through to it.
type Reviewer func(ctx context.Context, call protocol.ToolCall) ReviewDecision

// ErrSandboxDenied is returned when a tool's sandboxed attempt is
// rejected by the platform guard before producing output, and the
// caller may retry once outside the sandbox after approval.
type ErrSandboxDenied struct {
	ToolName string
	Cause    error
}

func (e *ErrSandboxDenied) Error() string {
	return fmt.Sprintf("tool %s denied by sandbox: %v", e.ToolName, e.Cause)
}
func (e *ErrSandboxDenied) Unwrap() error { return e.Cause }

// OrchestratorConfig configures dispatch (spec §6.5 defaults).
type OrchestratorConfig struct {
	MaxConcurrentTools int
	DefaultTimeout     time.Duration
}

// DefaultOrchestratorConfig mirrors the spec's documented defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{MaxConcurrentTools: 10, DefaultTimeout: 120 * time.Second}
}

// Orchestrator is C5's dispatch half: it validates input, gates
// approval, wraps execution in the sandbox, and runs a batch of staged
// tool calls respecting each tool's SupportsParallel declaration.
//
// Grounded on the teacher's internal/agent/executor.go (bounded
// concurrency via a semaphore channel, per-call ExecutionResult) and
// internal/agent/tool_exec.go's event-emission shape.
type Orchestrator struct {
	Router         *Router
	ApprovalPolicy Policy
	ApprovalStore  ApprovalStore
	Sandbox        *sandbox.Manager
	Config         OrchestratorConfig
	Sink           EventSink
	Review         Reviewer

	schemaCache sync.Map
}

// NewOrchestrator wires a Router, approval Policy/Store, and sandbox
// Manager into a ready-to-run Orchestrator.
func NewOrchestrator(r *Router, ap Policy, store ApprovalStore, sb *sandbox.Manager) *Orchestrator {
	return &Orchestrator{
		Router:         r,
		ApprovalPolicy: ap,
		ApprovalStore:  store,
		Sandbox:        sb,
		Config:         DefaultOrchestratorConfig(),
	}
}

// Result is one tool call's outcome, aligned by index to the input batch.
type Result struct {
	CallID string
	Output protocol.ToolOutput
	Err    error
}

// RunBatch executes a list of staged tool calls (spec §4.5 "Execution"):
// calls whose tool declares SupportsParallel() run concurrently as a
// head batch bounded by MaxConcurrentTools; calls that don't (or that
// follow the first non-parallel call) run serially in staged order, so
// that cross-call ordering effects (e.g. a write followed by a read of
// the same path) are preserved. Results come back in the same order as
// calls, regardless of completion order.
func (o *Orchestrator) RunBatch(ctx context.Context, tc ToolContext, calls []protocol.ToolCall) []Result {
	if len(calls) == 0 {
		return nil
	}

	results := make([]Result, len(calls))
	splitAt := len(calls)
	for i, call := range calls {
		t, ok := o.Router.Resolve(call.Name)
		if !ok || !t.SupportsParallel() {
			splitAt = i
			break
		}
	}

	if splitAt > 0 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, max(1, o.Config.MaxConcurrentTools))
		for i := 0; i < splitAt; i++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, call protocol.ToolCall) {
				defer wg.Done()
				defer func() { <-sem }()
				results[idx] = o.runOne(ctx, tc, call)
			}(i, calls[i])
		}
		wg.Wait()
	}

	for i := splitAt; i < len(calls); i++ {
		results[i] = o.runOne(ctx, tc, calls[i])
	}

	return results
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runOne executes the full per-call contract: resolve, validate,
// approve, sandbox-wrap-with-escalation, execute, emit events. It also
// records a tracing span and Prometheus metrics for the call,
// regardless of which return path is taken.
func (o *Orchestrator) runOne(ctx context.Context, tc ToolContext, call protocol.ToolCall) (result Result) {
	ctx, span := observability.StartToolSpan(ctx, call.Name)
	start := time.Now()
	defer func() {
		observability.RecordToolExecution(call.Name, time.Since(start).Seconds(), result.Err)
		observability.EndSpan(span, result.Err)
	}()

	o.Sink.emit(Event{Kind: EventToolCallStarted, ToolCallID: call.CallID, ToolName: call.Name})

	t, ok := o.Router.Resolve(call.Name)
	if !ok {
		err := fmt.Errorf("unknown tool %q", call.Name)
		o.Sink.emit(Event{Kind: EventToolCallCompleted, ToolCallID: call.CallID, ToolName: call.Name, Err: err})
		return Result{CallID: call.CallID, Err: err}
	}

	// Step 1: validate input against the tool's declared schema.
	if err := o.validateInput(t.Spec(), call.Input); err != nil {
		o.Sink.emit(Event{Kind: EventToolCallCompleted, ToolCallID: call.CallID, ToolName: call.Name, Err: err})
		return Result{CallID: call.CallID, Err: err}
	}

	// Step 2: approval gate.
	if err := o.gateApproval(ctx, tc, t, call); err != nil {
		o.Sink.emit(Event{Kind: EventToolCallCompleted, ToolCallID: call.CallID, ToolName: call.Name, Err: err})
		return Result{CallID: call.CallID, Err: err}
	}

	// Step 3-4: sandbox wrapping, with one escalation retry on denial.
	out, err := t.Execute(ctx, tc, call.Input)
	var denied *ErrSandboxDenied
	if err != nil && asSandboxDenied(err, &denied) {
		if !t.AllowsEscalation() {
			o.Sink.emit(Event{Kind: EventToolCallCompleted, ToolCallID: call.CallID, ToolName: call.Name, Err: err})
			return Result{CallID: call.CallID, Err: err}
		}
		decision := o.review(ctx, call)
		if decision.Kind == ReviewDeny {
			o.Sink.emit(Event{Kind: EventApprovalDenied, ToolCallID: call.CallID, ToolName: call.Name, Reason: decision.Reason})
			return Result{CallID: call.CallID, Err: fmt.Errorf("sandbox escalation denied: %s", decision.Reason)}
		}
		o.Sink.emit(Event{Kind: EventApprovalApproved, ToolCallID: call.CallID, ToolName: call.Name})
		escalated := tc
		escalated.SkipSandbox = true
		out, err = t.Execute(ctx, escalated, call.Input)
	}

	o.Sink.emit(Event{Kind: EventToolCallCompleted, ToolCallID: call.CallID, ToolName: call.Name, Output: &out, Err: err})
	return Result{CallID: call.CallID, Output: out, Err: err}
}

func asSandboxDenied(err error, target **ErrSandboxDenied) bool {
	var sd *ErrSandboxDenied
	if e, ok := err.(*ErrSandboxDenied); ok {
		sd = e
	} else {
		var de *sandbox.DeniedError
		if e2, ok := err.(*sandbox.DeniedError); ok {
			de = e2
			sd = &ErrSandboxDenied{Cause: de}
		}
	}
	if sd == nil {
		return false
	}
	*target = sd
	return true
}

// gateApproval implements spec §4.5's approval-decision function plus
// the approval-cache lookup/store around an Ask outcome.
func (o *Orchestrator) gateApproval(ctx context.Context, tc ToolContext, t Tool, call protocol.ToolCall) error {
	if tc.FullAuto {
		return nil
	}

	cmdLine := ""
	if cl, ok := extractCommandLine(call.Input); ok {
		cmdLine = cl
	}

	req := Decide(o.ApprovalPolicy, t, call, o.Sandbox.Policy, cmdLine)
	switch req {
	case protocol.ApprovalSkip:
		return nil
	case protocol.ApprovalDenyByPolicy:
		o.Sink.emit(Event{Kind: EventApprovalDenied, ToolCallID: call.CallID, ToolName: call.Name, Reason: "denied by policy"})
		return fmt.Errorf("tool %s denied by policy", t.Name())
	case protocol.ApprovalAsk:
		key := NewApprovalKey(t.Name(), call.Input, tc.Cwd)
		if o.ApprovalStore != nil {
			if _, ok := o.ApprovalStore.Get(key); ok {
				return nil
			}
		}
		o.Sink.emit(Event{Kind: EventApprovalRequested, ToolCallID: call.CallID, ToolName: call.Name})
		decision := o.review(ctx, call)
		switch decision.Kind {
		case ReviewApprove:
			o.Sink.emit(Event{Kind: EventApprovalApproved, ToolCallID: call.CallID, ToolName: call.Name})
			return nil
		case ReviewApproveAndRemember:
			if o.ApprovalStore != nil {
				o.ApprovalStore.Put(CachedApproval{Key: key, ExpiresAt: time.Now().Add(DefaultApprovalTTL)})
			}
			o.Sink.emit(Event{Kind: EventApprovalApproved, ToolCallID: call.CallID, ToolName: call.Name})
			return nil
		default:
			o.Sink.emit(Event{Kind: EventApprovalDenied, ToolCallID: call.CallID, ToolName: call.Name, Reason: decision.Reason})
			return fmt.Errorf("tool %s denied: %s", t.Name(), decision.Reason)
		}
	}
	return nil
}

// review invokes the configured Reviewer, defaulting to deny-closed
// when none is set, since an orchestrator with no review surface must
// fail closed rather than silently skip.
func (o *Orchestrator) review(ctx context.Context, call protocol.ToolCall) ReviewDecision {
	if o.Review == nil {
		return ReviewDecision{Kind: ReviewDeny, Reason: "no reviewer configured"}
	}
	return o.Review(ctx, call)
}

// Review is the external policy surface asked to resolve Ask outcomes
// and sandbox-denial escalations.
func (o *Orchestrator) SetReviewer(r Reviewer) { o.Review = r }

// validateInput compiles (and caches) the tool's schema and validates
// call input against it, grounded on pkg/pluginsdk/validation.go's
// compile-and-cache pattern.
func (o *Orchestrator) validateInput(spec protocol.ToolSpec, input json.RawMessage) error {
	if len(spec.InputSchema) == 0 {
		return nil
	}
	schema, err := o.compileSchema(spec.Name, spec.InputSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", spec.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("decode input for %s: %w", spec.Name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("input invalid for %s: %w", spec.Name, err)
	}
	return nil
}

func (o *Orchestrator) compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := o.schemaCache.Load(name); ok {
		if s, ok := cached.(*jsonschema.Schema); ok {
			return s, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	o.schemaCache.Store(name, compiled)
	return compiled, nil
}

// extractCommandLine pulls a "command" string field out of a tool's raw
// input, used only for the shell-command safety predicate; tools with
// no such field return ok=false.
func extractCommandLine(input json.RawMessage) (string, bool) {
	var probe struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &probe); err != nil || probe.Command == "" {
		return "", false
	}
	return probe.Command, true
}
