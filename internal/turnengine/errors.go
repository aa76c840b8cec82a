package turnengine

import (
	"errors"
	"fmt"
)

// Sentinel errors for turn-engine preconditions, adapted from the
// teacher's internal/agent/errors.go sentinel set.
var (
	ErrNoProvider       = errors.New("no provider configured")
	ErrNoContextManager = errors.New("no context manager configured")
	ErrMaxTurnsExceeded = errors.New("max turns exceeded")
)

// Phase names a point in a single RunTurn's state machine, carried over
// from the teacher's LoopPhase enum (internal/agent/errors.go) but
// renamed to match this module's single-turn (not multi-iteration)
// terminology.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseContinue     Phase = "continue"
	PhaseComplete     Phase = "complete"
)

// TurnError reports which phase and iteration a RunTurn failure
// occurred in, mirroring the teacher's LoopError.
type TurnError struct {
	Phase     Phase
	Iteration int
	Message   string
	Cause     error
}

func (e *TurnError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("turn error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("turn error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("turn error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *TurnError) Unwrap() error { return e.Cause }
