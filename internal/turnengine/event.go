package turnengine

import "github.com/nexuscore/agent/internal/protocol"

// EventKind tags an Engine-emitted Event (spec §4.6 "Event stream").
type EventKind string

const (
	EventThreadStarted             EventKind = "thread_started"
	EventTurnStarted                EventKind = "turn_started"
	EventAssistantDelta              EventKind = "assistant_delta"
	EventAssistantMessageCompleted EventKind = "assistant_message_completed"
	EventTurnCompleted               EventKind = "turn_completed"
	EventThreadCompleted             EventKind = "thread_completed"
	EventThreadError                  EventKind = "thread_error"
)

// Event is published once per engine lifecycle transition within a
// RunTurn call. "Turn" here is the spec's inner loop iteration (one
// provider round-trip, possibly followed by a tool-call round);
// "Thread" is the whole RunTurn call, which may span several turns
// when the assistant keeps requesting tools.
type Event struct {
	Kind       EventKind
	Turn       int
	Text       string
	StopReason protocol.StopReason
	Outcome    Outcome
	Err        error
}

// EventSink receives Events as the engine runs. Nil is a valid no-op sink.
type EventSink func(Event)

func (s EventSink) emit(e Event) {
	if s != nil {
		s(e)
	}
}
