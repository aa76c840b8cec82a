package protocol

import "errors"

// Sentinel errors surfaced by protocol-level validation, shared across
// the provider, context, and turn-engine layers so callers can use
// errors.Is regardless of which layer raised them.
var (
	ErrToolCallInputMissing   = errors.New("tool_use block has no input")
	ErrMessageOrderingConflict = errors.New("message ordering conflict")
)
