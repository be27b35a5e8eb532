package backend

import (
	"context"

	"github.com/arborview/transcriber/internal/resilience"
)

// CircuitBreaking wraps a Backend so that Transcribe calls are routed through
// a shared [resilience.CircuitBreaker]. A backend under sustained failure —
// an unreachable whisper-http server, a crashed whisper.cpp context — trips
// the breaker so new sessions fail fast instead of piling up on a dependency
// that is already down, and the breaker's state doubles as a readiness
// signal (see State).
type CircuitBreaking struct {
	Backend
	cb *resilience.CircuitBreaker
}

// NewCircuitBreaking returns a Backend that executes every Transcribe call
// through cb before delegating to be. Load, IsReady, Name, and Close pass
// through unchanged. cb is typically shared across every session backend in
// the process, so a run of failures against one session's backend trips the
// breaker for all of them.
func NewCircuitBreaking(be Backend, cb *resilience.CircuitBreaker) *CircuitBreaking {
	return &CircuitBreaking{Backend: be, cb: cb}
}

// Transcribe runs the wrapped backend's Transcribe through the circuit
// breaker. While the breaker is open it returns [resilience.ErrCircuitOpen]
// without calling the wrapped backend at all.
func (c *CircuitBreaking) Transcribe(ctx context.Context, wav []byte, promptText, language string) (Result, error) {
	var res Result
	err := c.cb.Execute(func() error {
		var txErr error
		res, txErr = c.Backend.Transcribe(ctx, wav, promptText, language)
		return txErr
	})
	return res, err
}

// State reports the current state of the underlying circuit breaker, for use
// by readiness checks.
func (c *CircuitBreaking) State() resilience.State {
	return c.cb.State()
}
