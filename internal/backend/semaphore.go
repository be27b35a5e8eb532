package backend

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Serialized wraps a Backend so that Transcribe calls are gated by a shared
// weighted semaphore. A single backend instance is shared across every
// session in the process; without this gate, concurrent sessions would
// drive unbounded concurrent inference passes into it. The semaphore is
// owned by the caller (the session factory in cmd/transcriber) so every
// strategy it constructs within one config generation acquires the same
// slot pool.
type Serialized struct {
	Backend
	sem *semaphore.Weighted
}

// NewSerialized returns a Backend that acquires one slot from sem around
// every Transcribe call before delegating to be. Load, IsReady, Name, and
// Close pass through unchanged.
func NewSerialized(be Backend, sem *semaphore.Weighted) *Serialized {
	return &Serialized{Backend: be, sem: sem}
}

// Transcribe acquires a semaphore slot before delegating to the wrapped
// backend, and releases it once the call returns.
func (s *Serialized) Transcribe(ctx context.Context, wav []byte, promptText, language string) (Result, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("backend: acquire semaphore: %w", err)
	}
	defer s.sem.Release(1)
	return s.Backend.Transcribe(ctx, wav, promptText, language)
}
