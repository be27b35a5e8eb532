package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arborview/transcriber/internal/backend"
)

// ErrBackendNotRegistered is returned by CreateBackend when no factory has
// been registered under the requested backend kind.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// BackendFactory constructs and loads a backend.Backend from a
// TranscriptionConfig. Load is called by CreateBackend before the backend is
// returned, matching backend.Backend's load-then-use contract.
type BackendFactory func(ctx context.Context, cfg TranscriptionConfig) (backend.Backend, error)

// Registry maps backend kinds to their constructor functions. It is safe
// for concurrent use. Unlike the teacher's seven-provider-kind registry,
// this transcription server has exactly one pluggable concern — which
// backend the facade instantiates — so the registry is narrowed to that
// single kind.
type Registry struct {
	mu        sync.RWMutex
	factories map[BackendKind]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[BackendKind]BackendFactory)}
}

// RegisterBackend registers a backend factory under kind. Subsequent calls
// with the same kind overwrite the previous registration.
func (r *Registry) RegisterBackend(kind BackendKind, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// CreateBackend instantiates and loads a backend using the factory
// registered under cfg.Backend.
func (r *Registry) CreateBackend(ctx context.Context, cfg TranscriptionConfig) (backend.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	be, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create backend %q: %w", cfg.Backend, err)
	}
	if err := be.Load(ctx); err != nil {
		return nil, fmt.Errorf("config: load backend %q: %w", cfg.Backend, err)
	}
	return be, nil
}
