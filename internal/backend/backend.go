// Package backend defines the facade strategies use to reach an ASR engine,
// independent of whether that engine lives behind an HTTP server or is
// linked in-process via CGO.
package backend

import (
	"context"
	"errors"

	"github.com/arborview/transcriber/internal/hypothesis"
)

// ErrNotReady is returned by Transcribe when Load has not yet completed.
var ErrNotReady = errors.New("backend: not ready")

// Result is what a transcription pass produces. Words may be empty if the
// backend cannot provide word-level timestamps, in which case only the
// chunked strategy remains viable.
type Result struct {
	Text  string
	Words []hypothesis.TimestampedWord
}

// Backend is the minimal interface a streaming strategy consumes. A single
// Backend instance is shared across all sessions; implementations must be
// safe for concurrent use (the Serialized wrapper's shared semaphore bounds
// concurrent Transcribe calls, but Load/IsReady may be observed from other
// goroutines).
type Backend interface {
	// Load prepares the backend for use (e.g. loading model weights). It may
	// be long-running; callers should run it once at startup.
	Load(ctx context.Context) error

	// IsReady reports whether Load has completed successfully.
	IsReady() bool

	// Transcribe runs one batch inference pass over a WAV-encoded audio clip.
	// promptText conditions the backend with prior confirmed context; it may
	// be empty. language is a BCP-47 code or empty to let the backend decide.
	Transcribe(ctx context.Context, wav []byte, promptText, language string) (Result, error)

	// Name identifies the backend for logging and the stream_started /
	// stream_transcription_complete wire messages.
	Name() string

	// Close releases backend resources. Safe to call once at shutdown.
	Close() error
}
