// Package strategy orchestrates an audio buffer, a hypothesis buffer, and a
// backend into a single process_audio/finalize/cleanup contract. Three
// variants exist: LocalAgreement (stabilized incremental transcription),
// Chunked (unstabilized periodic batch transcription, for backends that
// cannot preserve context across calls), and Native (an adapter over a
// backend that already streams confirmed/tentative text itself).
package strategy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arborview/transcriber/internal/apperr"
)

// Result is what a strategy reports after processing a chunk or finalizing.
// Field names mirror the stream_transcription_complete / partial_result
// wire messages this feeds.
type Result struct {
	ConfirmedText string
	TentativeText string
	IsFinal       bool
	AudioDuration float64
	Language      string
	Success       bool
	Error         string
}

// Strategy is the contract every variant satisfies.
type Strategy interface {
	// ProcessAudio appends chunk to the internal audio buffer and, if the
	// strategy's transcription policy says it's time, runs a pass against
	// the backend. If not, it returns the result derived from current state
	// without invoking the backend.
	ProcessAudio(ctx context.Context, chunk []float32) (Result, error)

	// Finalize forces a final pass, commits any remaining tentative text to
	// confirmed, and returns the terminal result (IsFinal: true).
	Finalize(ctx context.Context) (Result, error)

	// Cleanup releases any backend resources attributable to this session.
	Cleanup(ctx context.Context) error
}

// Preset names the three stabilization presets spec.md enumerates.
type Preset struct {
	LocalAgreementN           int
	TranscribeIntervalSeconds float64
	PromptSuffixChars         int
}

// Presets holds the three named stabilization presets. Setting
// streaming.stabilization to one of these keys overrides
// local_agreement_n, transcribe_interval_seconds, and prompt_suffix_chars.
var Presets = map[string]Preset{
	"low":    {LocalAgreementN: 1, TranscribeIntervalSeconds: 1.0, PromptSuffixChars: 120},
	"medium": {LocalAgreementN: 2, TranscribeIntervalSeconds: 2.0, PromptSuffixChars: 200},
	"high":   {LocalAgreementN: 3, TranscribeIntervalSeconds: 3.0, PromptSuffixChars: 300},
}

// logBackendFailure is the shared failure-handling policy described in
// spec.md §4.5: a backend error or timeout during a transcription pass is
// logged and the session continues with its previous result. Two
// consecutive failures do not escalate — the strategy is stateless about
// backend health.
func logBackendFailure(sessionID, strategyName string, err error) {
	code := apperr.CodeBackendError
	if errors.Is(err, context.DeadlineExceeded) {
		code = apperr.CodeBackendTimeout
	}
	slog.Warn("streaming strategy: backend pass failed, keeping previous result",
		"session_id", sessionID, "strategy", strategyName,
		"error", apperr.Wrap(code, "backend pass failed", err))
}
