package strategy

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time assertion that Native implements Strategy.
var _ Strategy = (*Native)(nil)

// NativeStreamer is implemented by a backend that already maintains its own
// streaming state and reports confirmed/tentative text directly per chunk
// (for example a true streaming ASR engine, as opposed to whisper.cpp's
// batch-only interface). No backend in this codebase implements it today;
// Native exists so one can be dropped in without strategy-layer changes.
type NativeStreamer interface {
	FeedAudio(ctx context.Context, chunk []float32) (confirmedText, tentativeText string, err error)
	Finalize(ctx context.Context) (confirmedText string, err error)
	Close() error
}

// Native adapts a NativeStreamer to the Strategy contract. It performs no
// stabilization of its own — LocalAgreement is irrelevant here since the
// wrapped backend already decides what's confirmed.
type Native struct {
	sessionID string
	streamer  NativeStreamer

	mu   sync.Mutex
	last Result
}

// NewNative constructs a Native strategy wrapping streamer.
func NewNative(sessionID string, streamer NativeStreamer) *Native {
	return &Native{sessionID: sessionID, streamer: streamer}
}

// ProcessAudio implements Strategy.
func (s *Native) ProcessAudio(ctx context.Context, chunk []float32) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed, tentative, err := s.streamer.FeedAudio(ctx, chunk)
	if err != nil {
		logBackendFailure(s.sessionID, "native", fmt.Errorf("feed_audio: %w", err))
		return s.last, nil
	}
	s.last = Result{
		ConfirmedText: confirmed,
		TentativeText: tentative,
		Success:       true,
	}
	return s.last, nil
}

// Finalize implements Strategy.
func (s *Native) Finalize(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed, err := s.streamer.Finalize(ctx)
	if err != nil {
		result := Result{
			ConfirmedText: s.last.ConfirmedText,
			IsFinal:       true,
			Success:       false,
			Error:         err.Error(),
		}
		s.last = result
		return result, nil
	}
	result := Result{ConfirmedText: confirmed, IsFinal: true, Success: true}
	s.last = result
	return result, nil
}

// Cleanup implements Strategy.
func (s *Native) Cleanup(ctx context.Context) error {
	return s.streamer.Close()
}
