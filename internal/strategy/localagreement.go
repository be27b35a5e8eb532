package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arborview/transcriber/internal/audio"
	"github.com/arborview/transcriber/internal/audiobuffer"
	"github.com/arborview/transcriber/internal/backend"
	"github.com/arborview/transcriber/internal/hypothesis"
)

// Compile-time assertion that LocalAgreement implements Strategy.
var _ Strategy = (*LocalAgreement)(nil)

// LocalAgreementConfig configures a LocalAgreement strategy instance.
type LocalAgreementConfig struct {
	SessionID          string
	Backend            backend.Backend
	AudioBuffer        *audiobuffer.Buffer
	HypothesisBuffer   *hypothesis.Buffer
	SampleRate         int
	Language           string
	TranscribeInterval float64 // seconds of new audio required between passes
	PromptSuffixChars  int

	// TranscribeTimeout bounds a single backend.Transcribe call (spec.md
	// §4.8: "Acquisition is bounded by transcription.timeout_seconds; on
	// timeout the pending transcription is abandoned"). Zero means no
	// bound beyond ctx's own deadline.
	TranscribeTimeout time.Duration
}

// LocalAgreement is the primary streaming strategy: it transcribes the
// accumulated audio buffer every TranscribeInterval seconds of new audio,
// feeds the resulting word timestamps through a LocalAgreement-N hypothesis
// buffer, and trims the audio buffer up to the last confirmed word so
// memory stays bounded on long utterances.
type LocalAgreement struct {
	sessionID          string
	be                 backend.Backend
	audioBuf           *audiobuffer.Buffer
	hyp                *hypothesis.Buffer
	sampleRate         int
	language           string
	transcribeInterval float64
	promptSuffixChars  int
	transcribeTimeout  time.Duration

	mu                sync.Mutex
	lastTranscribedAt float64 // audioBuf.TotalDurationSeconds() as of the last pass
	last              Result
}

// NewLocalAgreement constructs a LocalAgreement strategy. cfg.AudioBuffer
// and cfg.HypothesisBuffer must be non-nil and already sized per the
// session's configuration.
func NewLocalAgreement(cfg LocalAgreementConfig) *LocalAgreement {
	return &LocalAgreement{
		sessionID:          cfg.SessionID,
		be:                 cfg.Backend,
		audioBuf:           cfg.AudioBuffer,
		hyp:                cfg.HypothesisBuffer,
		sampleRate:         cfg.SampleRate,
		language:           cfg.Language,
		transcribeInterval: cfg.TranscribeInterval,
		promptSuffixChars:  cfg.PromptSuffixChars,
		transcribeTimeout:  cfg.TranscribeTimeout,
	}
}

// ProcessAudio implements Strategy.
func (s *LocalAgreement) ProcessAudio(ctx context.Context, chunk []float32) (Result, error) {
	s.audioBuf.Append(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.audioBuf.TotalDurationSeconds()
	if total-s.lastTranscribedAt < s.transcribeInterval {
		return s.currentResultLocked(), nil
	}

	if err := s.runPassLocked(ctx); err != nil {
		logBackendFailure(s.sessionID, "local_agreement", err)
		return s.last, nil
	}
	s.lastTranscribedAt = total
	return s.last, nil
}

// Finalize implements Strategy.
func (s *LocalAgreement) Finalize(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audioBuf.DurationSeconds() > 0 {
		if err := s.runPassLocked(ctx); err != nil {
			logBackendFailure(s.sessionID, "local_agreement", err)
		}
	}

	// Commit whatever remains tentative: there will be no further
	// hypothesis to agree with.
	s.hyp.ForceConfirmTentative()

	result := Result{
		ConfirmedText: s.hyp.GetConfirmedText(),
		TentativeText: s.hyp.GetTentativeText(),
		IsFinal:       true,
		AudioDuration: s.audioBuf.TotalDurationSeconds(),
		Language:      s.language,
		Success:       true,
	}
	s.last = result
	return result, nil
}

// Cleanup implements Strategy. LocalAgreement holds no session-specific
// backend resources — the backend is shared across sessions — so this is a
// no-op.
func (s *LocalAgreement) Cleanup(ctx context.Context) error {
	return nil
}

// runPassLocked serializes the buffer, invokes the backend, and folds the
// resulting words through the hypothesis buffer. Caller must hold s.mu.
func (s *LocalAgreement) runPassLocked(ctx context.Context) error {
	samples, offset := s.audioBuf.GetAudio()
	if len(samples) == 0 {
		return nil
	}

	wav := audio.EncodeWAV(samples, s.sampleRate)
	prompt := s.hyp.GetPromptSuffix(s.promptSuffixChars)

	if s.transcribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.transcribeTimeout)
		defer cancel()
	}

	res, err := s.be.Transcribe(ctx, wav, prompt, s.language)
	if err != nil {
		return fmt.Errorf("local_agreement: transcribe: %w", err)
	}

	s.hyp.Insert(res.Words, offset)
	s.hyp.Flush()

	// Trim the audio buffer up to the end of the last confirmed word: this
	// is the mechanism that keeps memory bounded across a long utterance.
	if confirmed := s.hyp.ConfirmedWords(); len(confirmed) > 0 {
		s.audioBuf.TrimToTime(confirmed[len(confirmed)-1].End)
	}

	s.last = Result{
		ConfirmedText: s.hyp.GetConfirmedText(),
		TentativeText: s.hyp.GetTentativeText(),
		IsFinal:       false,
		AudioDuration: s.audioBuf.TotalDurationSeconds(),
		Language:      s.language,
		Success:       true,
	}
	return nil
}

// currentResultLocked derives a Result from the current hypothesis-buffer
// and audio-buffer state without invoking the backend. Caller must hold
// s.mu.
func (s *LocalAgreement) currentResultLocked() Result {
	return Result{
		ConfirmedText: s.hyp.GetConfirmedText(),
		TentativeText: s.hyp.GetTentativeText(),
		AudioDuration: s.audioBuf.TotalDurationSeconds(),
		Language:      s.language,
		Success:       true,
	}
}
