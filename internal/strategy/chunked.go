package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arborview/transcriber/internal/audio"
	"github.com/arborview/transcriber/internal/audiobuffer"
	"github.com/arborview/transcriber/internal/backend"
)

// Compile-time assertion that Chunked implements Strategy.
var _ Strategy = (*Chunked)(nil)

// ChunkedConfig configures a Chunked strategy instance.
type ChunkedConfig struct {
	SessionID          string
	Backend            backend.Backend
	AudioBuffer        *audiobuffer.Buffer
	SampleRate         int
	Language           string
	TranscribeInterval float64

	// TranscribeTimeout bounds a single backend.Transcribe call (spec.md
	// §4.8). Zero means no bound beyond ctx's own deadline.
	TranscribeTimeout time.Duration
}

// Chunked is the fallback strategy for backends that cannot preserve
// context across calls (no word-level timestamps, or a prompt hook). Every
// TranscribeInterval seconds it re-transcribes the entire accumulated
// buffer and reports the whole result as tentative text; there is no
// stabilization. On Finalize, the last full pass becomes the confirmed
// text.
type Chunked struct {
	sessionID          string
	be                 backend.Backend
	audioBuf           *audiobuffer.Buffer
	sampleRate         int
	language           string
	transcribeInterval float64
	transcribeTimeout  time.Duration

	mu                sync.Mutex
	lastTranscribedAt float64
	lastText          string
	last              Result
}

// NewChunked constructs a Chunked strategy.
func NewChunked(cfg ChunkedConfig) *Chunked {
	return &Chunked{
		sessionID:          cfg.SessionID,
		be:                 cfg.Backend,
		audioBuf:           cfg.AudioBuffer,
		sampleRate:         cfg.SampleRate,
		language:           cfg.Language,
		transcribeInterval: cfg.TranscribeInterval,
		transcribeTimeout:  cfg.TranscribeTimeout,
	}
}

// ProcessAudio implements Strategy.
func (s *Chunked) ProcessAudio(ctx context.Context, chunk []float32) (Result, error) {
	s.audioBuf.Append(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.audioBuf.TotalDurationSeconds()
	if total-s.lastTranscribedAt < s.transcribeInterval {
		return s.resultLocked(false), nil
	}

	if err := s.runPassLocked(ctx); err != nil {
		logBackendFailure(s.sessionID, "chunked", err)
		return s.last, nil
	}
	s.lastTranscribedAt = total
	s.last = s.resultLocked(false)
	return s.last, nil
}

// Finalize implements Strategy. The last full transcription pass becomes
// the confirmed text; there is no tentative remainder because Chunked never
// partitions text into confirmed/tentative until this point.
func (s *Chunked) Finalize(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.runPassLocked(ctx); err != nil {
		logBackendFailure(s.sessionID, "chunked", err)
	}

	result := Result{
		ConfirmedText: s.lastText,
		TentativeText: "",
		IsFinal:       true,
		AudioDuration: s.audioBuf.TotalDurationSeconds(),
		Language:      s.language,
		Success:       true,
	}
	s.last = result
	return result, nil
}

// Cleanup implements Strategy. Chunked holds no session-specific backend
// resources.
func (s *Chunked) Cleanup(ctx context.Context) error {
	return nil
}

func (s *Chunked) runPassLocked(ctx context.Context) error {
	samples, _ := s.audioBuf.GetAudio()
	if len(samples) == 0 {
		return nil
	}
	wav := audio.EncodeWAV(samples, s.sampleRate)

	if s.transcribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.transcribeTimeout)
		defer cancel()
	}

	res, err := s.be.Transcribe(ctx, wav, "", s.language)
	if err != nil {
		return fmt.Errorf("chunked: transcribe: %w", err)
	}
	s.lastText = res.Text
	return nil
}

func (s *Chunked) resultLocked(isFinal bool) Result {
	return Result{
		ConfirmedText: "",
		TentativeText: s.lastText,
		IsFinal:       isFinal,
		AudioDuration: s.audioBuf.TotalDurationSeconds(),
		Language:      s.language,
		Success:       true,
	}
}
