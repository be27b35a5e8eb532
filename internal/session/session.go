package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arborview/transcriber/internal/apperr"
	"github.com/arborview/transcriber/internal/audio"
	"github.com/arborview/transcriber/internal/strategy"
	"github.com/arborview/transcriber/internal/vad"
)

// State is a Session's position in its ACTIVE → ENDING → CLOSED lifecycle.
type State int32

const (
	StateActive State = iota
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// WakeWordDetector reports whether a chunk of audio matches a configured
// wake phrase. Implementations are expected to maintain their own small
// rolling buffer for pre-roll purposes.
type WakeWordDetector interface {
	// Detect returns (phrase, confidence, matched). When matched is false
	// the other fields are meaningless.
	Detect(chunk []float32) (phrase string, confidence float64, matched bool)
}

// Config configures a new Session. Strategy and SampleRate are required;
// VAD and WakeWord are optional (a nil value skips that stage).
type Config struct {
	ID         string
	ClientID   string
	SampleRate int
	Channels   int
	Strategy   strategy.Strategy
	VAD        *vad.Processor
	WakeWord   WakeWordDetector

	// PreRollChunks bounds how much audio the wake-word gate retains before
	// a match, so the first few words of an utterance aren't lost waiting
	// for detection to fire. Zero disables pre-roll retention.
	PreRollChunks int
}

// Session owns one client's streaming transcription lifecycle: codec
// decode, VAD gating, and handing surviving audio to a Strategy. All
// mutable state is guarded by mu; Session itself does not run a goroutine —
// FeedPCM/FeedOpus execute synchronously on the caller's (the dispatcher's)
// goroutine, which is what gives each session its single-threaded-state
// guarantee (spec.md §5: "chunk ingestion ... never race").
type Session struct {
	id         string
	clientID   string
	sampleRate int
	channels   int
	strat      strategy.Strategy
	vadProc    *vad.Processor
	wakeWord   WakeWordDetector
	preRoll    int

	mu          sync.Mutex
	state       atomic.Int32
	endingOnce  sync.Once
	endResult   strategy.Result
	endErr      error
	wakeTripped bool
	preRollBuf  [][]float32

	opusDecoder *audio.OpusDecoder
}

// New creates a Session in the ACTIVE state. An OpusDecoder (for
// audio_chunk messages) is created eagerly for every session, since it is
// stateful and must persist across packets for one session.
func New(cfg Config) (*Session, error) {
	dec, err := audio.NewOpusDecoder(cfg.ID, cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("session %s: create opus decoder: %w", cfg.ID, err)
	}
	s := &Session{
		id:          cfg.ID,
		clientID:    cfg.ClientID,
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		strat:       cfg.Strategy,
		vadProc:     cfg.VAD,
		wakeWord:    cfg.WakeWord,
		preRoll:     cfg.PreRollChunks,
		opusDecoder: dec,
	}
	s.state.Store(int32(StateActive))
	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// ClientID returns the owning client's identifier.
func (s *Session) ClientID() string { return s.clientID }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// FeedPCM decodes nothing (the chunk already arrived as raw PCM) and
// normalizes it to the pipeline's target rate before feeding it onward.
// sourceRate/channels must match what start_stream declared.
func (s *Session) FeedPCM(ctx context.Context, pcm []int16, sourceRate, channels int) (strategy.Result, error) {
	samples, err := audio.NormalizePCM(pcm, sourceRate, channels)
	if err != nil {
		return strategy.Result{}, apperr.Wrap(apperr.CodeUnsupportedSampleRate, "normalize pcm_chunk", err)
	}
	return s.feedChunk(ctx, samples)
}

// FeedOpus decodes an Opus packet through this session's (stateful)
// decoder, normalizes the result, and feeds it onward. A malformed packet
// returns a DECODE_ERROR but leaves the session and decoder state intact
// for the next packet.
func (s *Session) FeedOpus(ctx context.Context, packet []byte) (strategy.Result, error) {
	pcm, err := s.opusDecoder.Decode(packet)
	if err != nil {
		return strategy.Result{}, apperr.Wrap(apperr.CodeDecodeError, "decode audio_chunk", err)
	}
	samples, err := audio.NormalizePCM(pcm, s.sampleRate, s.channels)
	if err != nil {
		return strategy.Result{}, apperr.Wrap(apperr.CodeUnsupportedSampleRate, "normalize audio_chunk", err)
	}
	return s.feedChunk(ctx, samples)
}

// feedChunk pipes normalized PCM samples through the optional wake-word
// gate, VAD, and strategy, returning the resulting streaming result. It
// rejects the call with CodeSessionClosed if the session is not ACTIVE.
func (s *Session) feedChunk(ctx context.Context, samples []float32) (strategy.Result, error) {
	if State(s.state.Load()) != StateActive {
		return strategy.Result{}, apperr.New(apperr.CodeSessionClosed, "session is not accepting chunks")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: End()/Abort() may have raced us between the
	// atomic load above and acquiring mu.
	if State(s.state.Load()) != StateActive {
		return strategy.Result{}, apperr.New(apperr.CodeSessionClosed, "session is not accepting chunks")
	}

	forwarded := samples
	if s.wakeWord != nil && !s.wakeTripped {
		forwarded = s.gateLocked(samples)
		if forwarded == nil {
			return strategy.Result{}, nil
		}
	}

	if s.vadProc != nil {
		probability := estimateSpeechProbability(forwarded)
		result := s.vadProc.Process(probability)
		if !result.ShouldBuffer {
			return strategy.Result{}, nil
		}
	}

	res, err := s.strat.ProcessAudio(ctx, forwarded)
	if err != nil {
		return strategy.Result{}, apperr.Wrap(apperr.CodeInternalError, "strategy.ProcessAudio", err)
	}
	return res, nil
}

// gateLocked implements the wake-word gate. Caller must hold s.mu.
func (s *Session) gateLocked(chunk []float32) []float32 {
	phrase, confidence, matched := s.wakeWord.Detect(chunk)
	if !matched {
		if s.preRoll > 0 {
			s.preRollBuf = append(s.preRollBuf, chunk)
			if len(s.preRollBuf) > s.preRoll {
				s.preRollBuf = s.preRollBuf[len(s.preRollBuf)-s.preRoll:]
			}
		}
		return nil
	}

	slog.Info("wake word detected", "session_id", s.id, "phrase", phrase, "confidence", confidence)
	s.wakeTripped = true

	var out []float32
	for _, pre := range s.preRollBuf {
		out = append(out, pre...)
	}
	s.preRollBuf = nil
	out = append(out, chunk...)
	return out
}

// End marks the session ENDING (so concurrent in-flight FeedPCM/FeedOpus calls do
// not double-finalize), finalizes the strategy, and transitions to CLOSED.
// Idempotent: a second call is a no-op returning the first call's result.
func (s *Session) End(ctx context.Context) (strategy.Result, error) {
	s.endingOnce.Do(func() {
		s.state.Store(int32(StateEnding))

		s.mu.Lock()
		s.endResult, s.endErr = s.strat.Finalize(ctx)
		s.mu.Unlock()

		if cerr := s.strat.Cleanup(ctx); cerr != nil {
			slog.Warn("session: strategy cleanup failed", "session_id", s.id, "error", cerr)
		}
		s.state.Store(int32(StateClosed))
	})
	if s.endErr != nil {
		return strategy.Result{}, fmt.Errorf("session %s: end: %w", s.id, s.endErr)
	}
	return s.endResult, nil
}

// Abort is like End but discards the in-flight result and emits no final
// message; it is used for client disconnects and registry-driven cleanup.
func (s *Session) Abort(ctx context.Context) {
	s.endingOnce.Do(func() {
		s.state.Store(int32(StateEnding))
		s.mu.Lock()
		_, _ = s.strat.Finalize(ctx)
		s.mu.Unlock()
		if cerr := s.strat.Cleanup(ctx); cerr != nil {
			slog.Warn("session: strategy cleanup failed during abort", "session_id", s.id, "error", cerr)
		}
		s.state.Store(int32(StateClosed))
	})
}

// estimateSpeechProbability is a placeholder energy-based proxy for a real
// VAD probability model (Silero et al.), matching the scope boundary
// internal/vad documents: this package owns the state machine, not the
// probability model. RMS energy is normalized against a fixed ceiling
// chosen for 16-bit PCM converted to float32 in [-1, 1].
func estimateSpeechProbability(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := sumSquares / float64(len(samples))
	const ceiling = 0.05 // empirically reasonable speech-level RMS^2 ceiling
	p := rms / ceiling
	if p > 1 {
		p = 1
	}
	return p
}
