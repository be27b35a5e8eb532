package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arborview/transcriber/internal/audiobuffer"
	"github.com/arborview/transcriber/internal/backend"
	"github.com/arborview/transcriber/internal/config"
	"github.com/arborview/transcriber/internal/hypothesis"
	"github.com/arborview/transcriber/internal/resilience"
	"github.com/arborview/transcriber/internal/session"
	"github.com/arborview/transcriber/internal/strategy"
	"github.com/arborview/transcriber/internal/vad"
	"github.com/arborview/transcriber/internal/wakeword"
)

// nominalChunksPerSecond is the wire protocol's assumed chunk cadence used
// to translate vad.min_speech_duration (seconds) into min_speech_chunks (a
// chunk count), matching the 10-chunks/sec cadence spec.md's own VAD
// example exercises. min_speech_chunks is the number of consecutive
// above-threshold chunks needed to enter SPEECH (and how far the utterance
// start is backdated); at a different client cadence that count, and the
// speech durations the VAD reports, cover a different span of audio. It
// does not gate how often Process is called.
const nominalChunksPerSecond = 10.0

// sessionFactory implements dispatch.SessionFactory, bridging the live
// *config.Config into a session.Session's strategy, VAD processor, and
// optional wake-word gate. Config can be swapped out at runtime (see
// updateConfig); in-flight sessions keep whatever snapshot they were built
// from, only new start_stream requests see a changed config.
//
// rawBackend is loaded once at process startup (main.go) and shared by
// every session for the life of the process — per backend.Backend's
// contract, model weights are read-only after Load and the instance is
// never re-created per session. Each session gets its own thin
// CircuitBreaking(Serialized(...)) decorator pair around that single
// instance, so per-session wrapping is just a struct allocation, not a
// reload; the breaker and, within one config generation, the semaphore are
// shared across every decorator.
type sessionFactory struct {
	cfg        atomic.Pointer[config.Config]
	rawBackend backend.Backend
	backendSem *semaphore.Weighted
	breaker    *resilience.CircuitBreaker
}

func newSessionFactory(cfg *config.Config, rawBackend backend.Backend, breaker *resilience.CircuitBreaker) *sessionFactory {
	f := &sessionFactory{
		rawBackend: rawBackend,
		backendSem: semaphore.NewWeighted(cfg.RateLimit.BackendConcurrency),
		breaker:    breaker,
	}
	f.cfg.Store(cfg)
	return f
}

// updateConfig swaps the config snapshot new sessions are built from. When
// rate_limit.backend_concurrency changes, the semaphore is rebuilt too;
// sessions already holding a reference to the old semaphore finish against
// it, so a shrink takes full effect only once they've all ended.
func (f *sessionFactory) updateConfig(cfg *config.Config) {
	if old := f.cfg.Load(); old == nil || old.RateLimit.BackendConcurrency != cfg.RateLimit.BackendConcurrency {
		f.backendSem = semaphore.NewWeighted(cfg.RateLimit.BackendConcurrency)
	}
	f.cfg.Store(cfg)
}

// StrategyName implements dispatch.SessionFactory.
func (f *sessionFactory) StrategyName() string { return string(f.cfg.Load().Streaming.Strategy) }

// BackendName implements dispatch.SessionFactory.
func (f *sessionFactory) BackendName() string { return string(f.cfg.Load().Transcription.Backend) }

// NewSession implements dispatch.SessionFactory.
func (f *sessionFactory) NewSession(sessCfg session.Config) (*session.Session, error) {
	appCfg := f.cfg.Load()

	be := backend.NewCircuitBreaking(backend.NewSerialized(f.rawBackend, f.backendSem), f.breaker)

	strat, err := f.buildStrategy(appCfg, sessCfg.ID, be)
	if err != nil {
		return nil, err
	}

	vadProc, err := f.buildVAD(appCfg)
	if err != nil {
		return nil, err
	}

	sessCfg.Strategy = strat
	sessCfg.VAD = vadProc

	if appCfg.WakeWord.Enabled {
		det, err := wakeword.New(wakeword.Config{
			MelspecModel:   appCfg.WakeWord.MelspecModel,
			EmbeddingModel: appCfg.WakeWord.EmbeddingModel,
			WakewordModel:  appCfg.WakeWord.WakewordModel,
			OnnxLib:        appCfg.WakeWord.OnnxLib,
			Phrase:         appCfg.WakeWord.Phrase,
			Threshold:      appCfg.WakeWord.MinConfidence,
			Cooldown:       time.Duration(appCfg.WakeWord.CooldownSeconds * float64(time.Second)),
		})
		if err != nil {
			return nil, fmt.Errorf("session factory: build wake-word detector: %w", err)
		}
		sessCfg.WakeWord = det
		sessCfg.PreRollChunks = appCfg.WakeWord.PreRollChunks
	}

	return session.New(sessCfg)
}

func (f *sessionFactory) buildStrategy(cfg *config.Config, sessionID string, be backend.Backend) (strategy.Strategy, error) {
	const sampleRate = 16000 // normalize_pcm's fixed output rate
	transcribeTimeout := time.Duration(cfg.Transcription.TimeoutSeconds * float64(time.Second))

	switch cfg.Streaming.Strategy {
	case config.StrategyChunked:
		buf := audiobuffer.New(cfg.Streaming.MaxBufferSeconds, sampleRate)
		return strategy.NewChunked(strategy.ChunkedConfig{
			SessionID:          sessionID,
			Backend:            be,
			AudioBuffer:        buf,
			SampleRate:         sampleRate,
			Language:           cfg.Transcription.Language,
			TranscribeInterval: cfg.Streaming.TranscribeIntervalSeconds,
			TranscribeTimeout:  transcribeTimeout,
		}), nil

	case config.StrategyNative:
		streamer, ok := be.(strategy.NativeStreamer)
		if !ok {
			return nil, fmt.Errorf("session factory: backend %q does not implement NativeStreamer", be.Name())
		}
		return strategy.NewNative(sessionID, streamer), nil

	case config.StrategyLocalAgreement, "":
		buf := audiobuffer.New(cfg.Streaming.MaxBufferSeconds, sampleRate)
		hyp := hypothesis.New(hypothesis.Config{
			AgreementN:        cfg.Streaming.LocalAgreementN,
			MaxConfirmedWords: cfg.Streaming.MaxConfirmedWords,
		})
		return strategy.NewLocalAgreement(strategy.LocalAgreementConfig{
			SessionID:          sessionID,
			Backend:            be,
			AudioBuffer:        buf,
			HypothesisBuffer:   hyp,
			SampleRate:         sampleRate,
			Language:           cfg.Transcription.Language,
			TranscribeInterval: cfg.Streaming.TranscribeIntervalSeconds,
			PromptSuffixChars:  cfg.Streaming.PromptSuffixChars,
			TranscribeTimeout:  transcribeTimeout,
		}), nil

	default:
		return nil, fmt.Errorf("session factory: unrecognized streaming strategy %q", cfg.Streaming.Strategy)
	}
}

func (f *sessionFactory) buildVAD(cfg *config.Config) (*vad.Processor, error) {
	minSpeechChunks := int(cfg.VAD.MinSpeechDuration*nominalChunksPerSecond + 0.5)
	if minSpeechChunks < 1 {
		minSpeechChunks = 1
	}
	vc := vad.Config{
		Threshold:           cfg.VAD.Threshold,
		Hysteresis:          cfg.VAD.Hysteresis,
		MinSpeechChunks:     minSpeechChunks,
		MinSpeechDurationS:  cfg.VAD.MinSpeechDuration,
		MaxSilenceDurationS: cfg.VAD.MaxSilenceDuration,
		ChunksPerSecond:     nominalChunksPerSecond,
	}
	if err := vc.Validate(); err != nil {
		return nil, fmt.Errorf("session factory: vad config: %w", err)
	}
	return vad.New(vc), nil
}
