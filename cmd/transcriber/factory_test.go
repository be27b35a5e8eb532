package main

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/arborview/transcriber/internal/backend"
	"github.com/arborview/transcriber/internal/config"
	"github.com/arborview/transcriber/internal/resilience"
	"github.com/arborview/transcriber/internal/session"
	"github.com/arborview/transcriber/internal/vad"
)

type stubBackend struct {
	name   string
	loads  *atomic.Int32
	closes *atomic.Int32
}

func (s stubBackend) Load(ctx context.Context) error {
	if s.loads != nil {
		s.loads.Add(1)
	}
	return nil
}
func (s stubBackend) IsReady() bool { return true }
func (s stubBackend) Transcribe(ctx context.Context, wav []byte, promptText, language string) (backend.Result, error) {
	return backend.Result{}, nil
}
func (s stubBackend) Name() string { return s.name }
func (s stubBackend) Close() error {
	if s.closes != nil {
		s.closes.Add(1)
	}
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Streaming.Strategy = config.StrategyLocalAgreement
	cfg.Streaming.LocalAgreementN = 2
	cfg.Streaming.TranscribeIntervalSeconds = 2.0
	cfg.Streaming.PromptSuffixChars = 200
	cfg.Streaming.MaxBufferSeconds = 30
	cfg.Streaming.MaxConfirmedWords = 500
	cfg.VAD.Threshold = 0.5
	cfg.VAD.Hysteresis = 0.15
	cfg.VAD.MinSpeechDuration = 0.3
	cfg.VAD.MaxSilenceDuration = 0.8
	cfg.Transcription.Backend = config.BackendHTTPWhisper
	cfg.Transcription.ServerURL = "http://localhost:8081"
	cfg.Transcription.TimeoutSeconds = 30
	cfg.RateLimit.ChunkBurst = 200
	cfg.RateLimit.ChunkSustained = 100
	cfg.RateLimit.BackendConcurrency = 1
	return cfg
}

func TestBuildVAD_DerivesMinSpeechChunksFromDuration(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	cfg := testConfig()
	cfg.VAD.MinSpeechDuration = 0.3 // at 10 chunks/sec -> 3 chunks

	proc, err := f.buildVAD(cfg)
	if err != nil {
		t.Fatalf("buildVAD: %v", err)
	}
	if proc == nil {
		t.Fatal("buildVAD returned nil processor")
	}

	// Two above-threshold chunks are not enough; the third enters SPEECH.
	proc.Process(0.9)
	proc.Process(0.9)
	if proc.CurrentState() != vad.StateWaiting {
		t.Fatalf("state after 2 speech chunks = %v, want WAITING", proc.CurrentState())
	}
	proc.Process(0.9)
	if proc.CurrentState() != vad.StateSpeech {
		t.Fatalf("state after 3 speech chunks = %v, want SPEECH", proc.CurrentState())
	}
}

func TestBuildVAD_RejectsInvalidThreshold(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	cfg := testConfig()
	cfg.VAD.Threshold = 1.5

	if _, err := f.buildVAD(cfg); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
}

func TestBuildStrategy_LocalAgreementUsesHypothesisBuffer(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	cfg := testConfig()

	strat, err := f.buildStrategy(cfg, "sess-1", stubBackend{name: "stub"})
	if err != nil {
		t.Fatalf("buildStrategy: %v", err)
	}
	if strat == nil {
		t.Fatal("buildStrategy returned nil")
	}
}

func TestBuildStrategy_ChunkedVariant(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	cfg := testConfig()
	cfg.Streaming.Strategy = config.StrategyChunked

	strat, err := f.buildStrategy(cfg, "sess-2", stubBackend{name: "stub"})
	if err != nil {
		t.Fatalf("buildStrategy: %v", err)
	}
	if strat == nil {
		t.Fatal("buildStrategy returned nil")
	}
}

func TestBuildStrategy_NativeRequiresNativeStreamerBackend(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	cfg := testConfig()
	cfg.Streaming.Strategy = config.StrategyNative

	if _, err := f.buildStrategy(cfg, "sess-3", stubBackend{name: "stub"}); err == nil {
		t.Fatal("expected error: stubBackend does not implement NativeStreamer")
	}
}

func TestBuildStrategy_UnrecognizedStrategyErrors(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	cfg := testConfig()
	cfg.Streaming.Strategy = "bogus"

	if _, err := f.buildStrategy(cfg, "sess-4", stubBackend{name: "stub"}); err == nil {
		t.Fatal("expected error for unrecognized strategy")
	}
}

func TestSessionFactory_StrategyAndBackendName(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	if f.StrategyName() != "local_agreement" {
		t.Errorf("StrategyName() = %q, want %q", f.StrategyName(), "local_agreement")
	}
	if f.BackendName() != "whisper-http" {
		t.Errorf("BackendName() = %q, want %q", f.BackendName(), "whisper-http")
	}
}

func TestSessionFactory_UpdateConfigRebuildsSemaphoreOnConcurrencyChange(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	original := f.backendSem

	next := testConfig()
	next.RateLimit.BackendConcurrency = 4
	f.updateConfig(next)

	if f.backendSem == original {
		t.Error("expected a new semaphore after backend_concurrency changed")
	}
}

// TestSessionFactory_NewSessionSharesBackendWithoutReloading guards against
// the backend being re-created (and re-Load()ed) per session: NewSession
// must only ever wrap the single rawBackend instance it was constructed
// with, never call Load on it itself.
func TestSessionFactory_NewSessionSharesBackendWithoutReloading(t *testing.T) {
	var loads, closes atomic.Int32
	be := stubBackend{name: "stub", loads: &loads, closes: &closes}
	f := newSessionFactory(testConfig(), be, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))

	for i := 0; i < 3; i++ {
		sess, err := f.NewSession(session.Config{
			ID:         "sess",
			SampleRate: 16000,
			Channels:   1,
		})
		if err != nil {
			t.Fatalf("NewSession iteration %d: %v", i, err)
		}
		if sess == nil {
			t.Fatalf("NewSession iteration %d returned nil session", i)
		}
	}

	if n := loads.Load(); n != 0 {
		t.Errorf("NewSession called Load on the shared backend %d times; it must only be loaded once at startup", n)
	}
	if n := closes.Load(); n != 0 {
		t.Errorf("NewSession closed the shared backend %d times; sessions must not own its lifecycle", n)
	}
}

func TestSessionFactory_UpdateConfigKeepsSemaphoreWhenConcurrencyUnchanged(t *testing.T) {
	f := newSessionFactory(testConfig(), stubBackend{name: "stub"}, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}))
	original := f.backendSem

	next := testConfig()
	next.Server.LogLevel = config.LogLevelDebug
	f.updateConfig(next)

	if f.backendSem != original {
		t.Error("semaphore should be unchanged when backend_concurrency is the same")
	}
}
