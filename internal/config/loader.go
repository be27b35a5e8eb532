package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arborview/transcriber/internal/strategy"
)

// presetFor looks up a named stabilization preset in strategy.Presets, the
// single source of truth for the three preset value sets.
func presetFor(name Stabilization) (strategy.Preset, bool) {
	if name == "" {
		return strategy.Preset{}, false
	}
	p, ok := strategy.Presets[string(name)]
	return p, ok
}

// defaults applied after YAML decode, before validation, for any field left
// at its zero value. Matches the defaults spec.md §6 documents.
func (c *Config) applyDefaults() {
	if c.Streaming.Strategy == "" {
		c.Streaming.Strategy = StrategyLocalAgreement
	}
	if c.Streaming.LocalAgreementN == 0 {
		c.Streaming.LocalAgreementN = 2
	}
	if c.Streaming.TranscribeIntervalSeconds == 0 {
		c.Streaming.TranscribeIntervalSeconds = 2.0
	}
	if c.Streaming.PromptSuffixChars == 0 {
		c.Streaming.PromptSuffixChars = 200
	}
	if c.Streaming.MaxBufferSeconds == 0 {
		c.Streaming.MaxBufferSeconds = 30.0
	}
	if c.Streaming.SessionTimeoutSeconds == 0 {
		c.Streaming.SessionTimeoutSeconds = 300.0
	}
	if c.Streaming.MaxConfirmedWords == 0 {
		c.Streaming.MaxConfirmedWords = 500
	}
	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.5
	}
	if c.VAD.Hysteresis == 0 {
		c.VAD.Hysteresis = 0.15
	}
	if c.VAD.MinSpeechDuration == 0 {
		c.VAD.MinSpeechDuration = 0.3
	}
	if c.VAD.MaxSilenceDuration == 0 {
		c.VAD.MaxSilenceDuration = 0.8
	}
	if c.Transcription.TimeoutSeconds == 0 {
		c.Transcription.TimeoutSeconds = 30
	}
	if c.RateLimit.ChunkBurst == 0 {
		c.RateLimit.ChunkBurst = 200
	}
	if c.RateLimit.ChunkSustained == 0 {
		c.RateLimit.ChunkSustained = 100
	}
	if c.RateLimit.BackendConcurrency == 0 {
		c.RateLimit.BackendConcurrency = 1
	}

	// streaming.stabilization, when set, overrides the three fields it
	// governs — applied after the individual defaults above so an explicit
	// stabilization always wins.
	if preset, ok := presetFor(c.Streaming.Stabilization); ok {
		c.Streaming.LocalAgreementN = preset.LocalAgreementN
		c.Streaming.TranscribeIntervalSeconds = preset.TranscribeIntervalSeconds
		c.Streaming.PromptSuffixChars = preset.PromptSuffixChars
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Streaming.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("streaming.strategy %q is invalid; valid values: local_agreement, chunked, native", cfg.Streaming.Strategy))
	}
	if !cfg.Streaming.Stabilization.IsValid() {
		errs = append(errs, fmt.Errorf("streaming.stabilization %q is invalid; valid values: low, medium, high", cfg.Streaming.Stabilization))
	}
	if cfg.Streaming.LocalAgreementN < 1 {
		errs = append(errs, fmt.Errorf("streaming.local_agreement_n must be >= 1, got %d", cfg.Streaming.LocalAgreementN))
	}
	if cfg.Streaming.TranscribeIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("streaming.transcribe_interval_seconds must be > 0, got %v", cfg.Streaming.TranscribeIntervalSeconds))
	}
	if cfg.Streaming.MaxBufferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("streaming.max_buffer_seconds must be > 0, got %v", cfg.Streaming.MaxBufferSeconds))
	}

	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold must be in (0, 1), got %v", cfg.VAD.Threshold))
	}
	if cfg.VAD.Hysteresis < 0 || cfg.VAD.Hysteresis >= cfg.VAD.Threshold {
		errs = append(errs, fmt.Errorf("vad.hysteresis must be in [0, threshold), got %v", cfg.VAD.Hysteresis))
	}
	if cfg.VAD.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_duration must be >= 0, got %v", cfg.VAD.MinSpeechDuration))
	}
	if cfg.VAD.MaxSilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.max_silence_duration must be >= 0, got %v", cfg.VAD.MaxSilenceDuration))
	}

	if cfg.Transcription.Backend != "" && !cfg.Transcription.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.backend %q is invalid; valid values: whisper-http, whisper-native", cfg.Transcription.Backend))
	}
	if cfg.Transcription.Backend == BackendHTTPWhisper && cfg.Transcription.ServerURL == "" {
		errs = append(errs, fmt.Errorf("transcription.server_url is required when transcription.backend is whisper-http"))
	}
	if cfg.Transcription.Backend == BackendNativeWhisper && cfg.Transcription.ModelPath == "" {
		errs = append(errs, fmt.Errorf("transcription.model_path is required when transcription.backend is whisper-native"))
	}
	if cfg.Transcription.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout_seconds must be > 0, got %v", cfg.Transcription.TimeoutSeconds))
	}

	if cfg.Streaming.Strategy == StrategyLocalAgreement && cfg.Transcription.Backend == BackendNativeWhisper {
		slog.Warn("local_agreement strategy pairs best with a backend that reports word timestamps; whisper-native approximates them by even time-division")
	}

	if cfg.WakeWord.Enabled && cfg.WakeWord.Phrase == "" {
		errs = append(errs, fmt.Errorf("wake_word.phrase is required when wake_word.enabled is true"))
	}
	if cfg.WakeWord.MinConfidence < 0 || cfg.WakeWord.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("wake_word.min_confidence must be in [0, 1], got %v", cfg.WakeWord.MinConfidence))
	}
	if cfg.WakeWord.Enabled {
		if cfg.WakeWord.MelspecModel == "" || cfg.WakeWord.EmbeddingModel == "" || cfg.WakeWord.WakewordModel == "" {
			errs = append(errs, fmt.Errorf("wake_word.melspec_model_path, embedding_model_path, and wakeword_model_path are all required when wake_word.enabled is true"))
		}
		if cfg.WakeWord.OnnxLib == "" {
			errs = append(errs, fmt.Errorf("wake_word.onnx_lib_path is required when wake_word.enabled is true"))
		}
	}

	if cfg.RateLimit.ChunkBurst < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.chunk_burst must be >= 1, got %d", cfg.RateLimit.ChunkBurst))
	}
	if cfg.RateLimit.ChunkSustained <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.chunk_sustained must be > 0, got %v", cfg.RateLimit.ChunkSustained))
	}
	if cfg.RateLimit.BackendConcurrency < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.backend_concurrency must be >= 1, got %d", cfg.RateLimit.BackendConcurrency))
	}

	return errors.Join(errs...)
}
