// Package config provides the configuration schema, loader, and backend
// registry for the transcription server.
package config

// Config is the root configuration structure for the transcription server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Streaming     StreamingConfig     `yaml:"streaming"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	WakeWord      WakeWordConfig      `yaml:"wake_word"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// StreamingStrategy selects which internal/strategy variant a session uses.
type StreamingStrategy string

const (
	StrategyLocalAgreement StreamingStrategy = "local_agreement"
	StrategyChunked        StreamingStrategy = "chunked"
	StrategyNative         StreamingStrategy = "native"
)

// IsValid reports whether s is one of the recognized strategies.
func (s StreamingStrategy) IsValid() bool {
	switch s {
	case StrategyLocalAgreement, StrategyChunked, StrategyNative:
		return true
	default:
		return false
	}
}

// Stabilization selects a named stabilization preset from strategy.Presets.
type Stabilization string

const (
	StabilizationUnset  Stabilization = ""
	StabilizationLow    Stabilization = "low"
	StabilizationMedium Stabilization = "medium"
	StabilizationHigh   Stabilization = "high"
)

// IsValid reports whether s is empty (unset) or a recognized preset name.
func (s Stabilization) IsValid() bool {
	switch s {
	case StabilizationUnset, StabilizationLow, StabilizationMedium, StabilizationHigh:
		return true
	default:
		return false
	}
}

// StreamingConfig configures C5's strategy selection and stabilization.
type StreamingConfig struct {
	Strategy                  StreamingStrategy `yaml:"strategy"`
	Stabilization             Stabilization     `yaml:"stabilization"`
	LocalAgreementN           int               `yaml:"local_agreement_n"`
	TranscribeIntervalSeconds float64           `yaml:"transcribe_interval_seconds"`
	PromptSuffixChars         int               `yaml:"prompt_suffix_chars"`
	MaxBufferSeconds          float64           `yaml:"max_buffer_seconds"`
	SessionTimeoutSeconds     float64           `yaml:"session_timeout_seconds"`
	MaxConfirmedWords         int               `yaml:"max_confirmed_words"`
}

// VADConfig configures C3's state machine thresholds.
type VADConfig struct {
	Threshold         float64 `yaml:"threshold"`
	Hysteresis        float64 `yaml:"hysteresis"`
	MinSpeechDuration float64 `yaml:"min_speech_duration"`
	MaxSilenceDuration float64 `yaml:"max_silence_duration"`
}

// BackendKind selects which C9 backend implementation the facade instantiates.
type BackendKind string

const (
	BackendHTTPWhisper   BackendKind = "whisper-http"
	BackendNativeWhisper BackendKind = "whisper-native"
)

// IsValid reports whether k is a recognized backend kind.
func (k BackendKind) IsValid() bool {
	switch k {
	case BackendHTTPWhisper, BackendNativeWhisper:
		return true
	default:
		return false
	}
}

// TranscriptionConfig configures C9's backend facade.
type TranscriptionConfig struct {
	Backend        BackendKind `yaml:"backend"`
	TimeoutSeconds float64     `yaml:"timeout_seconds"`
	Language       string      `yaml:"language"`

	// ServerURL is used when Backend is whisper-http.
	ServerURL string `yaml:"server_url"`
	// ModelPath is used when Backend is whisper-native.
	ModelPath string `yaml:"model_path"`
	// Model names a model identifier passed through to whisper-http.
	Model string `yaml:"model"`
}

// WakeWordConfig configures the session's optional wake-word gate.
type WakeWordConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Phrase        string  `yaml:"phrase"`
	MinConfidence float64 `yaml:"min_confidence"`
	PreRollChunks int     `yaml:"pre_roll_chunks"`

	// MelspecModel, EmbeddingModel, and WakewordModel are ONNX model paths
	// for the three-stage openWakeWord pipeline; required when Enabled.
	MelspecModel   string `yaml:"melspec_model_path"`
	EmbeddingModel string `yaml:"embedding_model_path"`
	WakewordModel  string `yaml:"wakeword_model_path"`
	// OnnxLib is the path to the ONNX Runtime shared library.
	OnnxLib string `yaml:"onnx_lib_path"`
	// CooldownSeconds is the minimum time between reported detections.
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

// RateLimitConfig configures C8's per-client token bucket and backend
// concurrency semaphore.
type RateLimitConfig struct {
	ChunkBurst         int     `yaml:"chunk_burst"`
	ChunkSustained     float64 `yaml:"chunk_sustained"`
	BackendConcurrency int64   `yaml:"backend_concurrency"`
}
