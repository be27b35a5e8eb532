// Package nativewhisper implements backend.Backend using the whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at startup and a fresh inference context is created per Transcribe
// call, since whisper.cpp contexts are not safe for concurrent use while the
// model itself is.
package nativewhisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/arborview/transcriber/internal/backend"
	"github.com/arborview/transcriber/internal/hypothesis"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the default BCP-47 language code used when Transcribe is
// called with an empty language argument. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.defaultLanguage = lang }
}

// Backend transcribes audio in-process via linked whisper.cpp.
type Backend struct {
	modelPath       string
	defaultLanguage string

	model whisperlib.Model
	ready atomic.Bool
}

// New creates a Backend for the whisper.cpp model at modelPath. Load must be
// called before Transcribe will succeed.
func New(modelPath string, opts ...Option) (*Backend, error) {
	if modelPath == "" {
		return nil, errors.New("nativewhisper: modelPath must not be empty")
	}
	b := &Backend{modelPath: modelPath, defaultLanguage: "en"}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "nativewhisper" }

// Load reads the model file into memory. This is the long-running step;
// callers should run it once at startup, off the request path.
func (b *Backend) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("nativewhisper: context already cancelled: %w", err)
	}
	model, err := whisperlib.New(b.modelPath)
	if err != nil {
		return fmt.Errorf("nativewhisper: load model %q: %w", b.modelPath, err)
	}
	b.model = model
	b.ready.Store(true)
	return nil
}

// IsReady implements backend.Backend.
func (b *Backend) IsReady() bool { return b.ready.Load() }

// Close releases the whisper model.
func (b *Backend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over wav (a WAV container the
// caller has already encoded from its float32 buffer) and returns the
// concatenated segment text plus per-word timestamps derived by evenly
// distributing each segment's duration across its words. whisper.cpp's
// token-level timestamps are sub-word in many builds, so word-level splits
// here are an approximation — adequate for LocalAgreement's prefix
// comparison, which only needs monotonic, roughly-ordered End times.
func (b *Backend) Transcribe(ctx context.Context, wav []byte, promptText, language string) (backend.Result, error) {
	if !b.IsReady() {
		return backend.Result{}, backend.ErrNotReady
	}

	samples, sampleRate, err := decodeWAV(wav)
	if err != nil {
		return backend.Result{}, fmt.Errorf("nativewhisper: decode wav: %w", err)
	}
	_ = sampleRate // whisper.cpp's native API expects its own fixed internal rate; resampling happened upstream.

	lang := language
	if lang == "" {
		lang = b.defaultLanguage
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return backend.Result{}, fmt.Errorf("nativewhisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return backend.Result{}, fmt.Errorf("nativewhisper: set language %q: %w", lang, err)
	}
	// promptText is accepted for interface symmetry with httpwhisper; the
	// whisper.cpp Go bindings don't expose an initial-prompt hook, so a
	// native-backend session relies on LocalAgreement's own dedup rather
	// than backend-side conditioning.

	if err := ctx.Err(); err != nil {
		return backend.Result{}, fmt.Errorf("nativewhisper: context cancelled before process: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return backend.Result{}, fmt.Errorf("nativewhisper: process audio: %w", err)
	}

	var (
		parts []string
		words []hypothesis.TimestampedWord
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return backend.Result{}, fmt.Errorf("nativewhisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		words = append(words, splitSegmentIntoWords(text, segment.Start.Seconds(), segment.End.Seconds())...)
	}

	return backend.Result{Text: strings.Join(parts, " "), Words: words}, nil
}

// splitSegmentIntoWords divides a segment's [start, end) span evenly across
// its whitespace-separated words.
func splitSegmentIntoWords(text string, start, end float64) []hypothesis.TimestampedWord {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	span := end - start
	if span <= 0 {
		span = 0.01 * float64(len(fields))
	}
	step := span / float64(len(fields))

	words := make([]hypothesis.TimestampedWord, len(fields))
	for i, f := range fields {
		words[i] = hypothesis.TimestampedWord{
			Text:       f,
			Start:      start + step*float64(i),
			End:        start + step*float64(i+1),
			Confidence: 1,
		}
	}
	return words
}
