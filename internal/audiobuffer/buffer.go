// Package audiobuffer implements the bounded ring of float32 samples that
// backs every session's audio ingress. It tracks offset_seconds, the
// cumulative duration of samples ever evicted, so that word timestamps the
// backend reports relative to the buffer it was handed can be mapped back
// onto an absolute session timeline.
package audiobuffer

import "sync"

// Buffer is a bounded, mutex-guarded ring of float32 PCM samples at a fixed
// sample rate. Not safe to share across sessions; exactly one Session owns
// one Buffer for its lifetime.
type Buffer struct {
	mu         sync.Mutex
	samples    []float32
	sampleRate int
	maxSamples int
	offsetSecs float64
	totalSecs  float64
}

// New creates a Buffer that retains at most maxSeconds of audio at
// sampleRate. Appends beyond that bound trim the oldest samples.
func New(maxSeconds float64, sampleRate int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		maxSamples: int(maxSeconds * float64(sampleRate)),
	}
}

// Append adds samples to the buffer. If the buffer would exceed its maximum
// size, the oldest samples are trimmed and offset_seconds advances by the
// trimmed duration. Returns the number of samples evicted by this append
// (zero if none).
func (b *Buffer) Append(samples []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	b.totalSecs += float64(len(samples)) / float64(b.sampleRate)

	trimmed := 0
	if b.maxSamples > 0 && len(b.samples) > b.maxSamples {
		trimmed = len(b.samples) - b.maxSamples
		b.samples = b.samples[trimmed:]
		b.offsetSecs += float64(trimmed) / float64(b.sampleRate)
	}
	return trimmed
}

// TrimToSeconds retains only the most recent s seconds of audio, advancing
// offset_seconds by whatever duration was dropped.
func (b *Buffer) TrimToSeconds(s float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keep := int(s * float64(b.sampleRate))
	if keep < 0 {
		keep = 0
	}
	if keep >= len(b.samples) {
		return
	}
	dropped := len(b.samples) - keep
	b.samples = b.samples[dropped:]
	b.offsetSecs += float64(dropped) / float64(b.sampleRate)
}

// TrimToTime drops every sample before the given absolute session timestamp
// (in seconds), as computed from offset_seconds + position in buffer.
func (b *Buffer) TrimToTime(absoluteSeconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if absoluteSeconds <= b.offsetSecs {
		return
	}
	dropSamples := int((absoluteSeconds - b.offsetSecs) * float64(b.sampleRate))
	if dropSamples <= 0 {
		return
	}
	if dropSamples >= len(b.samples) {
		dropSamples = len(b.samples)
	}
	b.samples = b.samples[dropSamples:]
	b.offsetSecs += float64(dropSamples) / float64(b.sampleRate)
}

// GetAudio returns a copy of the currently buffered samples and the buffer's
// current offset_seconds.
func (b *Buffer) GetAudio() ([]float32, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out, b.offsetSecs
}

// Clear discards buffered samples but preserves offset_seconds and
// total_duration_seconds bookkeeping.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

// Reset zeroes the buffer entirely, including offset_seconds and
// total_duration_seconds.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
	b.offsetSecs = 0
	b.totalSecs = 0
}

// DurationSeconds returns the duration of samples currently buffered.
func (b *Buffer) DurationSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// OffsetSeconds returns the cumulative duration of samples ever evicted.
func (b *Buffer) OffsetSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offsetSecs
}

// TotalDurationSeconds returns the cumulative duration of every sample ever
// appended, evicted or not.
func (b *Buffer) TotalDurationSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSecs
}

// SamplesInBuffer returns the number of samples currently held.
func (b *Buffer) SamplesInBuffer() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
