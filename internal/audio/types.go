// Package audio implements the codec layer that turns a client's wire bytes
// into float32 PCM at 16 kHz mono: Opus decoding with per-session decoder
// state, sample-rate validation, downmixing, and linear-interpolation
// resampling.
package audio

import "fmt"

// SupportedSampleRate reports whether rate is one of the source rates this
// package accepts from clients.
func SupportedSampleRate(rate int) bool {
	return rate == 8000 || rate == 16000
}

// TargetSampleRate is the sample rate all normalized PCM is resampled to.
const TargetSampleRate = 16000

// ErrUnsupportedSampleRate is returned by NormalizePCM when the source rate
// is not in {8000, 16000}.
type ErrUnsupportedSampleRate struct {
	Rate int
}

func (e *ErrUnsupportedSampleRate) Error() string {
	return fmt.Sprintf("audio: unsupported sample rate %d (want 8000 or 16000)", e.Rate)
}

// ErrDecode wraps an underlying Opus decode failure. The session that
// produced it must survive: the caller drops the offending packet and keeps
// using the same per-session decoder for subsequent packets.
type ErrDecode struct {
	SessionID string
	Cause     error
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("audio: decode opus for session %s: %v", e.SessionID, e.Cause)
}

func (e *ErrDecode) Unwrap() error { return e.Cause }
