package vad_test

import (
	"testing"

	"github.com/arborview/transcriber/internal/vad"
)

func defaultConfig() vad.Config {
	return vad.Config{
		Threshold:           0.5,
		Hysteresis:          0.15,
		MinSpeechChunks:     2,
		MinSpeechDurationS:  0.3,
		MaxSilenceDurationS: 0.8,
		ChunksPerSecond:     10,
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     vad.Config
		wantErr bool
	}{
		{"valid", defaultConfig(), false},
		{"threshold too high", vad.Config{Threshold: 1.5, Hysteresis: 0.1, MinSpeechChunks: 1}, true},
		{"hysteresis not less than threshold", vad.Config{Threshold: 0.5, Hysteresis: 0.5, MinSpeechChunks: 1}, true},
		{"min speech chunks zero", vad.Config{Threshold: 0.5, Hysteresis: 0.1, MinSpeechChunks: 0}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: got err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

// S4 — VAD utterance detection.
func TestUtteranceDetection_S4(t *testing.T) {
	p := vad.New(defaultConfig())

	var completions int
	var lastDuration float64

	for range 10 {
		r := p.Process(0.7)
		if r.UtteranceComplete {
			completions++
		}
	}
	for range 10 {
		r := p.Process(0.1)
		if r.UtteranceComplete {
			completions++
			lastDuration = r.SpeechDurationS
		}
	}

	if completions != 1 {
		t.Fatalf("got %d utterance_complete events, want exactly 1", completions)
	}
	if lastDuration < 0.9 || lastDuration > 1.1 {
		t.Fatalf("speech_duration at completion = %f, want ~1.0s", lastDuration)
	}
}

// Property 4 from spec.md §8: any probability trace strictly inside the
// hysteresis band produces zero state transitions.
func TestHysteresisBand_NoTransitions(t *testing.T) {
	p := vad.New(defaultConfig())
	// Force into SPEECH first.
	p.Process(0.9)
	p.Process(0.9)
	if p.CurrentState() != vad.StateSpeech {
		t.Fatalf("expected SPEECH state after 2 above-threshold chunks")
	}

	// Band is [0.35, 0.5]. Feed many samples strictly inside it.
	for range 50 {
		r := p.Process(0.42)
		if r.State != vad.StateSpeech {
			t.Fatalf("state changed inside hysteresis band: %v", r.State)
		}
		if r.UtteranceComplete {
			t.Fatalf("utterance completed inside hysteresis band")
		}
	}
}

func TestTooShortUtterance_DiscardedSilently(t *testing.T) {
	// min_speech_duration_s is deliberately larger than the span covered by
	// min_speech_chunks + the silence chunks required to end the utterance,
	// so the utterance is evaluated as too short once silence accumulates.
	cfg := vad.Config{
		Threshold:           0.5,
		Hysteresis:          0.15,
		MinSpeechChunks:     2,
		MinSpeechDurationS:  2.0,
		MaxSilenceDurationS: 0.5,
		ChunksPerSecond:     10,
	}
	p := vad.New(cfg)
	p.Process(0.9)
	p.Process(0.9) // now SPEECH

	var completions int
	for range 10 { // far more than the 5 silence chunks required to end it
		r := p.Process(0.0)
		if r.UtteranceComplete {
			completions++
		}
	}
	if completions != 0 {
		t.Fatalf("expected utterance too short to be discarded silently, got %d completions", completions)
	}
	if p.CurrentState() != vad.StateWaiting {
		t.Fatalf("expected WAITING after discard, got %v", p.CurrentState())
	}
}

func TestSubThresholdNeverEntersSpeech(t *testing.T) {
	p := vad.New(defaultConfig())
	for range 100 {
		r := p.Process(0.1)
		if r.IsSpeech {
			t.Fatalf("never should report speech below threshold")
		}
	}
	if p.CurrentState() != vad.StateWaiting {
		t.Fatalf("expected WAITING, got %v", p.CurrentState())
	}
}

func TestReset_ClearsState(t *testing.T) {
	p := vad.New(defaultConfig())
	p.Process(0.9)
	p.Process(0.9)
	if p.CurrentState() != vad.StateSpeech {
		t.Fatalf("expected SPEECH before reset")
	}
	p.Reset()
	if p.CurrentState() != vad.StateWaiting {
		t.Fatalf("expected WAITING after reset")
	}
}
