package wakeword

import (
	"testing"
	"time"
)

func TestConfig_DefaultsAppliedWhenUnset(t *testing.T) {
	cfg := Config{}
	cfg.defaults()
	if cfg.Threshold != 0.5 {
		t.Errorf("default threshold: got %v, want 0.5", cfg.Threshold)
	}
	if cfg.Cooldown != 1500*time.Millisecond {
		t.Errorf("default cooldown: got %v, want 1.5s", cfg.Cooldown)
	}
}

func TestConfig_DefaultsPreserveExplicitValues(t *testing.T) {
	cfg := Config{Threshold: 0.8, Cooldown: 3 * time.Second}
	cfg.defaults()
	if cfg.Threshold != 0.8 {
		t.Errorf("threshold overwritten: got %v, want 0.8", cfg.Threshold)
	}
	if cfg.Cooldown != 3*time.Second {
		t.Errorf("cooldown overwritten: got %v, want 3s", cfg.Cooldown)
	}
}

func TestScoreTracker_TriggersWhenWindowMaxCrossesThreshold(t *testing.T) {
	var tr scoreTracker
	now := time.Unix(0, 0)

	if _, trigger := tr.observe(0.1, 0.5, time.Second, now); trigger {
		t.Fatal("expected no trigger for a low score")
	}
	if _, trigger := tr.observe(0.9, 0.5, time.Second, now.Add(10*time.Millisecond)); !trigger {
		t.Fatal("expected trigger once a score exceeds threshold")
	}
}

func TestScoreTracker_WindowMaxSurvivesAcrossFrames(t *testing.T) {
	var tr scoreTracker
	now := time.Unix(0, 0)

	// A single high score several frames back should still count toward
	// the window's max on a later frame within the window size. The
	// threshold sits above the peak, so no trigger clears the window.
	tr.observe(0.9, 0.95, time.Second, now)
	tr.observe(0.1, 0.95, time.Second, now.Add(1*time.Millisecond))
	maxScore, _ := tr.observe(0.1, 0.95, time.Second, now.Add(2*time.Millisecond))
	if maxScore != 0.9 {
		t.Fatalf("window max = %v, want 0.9: expected the earlier peak to still be within the trailing window", maxScore)
	}
}

func TestScoreTracker_RespectsCooldown(t *testing.T) {
	var tr scoreTracker
	now := time.Unix(0, 0)

	_, first := tr.observe(0.9, 0.5, time.Second, now)
	if !first {
		t.Fatal("expected first high score to trigger")
	}
	_, second := tr.observe(0.9, 0.5, time.Second, now.Add(100*time.Millisecond))
	if second {
		t.Fatal("expected second trigger within cooldown to be suppressed")
	}
	_, third := tr.observe(0.9, 0.5, time.Second, now.Add(2*time.Second))
	if !third {
		t.Fatal("expected trigger to fire again once cooldown has elapsed")
	}
}

func TestScoreTracker_ClearsWindowOnTrigger(t *testing.T) {
	var tr scoreTracker
	now := time.Unix(0, 0)

	tr.observe(0.9, 0.5, 0, now)
	// Immediately after a trigger (with zero cooldown) the window was
	// cleared, so a single moderate score should not re-trigger.
	_, trigger := tr.observe(0.2, 0.5, 0, now.Add(time.Millisecond))
	if trigger {
		t.Fatal("expected cleared window to require a fresh high score to re-trigger")
	}
}

func TestDetect_BuffersPartialFramesAcrossCalls(t *testing.T) {
	// A Detector with no loaded ONNX sessions should simply accumulate
	// audio below chunkSamples without attempting to run inference.
	d := &Detector{}
	half := make([]float32, chunkSamples/2)
	phrase, confidence, matched := d.Detect(half)
	if matched {
		t.Fatal("expected no match before a full frame has accumulated")
	}
	if phrase != "" || confidence != 0 {
		t.Errorf("expected zero-value outputs on no match, got phrase=%q confidence=%v", phrase, confidence)
	}
	if len(d.audioRem) != chunkSamples/2 {
		t.Errorf("expected partial frame retained: got %d samples, want %d", len(d.audioRem), chunkSamples/2)
	}
}
