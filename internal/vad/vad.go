// Package vad implements the voice-activity-detection state machine that
// turns a stream of per-chunk speech-probability scores into utterance
// boundaries. It does not itself compute those scores — the probability
// model (Silero, WebRTC VAD, or otherwise) is an external collaborator, out
// of scope for this package; vad.Processor only owns the WAITING/SPEECH/
// TRAILING state machine and its hysteresis band.
package vad

import "fmt"

// State enumerates the VAD processor's utterance states.
type State int

const (
	// StateWaiting is silence with no active utterance.
	StateWaiting State = iota
	// StateSpeech is an utterance in progress.
	StateSpeech
	// StateTrailing is reserved for future differentiation; today it
	// behaves identically to StateSpeech. No transition currently enters
	// this state — it exists so a future revision can distinguish a
	// trailing-speech phase without changing the public enum.
	StateTrailing
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateSpeech:
		return "SPEECH"
	case StateTrailing:
		return "TRAILING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the VAD processor's thresholds. All durations are seconds,
// ChunksPerSecond is the rate at which Process is called for a session.
type Config struct {
	Threshold           float64
	Hysteresis          float64
	MinSpeechChunks     int
	MinSpeechDurationS  float64
	MaxSilenceDurationS float64
	ChunksPerSecond     float64
}

// Validate checks the invariants spec.md places on a VADConfig.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("vad: threshold %f out of [0,1]", c.Threshold)
	}
	if c.Hysteresis <= 0 || c.Hysteresis >= c.Threshold {
		return fmt.Errorf("vad: hysteresis %f must be in (0, threshold=%f)", c.Hysteresis, c.Threshold)
	}
	if c.MinSpeechChunks < 1 {
		return fmt.Errorf("vad: min_speech_chunks must be >= 1, got %d", c.MinSpeechChunks)
	}
	return nil
}

// Result is the per-chunk output of Processor.Process.
type Result struct {
	State             State
	IsSpeech          bool
	UtteranceComplete bool
	SpeechDurationS   float64
	ShouldBuffer      bool
}

// Processor is a single session's VAD state machine. Not safe for concurrent
// use; a Session drives its Processor from one goroutine.
type Processor struct {
	cfg Config

	state              State
	consecutiveSpeech  int
	consecutiveSilence int
	speechChunks       int // chunks counted as part of the current utterance
	requiredSilence    int
}

// New creates a Processor for one session. cfg must already be validated.
func New(cfg Config) *Processor {
	required := int(cfg.MaxSilenceDurationS * cfg.ChunksPerSecond)
	if required < 1 {
		required = 1
	}
	return &Processor{cfg: cfg, state: StateWaiting, requiredSilence: required}
}

// Process advances the state machine by one chunk carrying the given speech
// probability and returns the detection result for that chunk.
func (p *Processor) Process(probability float64) Result {
	switch p.state {
	case StateWaiting:
		return p.processWaiting(probability)
	default: // StateSpeech, StateTrailing
		return p.processSpeech(probability)
	}
}

func (p *Processor) processWaiting(probability float64) Result {
	if probability > p.cfg.Threshold {
		p.consecutiveSpeech++
		if p.consecutiveSpeech >= p.cfg.MinSpeechChunks {
			// Transition to SPEECH. Backdate the utterance start to capture
			// the attack: the chunks that built up consecutiveSpeech were
			// already speech, we just hadn't confirmed it yet.
			p.state = StateSpeech
			p.speechChunks = p.cfg.MinSpeechChunks
			p.consecutiveSilence = 0
			return Result{
				State:           StateSpeech,
				IsSpeech:        true,
				SpeechDurationS: float64(p.speechChunks) / p.cfg.ChunksPerSecond,
				ShouldBuffer:    true,
			}
		}
		return Result{State: StateWaiting, IsSpeech: false}
	}
	p.consecutiveSpeech = 0
	return Result{State: StateWaiting, IsSpeech: false}
}

func (p *Processor) processSpeech(probability float64) Result {
	low := p.cfg.Threshold - p.cfg.Hysteresis

	switch {
	case probability > p.cfg.Threshold:
		// Clearly still speech.
		p.consecutiveSilence = 0
		p.speechChunks++
		return Result{
			State:           p.state,
			IsSpeech:        true,
			SpeechDurationS: p.speechDuration(),
			ShouldBuffer:    true,
		}

	case probability < low:
		// Clearly silence: accumulate toward max_silence_duration_s. These
		// chunks do not extend speechChunks — speech_duration reports the
		// span of genuinely speech-classified audio, not the confirmation
		// tail spent waiting for max_silence_duration_s to elapse.
		p.consecutiveSilence++
		if p.consecutiveSilence < p.requiredSilence {
			return Result{
				State:           p.state,
				IsSpeech:        false,
				SpeechDurationS: p.speechDuration(),
				ShouldBuffer:    true,
			}
		}

		// Enough silence accumulated: decide whether this utterance is long
		// enough to report.
		duration := p.speechDuration()
		complete := duration >= p.cfg.MinSpeechDurationS
		p.reset()
		return Result{
			State:             StateWaiting,
			IsSpeech:          false,
			UtteranceComplete: complete,
			SpeechDurationS:   duration,
			ShouldBuffer:      false,
		}

	default:
		// Hysteresis band ([threshold-hysteresis, threshold]): treated as
		// still-speech, same as the clearly-above-threshold case. This
		// dead band is what prevents probabilities oscillating near the
		// threshold from accumulating silence and ending the utterance.
		p.consecutiveSilence = 0
		p.speechChunks++
		return Result{
			State:           p.state,
			IsSpeech:        true,
			SpeechDurationS: p.speechDuration(),
			ShouldBuffer:    true,
		}
	}
}

func (p *Processor) speechDuration() float64 {
	return float64(p.speechChunks) / p.cfg.ChunksPerSecond
}

func (p *Processor) reset() {
	p.state = StateWaiting
	p.consecutiveSpeech = 0
	p.consecutiveSilence = 0
	p.speechChunks = 0
}

// Reset clears all accumulated detection state without closing the
// processor, mirroring the reset semantics of a stateful VAD session.
func (p *Processor) Reset() {
	p.reset()
}

// CurrentState reports the processor's current state.
func (p *Processor) CurrentState() State {
	return p.state
}
