// Package wakeword implements the optional wake-word gate's detection
// model: the openWakeWord three-stage pipeline (melspectrogram →
// embedding → wakeword score) run over the same float32 audio chunks the
// session feeds every other stage of the pipeline.
//
// Unlike a microphone-attached wake-word listener, this detector never
// captures audio itself — chunks already arrive through the session's
// FeedPCM/FeedOpus path, so Detect only needs to run model inference, not
// own a capture device.
package wakeword

import (
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	chunkSamples  = 1280 // 80 ms @ 16 kHz, the pipeline's native frame size
	melBins       = 32
	nMelFrames    = 5
	melWindowSize = 76
	melStepSize   = 8
	embeddingDim  = 96
	nEmbedFrames  = 16
	recentWindow  = 5 // only the most recent embedding slots are scored; the rest are masked to zero

	scoreWindowSize = 5 // trailing max-score window, ~400ms, absorbs frame-alignment jitter
)

// Config holds the model paths and tuning knobs for a Detector.
type Config struct {
	// Model paths (required). OnnxLib is the path to the ONNX Runtime
	// shared library; it is set process-wide on the first Detector created.
	MelspecModel   string
	EmbeddingModel string
	WakewordModel  string
	OnnxLib        string

	// Phrase is reported on a match; it does not affect scoring, since a
	// single Detector is built against one trained wakeword model.
	Phrase string

	// Threshold is the score (0,1] a window-max must reach to count as a
	// match. Default 0.5.
	Threshold float64

	// Cooldown is the minimum time between reported detections. Default
	// 1.5s.
	Cooldown time.Duration
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 1500 * time.Millisecond
	}
}

var onnxInitOnce sync.Once

// Detector scores incoming audio chunks against a trained wakeword model.
// It implements session.WakeWordDetector. A Detector is not safe for
// concurrent Detect calls from multiple goroutines — a session only ever
// calls Detect from its own locked feedChunk path, so this mirrors that
// single-writer assumption rather than adding a redundant mutex.
type Detector struct {
	cfg Config

	melspecSess *ort.AdvancedSession
	melspecIn   *ort.Tensor[float32]
	melspecOut  *ort.Tensor[float32]

	embedSess *ort.AdvancedSession
	embedIn   *ort.Tensor[float32]
	embedOut  *ort.Tensor[float32]

	wwSess *ort.AdvancedSession
	wwIn   *ort.Tensor[float32]
	wwOut  *ort.Tensor[float32]

	melBuffer   []float32
	embedBuffer []float32
	audioRem    []float32

	scores scoreTracker
}

// scoreTracker holds the trailing max-score window and cooldown gate,
// isolated from ONNX inference so the triggering logic can be tested
// without a loaded model.
type scoreTracker struct {
	window     [scoreWindowSize]float32
	idx        int
	lastDetect time.Time
}

// observe records score and reports whether the trailing window's max has
// crossed threshold outside the cooldown period. On trigger, the window is
// cleared so the same peak cannot re-trigger on the next frame.
func (t *scoreTracker) observe(score float32, threshold float64, cooldown time.Duration, now time.Time) (maxScore float32, trigger bool) {
	t.window[t.idx%scoreWindowSize] = score
	t.idx++

	for _, s := range t.window {
		if s > maxScore {
			maxScore = s
		}
	}

	if float64(maxScore) >= threshold && now.Sub(t.lastDetect) > cooldown {
		t.lastDetect = now
		for i := range t.window {
			t.window[i] = 0
		}
		return maxScore, true
	}
	return maxScore, false
}

// New loads the three ONNX models and returns a ready-to-use Detector.
// ONNX Runtime is initialized once per process on the first call.
func New(cfg Config) (*Detector, error) {
	cfg.defaults()

	var initErr error
	onnxInitOnce.Do(func() {
		if cfg.OnnxLib != "" {
			ort.SetSharedLibraryPath(cfg.OnnxLib)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("wakeword: initialize onnx runtime: %w", initErr)
	}

	d := &Detector{
		cfg:         cfg,
		embedBuffer: make([]float32, nEmbedFrames*embeddingDim),
	}

	var err error
	d.melspecIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, chunkSamples))
	if err != nil {
		return nil, fmt.Errorf("wakeword: melspec input tensor: %w", err)
	}
	d.melspecOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, nMelFrames, melBins))
	if err != nil {
		return nil, fmt.Errorf("wakeword: melspec output tensor: %w", err)
	}
	msIn, msOut, err := ort.GetInputOutputInfo(cfg.MelspecModel)
	if err != nil {
		return nil, fmt.Errorf("wakeword: melspec model info: %w", err)
	}
	d.melspecSess, err = ort.NewAdvancedSession(cfg.MelspecModel,
		[]string{msIn[0].Name}, []string{msOut[0].Name},
		[]ort.Value{d.melspecIn}, []ort.Value{d.melspecOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("wakeword: melspec session: %w", err)
	}

	d.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindowSize, melBins, 1))
	if err != nil {
		return nil, fmt.Errorf("wakeword: embedding input tensor: %w", err)
	}
	d.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim))
	if err != nil {
		return nil, fmt.Errorf("wakeword: embedding output tensor: %w", err)
	}
	emIn, emOut, err := ort.GetInputOutputInfo(cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("wakeword: embedding model info: %w", err)
	}
	d.embedSess, err = ort.NewAdvancedSession(cfg.EmbeddingModel,
		[]string{emIn[0].Name}, []string{emOut[0].Name},
		[]ort.Value{d.embedIn}, []ort.Value{d.embedOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("wakeword: embedding session: %w", err)
	}

	d.wwIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, nEmbedFrames, embeddingDim))
	if err != nil {
		return nil, fmt.Errorf("wakeword: wakeword input tensor: %w", err)
	}
	d.wwOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return nil, fmt.Errorf("wakeword: wakeword output tensor: %w", err)
	}
	wwIn, wwOut, err := ort.GetInputOutputInfo(cfg.WakewordModel)
	if err != nil {
		return nil, fmt.Errorf("wakeword: wakeword model info: %w", err)
	}
	d.wwSess, err = ort.NewAdvancedSession(cfg.WakewordModel,
		[]string{wwIn[0].Name}, []string{wwOut[0].Name},
		[]ort.Value{d.wwIn}, []ort.Value{d.wwOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("wakeword: wakeword session: %w", err)
	}

	return d, nil
}

// Detect implements session.WakeWordDetector. chunk is appended to the
// pipeline's internal frame buffer; every full 80ms frame runs through
// melspectrogram, embedding, and wakeword scoring. matched is true at most
// once per Cooldown window.
func (d *Detector) Detect(chunk []float32) (phrase string, confidence float64, matched bool) {
	d.audioRem = append(d.audioRem, chunk...)

	for len(d.audioRem) >= chunkSamples {
		frame := d.audioRem[:chunkSamples]
		n := copy(d.audioRem, d.audioRem[chunkSamples:])
		d.audioRem = d.audioRem[:n]

		if p, c, m := d.runFrame(frame); m {
			phrase, confidence, matched = p, c, m
		}
	}
	return phrase, confidence, matched
}

// runFrame pushes one chunkSamples-length frame through all three models
// and returns a detection if the trailing score window crosses threshold.
func (d *Detector) runFrame(frame []float32) (string, float64, bool) {
	copy(d.melspecIn.GetData(), frame)
	if err := d.melspecSess.Run(); err != nil {
		return "", 0, false
	}

	melOut := d.melspecOut.GetData()
	for f := 0; f < nMelFrames; f++ {
		for b := 0; b < melBins; b++ {
			idx := f*melBins + b
			if idx < len(melOut) {
				d.melBuffer = append(d.melBuffer, melOut[idx]/10.0+2.0)
			}
		}
	}

	newEmbed := false
	for len(d.melBuffer)/melBins >= melWindowSize {
		copy(d.embedIn.GetData(), d.melBuffer[:melWindowSize*melBins])
		if err := d.embedSess.Run(); err != nil {
			break
		}
		eOut := d.embedOut.GetData()

		copy(d.embedBuffer, d.embedBuffer[embeddingDim:])
		copy(d.embedBuffer[(nEmbedFrames-1)*embeddingDim:], eOut[:embeddingDim])
		newEmbed = true

		n := copy(d.melBuffer, d.melBuffer[melStepSize*melBins:])
		d.melBuffer = d.melBuffer[:n]
	}
	if totalMel := len(d.melBuffer) / melBins; totalMel > melWindowSize {
		excess := (totalMel - melWindowSize) * melBins
		n := copy(d.melBuffer, d.melBuffer[excess:])
		d.melBuffer = d.melBuffer[:n]
	}
	if !newEmbed {
		return "", 0, false
	}

	// Mask all but the most recent embedding slots to zero before scoring;
	// the model was trained expecting a fresh-launch zero-padded history.
	wwData := d.wwIn.GetData()
	padSlots := nEmbedFrames - recentWindow
	for i := 0; i < padSlots*embeddingDim; i++ {
		wwData[i] = 0
	}
	copy(wwData[padSlots*embeddingDim:], d.embedBuffer[padSlots*embeddingDim:])
	if err := d.wwSess.Run(); err != nil {
		return "", 0, false
	}

	score := d.wwOut.GetData()[0]
	maxScore, trigger := d.scores.observe(score, d.cfg.Threshold, d.cfg.Cooldown, time.Now())
	if trigger {
		return d.cfg.Phrase, float64(maxScore), true
	}
	return "", 0, false
}

// Close releases the underlying ONNX sessions and tensors. Safe to call
// once per Detector; it does not tear down the process-wide ONNX Runtime
// environment, since other Detectors may still be using it.
func (d *Detector) Close() error {
	d.melspecSess.Destroy()
	d.melspecIn.Destroy()
	d.melspecOut.Destroy()
	d.embedSess.Destroy()
	d.embedIn.Destroy()
	d.embedOut.Destroy()
	d.wwSess.Destroy()
	d.wwIn.Destroy()
	d.wwOut.Destroy()
	return nil
}
