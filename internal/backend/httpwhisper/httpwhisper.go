// Package httpwhisper implements backend.Backend against a running
// whisper.cpp server binary (which exposes a REST API at POST /inference).
// Unlike a batch-per-utterance client, this backend is invoked once per
// streaming transcription pass with whatever audio the strategy has
// accumulated so far, conditioned by a prompt suffix of prior confirmed text.
package httpwhisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arborview/transcriber/internal/backend"
	"github.com/arborview/transcriber/internal/hypothesis"
)

// Compile-time assertion that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithTimeout overrides the HTTP client timeout. Defaults to 30s; callers
// should normally prefer bounding the call via the context passed to
// Transcribe (transcription.timeout_seconds) instead.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// Backend transcribes audio by POSTing WAV clips to a whisper.cpp HTTP
// server. Safe for concurrent use; the server itself is expected to
// serialize inference (the backend.Serialized wrapper's shared semaphore
// enforces this on the client side regardless).
type Backend struct {
	serverURL  string
	model      string
	httpClient *http.Client

	ready atomic.Bool
}

// New creates a Backend that talks to the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, errors.New("httpwhisper: serverURL must not be empty")
	}
	b := &Backend{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "httpwhisper" }

// Load verifies the whisper.cpp server is reachable by requesting its root
// endpoint. whisper.cpp keeps the model resident in the server process, so
// there is nothing further to load client-side.
func (b *Backend) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("httpwhisper: build health request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpwhisper: server unreachable: %w", err)
	}
	resp.Body.Close()
	b.ready.Store(true)
	return nil
}

// IsReady implements backend.Backend.
func (b *Backend) IsReady() bool { return b.ready.Load() }

// Close implements backend.Backend. The HTTP client owns no resources that
// need releasing.
func (b *Backend) Close() error { return nil }

// Transcribe encodes wav (already a WAV container) as multipart/form-data
// and posts it to the whisper.cpp /inference endpoint, requesting
// word-level timestamps via verbose_json.
func (b *Backend) Transcribe(ctx context.Context, wav []byte, promptText, language string) (backend.Result, error) {
	if !b.IsReady() {
		return backend.Result{}, backend.ErrNotReady
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: write response_format field: %w", err)
	}
	if err := mw.WriteField("word_timestamps", "true"); err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: write word_timestamps field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return backend.Result{}, fmt.Errorf("httpwhisper: write language field: %w", err)
		}
	}
	if b.model != "" {
		if err := mw.WriteField("model", b.model); err != nil {
			return backend.Result{}, fmt.Errorf("httpwhisper: write model field: %w", err)
		}
	}
	if promptText != "" {
		if err := mw.WriteField("prompt", promptText); err != nil {
			return backend.Result{}, fmt.Errorf("httpwhisper: write prompt field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: close multipart writer: %w", err)
	}

	endpoint := b.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backend.Result{}, fmt.Errorf("httpwhisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: read response body: %w", err)
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return backend.Result{}, fmt.Errorf("httpwhisper: parse JSON response: %w", err)
	}

	return backend.Result{Text: parsed.Text, Words: parsed.words()}, nil
}

// inferenceResponse mirrors the subset of the whisper.cpp server's
// verbose_json /inference response this backend consumes.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string `json:"text"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

func (r inferenceResponse) words() []hypothesis.TimestampedWord {
	var out []hypothesis.TimestampedWord
	for _, seg := range r.Segments {
		for _, w := range seg.Words {
			out = append(out, hypothesis.TimestampedWord{
				Text:       w.Word,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Probability,
			})
		}
	}
	return out
}

