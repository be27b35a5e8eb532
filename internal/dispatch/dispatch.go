// Package dispatch routes inbound wire messages from one WebSocket
// connection to session operations, enforcing per-client rate limiting.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/arborview/transcriber/internal/apperr"
	"github.com/arborview/transcriber/internal/registry"
	"github.com/arborview/transcriber/internal/session"
	"github.com/arborview/transcriber/internal/strategy"
	"github.com/arborview/transcriber/internal/wire"
)

// SessionFactory builds a new Session for a start_stream request. It is the
// seam between the dispatcher (wire protocol, rate limiting) and whatever
// wires up strategies, VAD, and backends for a given configuration.
type SessionFactory interface {
	NewSession(cfg session.Config) (*session.Session, error)
	// StrategyName and BackendName describe the stream for the
	// stream_started acknowledgement; they do not affect behavior.
	StrategyName() string
	BackendName() string
}

// Limits configures the dispatcher's rate limiting and the size of the
// semaphore BackendSemaphore returns. Zero values fall back to
// spec-documented defaults.
type Limits struct {
	ChunkRateBurst     int
	ChunkRateSustained float64
	BackendConcurrency int64
}

func (l Limits) withDefaults() Limits {
	if l.ChunkRateBurst == 0 {
		l.ChunkRateBurst = 200
	}
	if l.ChunkRateSustained == 0 {
		l.ChunkRateSustained = 100
	}
	if l.BackendConcurrency == 0 {
		l.BackendConcurrency = 1
	}
	return l
}

// Dispatcher holds the session registry, the session factory, and the
// per-client rate limits; one Dispatcher serves every connection in the
// process.
type Dispatcher struct {
	registry *registry.Registry
	factory  SessionFactory
	limits   Limits
	backend  *semaphore.Weighted
}

// New creates a Dispatcher.
func New(reg *registry.Registry, factory SessionFactory, limits Limits) *Dispatcher {
	limits = limits.withDefaults()
	return &Dispatcher{
		registry: reg,
		factory:  factory,
		limits:   limits,
		backend:  semaphore.NewWeighted(limits.BackendConcurrency),
	}
}

// BackendSemaphore returns a semaphore sized by Limits.BackendConcurrency.
// The dispatcher never acquires it; Transcribe calls are gated by the
// semaphore the session factory hands to backend.NewSerialized.
func (d *Dispatcher) BackendSemaphore() *semaphore.Weighted { return d.backend }

// Serve reads and dispatches messages from one client connection until the
// connection closes or ctx is cancelled. On return, every session owned by
// clientID has been aborted and removed from the registry.
func (d *Dispatcher) Serve(ctx context.Context, conn *websocket.Conn, clientID string) error {
	limiter := rate.NewLimiter(rate.Limit(d.limits.ChunkRateSustained), d.limits.ChunkRateBurst)
	defer d.registry.AbortClient(context.Background(), clientID)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			return fmt.Errorf("dispatch: read: %w", err)
		}

		if msgType == websocket.MessageBinary {
			// Raw binary frames are out of scope for this dispatcher; a
			// deployment that wants binary_stream_sessions framing maps
			// frames to a session out-of-band before calling Serve.
			continue
		}

		var in wire.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			d.sendError(ctx, conn, "", apperr.CodeInternalError, "malformed message")
			continue
		}

		d.handle(ctx, conn, clientID, limiter, in)
	}
}

func (d *Dispatcher) handle(ctx context.Context, conn *websocket.Conn, clientID string, limiter *rate.Limiter, in wire.Inbound) {
	switch in.Type {
	case wire.TypePing:
		d.send(ctx, conn, wire.Pong{Type: wire.TypePong})
	case wire.TypeStartStream:
		d.handleStartStream(ctx, conn, clientID, in)
	case wire.TypePCMChunk, wire.TypeAudioChunk:
		if !limiter.Allow() {
			d.sendError(ctx, conn, in.SessionID, apperr.CodeRateLimited, "chunk rate exceeded")
			return
		}
		d.handleChunk(ctx, conn, in)
	case wire.TypeEndStream:
		d.handleEndStream(ctx, conn, in)
	case wire.TypeAbortStream:
		d.handleAbortStream(ctx, in)
	default:
		d.sendError(ctx, conn, in.SessionID, apperr.CodeInternalError, "unrecognized message type: "+in.Type)
	}
}

func (d *Dispatcher) handleStartStream(ctx context.Context, conn *websocket.Conn, clientID string, in wire.Inbound) {
	sess, err := d.factory.NewSession(session.Config{
		ID:         in.SessionID,
		ClientID:   clientID,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
	})
	if err != nil {
		d.sendError(ctx, conn, in.SessionID, apperr.CodeInternalError, err.Error())
		return
	}
	if err := d.registry.Register(sess); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			d.sendError(ctx, conn, in.SessionID, appErr.Code, appErr.Message)
			return
		}
		d.sendError(ctx, conn, in.SessionID, apperr.CodeInternalError, err.Error())
		return
	}

	wakeWordEnabled := in.WakeWordEnabled != nil && *in.WakeWordEnabled
	d.send(ctx, conn, wire.StreamStarted{
		Type:             wire.TypeStreamStarted,
		SessionID:        in.SessionID,
		Strategy:         d.factory.StrategyName(),
		Backend:          d.factory.BackendName(),
		StreamingEnabled: true,
		WakeWordEnabled:  wakeWordEnabled,
	})
}

func (d *Dispatcher) handleChunk(ctx context.Context, conn *websocket.Conn, in wire.Inbound) {
	sess, err := d.registry.Get(in.SessionID)
	if err != nil {
		d.sendApperr(ctx, conn, in.SessionID, err)
		return
	}
	d.registry.Touch(in.SessionID)

	raw, err := base64.StdEncoding.DecodeString(in.AudioData)
	if err != nil {
		d.sendError(ctx, conn, in.SessionID, apperr.CodeDecodeError, "invalid base64 audio_data")
		return
	}

	var (
		result strategy.Result
		opErr  error
	)
	switch in.Type {
	case wire.TypePCMChunk:
		pcm := bytesToInt16LE(raw)
		result, opErr = sess.FeedPCM(ctx, pcm, in.SampleRate, in.Channels)
	case wire.TypeAudioChunk:
		result, opErr = sess.FeedOpus(ctx, raw)
	}
	if opErr != nil {
		d.sendApperr(ctx, conn, in.SessionID, opErr)
		return
	}

	d.send(ctx, conn, wire.ChunkReceived{
		Type:           wire.TypeChunkReceived,
		SessionID:      in.SessionID,
		SamplesDecoded: len(raw) / 2,
		TotalDuration:  result.AudioDuration,
	})
	if result.ConfirmedText != "" || result.TentativeText != "" {
		d.send(ctx, conn, wire.PartialResult{
			Type:          wire.TypePartialResult,
			SessionID:     in.SessionID,
			ConfirmedText: result.ConfirmedText,
			TentativeText: result.TentativeText,
			IsFinal:       false,
		})
	}
}

func (d *Dispatcher) handleEndStream(ctx context.Context, conn *websocket.Conn, in wire.Inbound) {
	sess, err := d.registry.Get(in.SessionID)
	if err != nil {
		d.sendApperr(ctx, conn, in.SessionID, err)
		return
	}

	result, err := sess.End(ctx)
	d.registry.Remove(in.SessionID)
	if err != nil {
		d.sendError(ctx, conn, in.SessionID, apperr.CodeInternalError, err.Error())
		return
	}

	msg := wire.StreamTranscriptionComplete{
		Type:          wire.TypeStreamTranscriptionComplete,
		SessionID:     in.SessionID,
		ConfirmedText: result.ConfirmedText,
		AudioDuration: result.AudioDuration,
		Language:      result.Language,
		Backend:       d.factory.BackendName(),
		Success:       result.Success,
	}
	if !result.Success {
		msg.Error = result.Error
	}
	d.send(ctx, conn, msg)
}

func (d *Dispatcher) handleAbortStream(ctx context.Context, in wire.Inbound) {
	sess, err := d.registry.Get(in.SessionID)
	if err != nil {
		return
	}
	sess.Abort(ctx)
	d.registry.Remove(in.SessionID)
}

func (d *Dispatcher) sendApperr(ctx context.Context, conn *websocket.Conn, sessionID string, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		d.sendError(ctx, conn, sessionID, appErr.Code, appErr.Message)
		return
	}
	d.sendError(ctx, conn, sessionID, apperr.CodeInternalError, err.Error())
}

func (d *Dispatcher) sendError(ctx context.Context, conn *websocket.Conn, sessionID string, code apperr.Code, message string) {
	d.send(ctx, conn, wire.ErrorMessage{
		Type:      wire.TypeError,
		SessionID: sessionID,
		Code:      string(code),
		Message:   message,
	})
}

func (d *Dispatcher) send(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("dispatch: marshal outbound message failed", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("dispatch: write failed", "error", err)
	}
}

func bytesToInt16LE(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return out
}
