package strategy_test

import (
	"context"
	"testing"

	"github.com/arborview/transcriber/internal/strategy"
)

type fakeStreamer struct {
	feedErr     error
	finalizeErr error
	confirmed   string
	tentative   string
	closed      bool
}

func (f *fakeStreamer) FeedAudio(ctx context.Context, chunk []float32) (string, string, error) {
	if f.feedErr != nil {
		return "", "", f.feedErr
	}
	return f.confirmed, f.tentative, nil
}

func (f *fakeStreamer) Finalize(ctx context.Context) (string, error) {
	if f.finalizeErr != nil {
		return "", f.finalizeErr
	}
	return f.confirmed, nil
}

func (f *fakeStreamer) Close() error {
	f.closed = true
	return nil
}

func TestNative_PassesThroughStreamerState(t *testing.T) {
	streamer := &fakeStreamer{confirmed: "hello", tentative: "world"}
	s := strategy.NewNative("s1", streamer)

	ctx := context.Background()
	r, err := s.ProcessAudio(ctx, make([]float32, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ConfirmedText != "hello" || r.TentativeText != "world" {
		t.Fatalf("got %+v", r)
	}

	final, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !final.IsFinal || final.ConfirmedText != "hello" {
		t.Fatalf("got %+v", final)
	}

	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("unexpected cleanup error: %v", err)
	}
	if !streamer.closed {
		t.Fatalf("expected Cleanup to close the streamer")
	}
}

func TestNative_FeedErrorKeepsPreviousResult(t *testing.T) {
	streamer := &fakeStreamer{confirmed: "hello", tentative: "world"}
	s := strategy.NewNative("s1", streamer)

	ctx := context.Background()
	first, _ := s.ProcessAudio(ctx, make([]float32, 100))

	streamer.feedErr = errStreamDown
	second, err := s.ProcessAudio(ctx, make([]float32, 100))
	if err != nil {
		t.Fatalf("streamer errors must not propagate out of ProcessAudio, got %v", err)
	}
	if second != first {
		t.Fatalf("expected unchanged result on streamer failure, got %+v (was %+v)", second, first)
	}
}

var errStreamDown = &streamError{"stream unavailable"}

type streamError struct{ msg string }

func (e *streamError) Error() string { return e.msg }
