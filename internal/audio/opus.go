package audio

import (
	"fmt"
	"sync"

	"layeh.com/gopus"
)

// opusFrameMs is the frame duration this decoder assumes per packet. Clients
// are expected to send one Opus frame per packet at this duration; a session
// that sends variable frame sizes still decodes correctly because gopus
// derives the sample count from the packet itself when frameSize is
// sufficiently generous.
const opusFrameMs = 60

// OpusDecoder wraps a gopus decoder and owns all state needed to decode a
// single session's packet stream. Exactly one OpusDecoder must exist per
// session: Opus is a stateful codec and decoding packets from two sessions
// through the same decoder corrupts both streams.
type OpusDecoder struct {
	mu         sync.Mutex
	dec        *gopus.Decoder
	sessionID  string
	sampleRate int
	channels   int
	frameSize  int
}

// NewOpusDecoder creates a decoder for one session's Opus stream at the given
// sample rate and channel count (as declared by that session's start_stream
// message). sessionID is attached to any Decode failure so the caller can
// log which session's stream is misbehaving without threading it through
// every call.
func NewOpusDecoder(sessionID string, sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sessionID:  sessionID,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * opusFrameMs / 1000,
	}, nil
}

// Decode decodes one Opus packet into interleaved little-endian int16 PCM.
// A malformed packet returns an *ErrDecode but leaves the decoder's internal
// state intact for the next call — the caller drops the chunk and keeps
// going, per the codec layer's contract.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, &ErrDecode{SessionID: d.sessionID, Cause: err}
	}
	return pcm, nil
}
