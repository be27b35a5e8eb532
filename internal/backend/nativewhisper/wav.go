package nativewhisper

import (
	"encoding/binary"
	"fmt"
)

// decodeWAV parses a canonical RIFF/WAV container holding 16-bit signed
// little-endian mono PCM (the shape every strategy in this codebase
// produces) and returns float32 samples in [-1, 1] plus the declared sample
// rate.
func decodeWAV(wav []byte) ([]float32, int, error) {
	if len(wav) < 44 {
		return nil, 0, fmt.Errorf("nativewhisper: wav too short (%d bytes)", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("nativewhisper: not a RIFF/WAVE container")
	}

	sampleRate := int(binary.LittleEndian.Uint32(wav[24:28]))
	bitsPerSample := binary.LittleEndian.Uint16(wav[34:36])
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("nativewhisper: unsupported bits-per-sample %d", bitsPerSample)
	}

	dataSize := int(binary.LittleEndian.Uint32(wav[40:44]))
	if 44+dataSize > len(wav) {
		dataSize = len(wav) - 44
	}
	pcm := wav[44 : 44+dataSize]

	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, sampleRate, nil
}
