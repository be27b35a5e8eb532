package audio

import "encoding/binary"

const wavBitsPerSample = 16

// EncodeWAV wraps mono float32 samples in [-1, 1] in a standard RIFF/WAV
// container of 16-bit signed little-endian PCM, suitable for handing to a
// batch ASR backend.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(clamp(s) * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(v))
	}
	return encodeWAVContainer(pcm, sampleRate, 1)
}

func clamp(f float32) float32 {
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	default:
		return f
	}
}

func encodeWAVContainer(pcm []byte, sampleRate, channels int) []byte {
	bps := wavBitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
