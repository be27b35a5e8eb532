package audio

// NormalizePCM validates sourceRate, downmixes multi-channel int16 PCM to
// mono, resamples to TargetSampleRate by linear interpolation, and converts
// to float32 samples in [-1.0, 1.0]. sourceRate must be 8000 or 16000;
// anything else fails with ErrUnsupportedSampleRate.
func NormalizePCM(samples []int16, sourceRate, channels int) ([]float32, error) {
	if !SupportedSampleRate(sourceRate) {
		return nil, &ErrUnsupportedSampleRate{Rate: sourceRate}
	}
	if channels <= 0 {
		channels = 1
	}

	mono := samples
	if channels > 1 {
		mono = downmix(samples, channels)
	}

	if sourceRate != TargetSampleRate {
		mono = resampleLinear(mono, sourceRate, TargetSampleRate)
	}

	out := make([]float32, len(mono))
	for i, s := range mono {
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// downmix averages all channels of an interleaved int16 signal down to mono.
func downmix(samples []int16, channels int) []int16 {
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		avg := sum / int32(channels)
		out[i] = int16(avg)
	}
	return out
}

// resampleLinear resamples mono int16 PCM from srcRate to dstRate by linear
// interpolation between neighboring samples. For the 8kHz -> 16kHz case this
// produces exactly 2x the input sample count.
func resampleLinear(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := len(samples) * dstRate / srcRate
	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := samples[idx]
		var s1 int16
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		} else {
			s1 = s0
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
