package audio

// PCM16FromSamples converts normalized float32 samples ([-1, 1]) to 16-bit
// PCM, clamping out-of-range values instead of wrapping. The scale factor
// matches SamplesFromPCM16 so a round trip only loses quantization bits.
func PCM16FromSamples(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// SamplesFromPCM16 converts 16-bit PCM to normalized float32 samples.
func SamplesFromPCM16(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768
	}
	return out
}
