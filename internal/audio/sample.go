package audio

import "math"

// SampleRing is a ring buffer of float32 audio samples with the signal
// measurements the leakage discriminator needs. The embedded Ring provides
// the structural operations; the methods here copy the relevant window out
// and do all arithmetic outside the lock.
type SampleRing struct {
	*Ring[float32]
}

// NewSampleRing creates a sample ring holding up to capacity samples.
func NewSampleRing(capacity int) (*SampleRing, error) {
	r, err := NewRing[float32](capacity)
	if err != nil {
		return nil, err
	}
	return &SampleRing{Ring: r}, nil
}

// RMSLevel computes sqrt(mean(x^2)) over the most recent sampleCount
// samples. Returns 0 when the ring is empty.
func (r *SampleRing) RMSLevel(sampleCount int) float64 {
	window := r.LastN(sampleCount)
	return RMS(window)
}

// CrossCorrelation returns the normalized cross-correlation between the
// ring's recent samples and the reference signal, with the reference
// shifted by lag samples. Positive lag compares the reference against ring
// samples that arrived lag samples earlier (the reference trails the
// buffer); negative lag drops the leading |lag| reference samples and
// compares the rest against the newest ring samples.
//
// The result is the dot product normalized by the geometric mean of the two
// windows' energies, in [-1, 1]. Returns 0 when either window has zero
// energy or the ring does not hold enough samples for the requested lag.
func (r *SampleRing) CrossCorrelation(reference []float32, lag int) float64 {
	if len(reference) == 0 {
		return 0
	}

	if lag >= 0 {
		need := len(reference) + lag
		recent := r.LastN(need)
		if len(recent) < need {
			return 0
		}
		return normalizedDot(recent[:len(reference)], reference)
	}

	shift := -lag
	if shift >= len(reference) {
		return 0
	}
	ref := reference[shift:]
	recent := r.LastN(len(ref))
	if len(recent) < len(ref) {
		return 0
	}
	return normalizedDot(recent, ref)
}

// RMS computes the root-mean-square amplitude of a sample window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// normalizedDot computes dot(a, b) / sqrt(energy(a) * energy(b)) for two
// equal-length windows. Zero energy in either window yields 0.
func normalizedDot(a, b []float32) float64 {
	var dot, ea, eb float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		ea += av * av
		eb += bv * bv
	}

	if ea == 0 || eb == 0 {
		return 0
	}

	return dot / math.Sqrt(ea*eb)
}
