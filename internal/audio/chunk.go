package audio

import "fmt"

// Chunk is one buffer of captured audio from either the microphone or the
// remote (system) channel. Chunks are produced by the capture collaborator
// and are immutable once handed to the pipeline.
type Chunk struct {
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Start      float64   `json:"start_time"` // seconds since recording start
	Duration   float64   `json:"duration"`
}

// NewChunk builds a chunk and validates its shape.
func NewChunk(samples []float32, sampleRate int, start float64) (*Chunk, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("chunk must contain samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if start < 0 {
		return nil, fmt.Errorf("chunk start time cannot be negative, got %f", start)
	}

	return &Chunk{
		Samples:    samples,
		SampleRate: sampleRate,
		Start:      start,
		Duration:   float64(len(samples)) / float64(sampleRate),
	}, nil
}

// End returns the recording-relative end time of the chunk in seconds.
func (c *Chunk) End() float64 {
	return c.Start + c.Duration
}

// Midpoint returns the recording-relative midpoint of the chunk in seconds.
func (c *Chunk) Midpoint() float64 {
	return c.Start + c.Duration/2
}

// FrameLength returns the number of samples in the chunk.
func (c *Chunk) FrameLength() int {
	return len(c.Samples)
}

// RMS returns the root-mean-square energy of the chunk's samples.
func (c *Chunk) RMS() float64 {
	return RMS(c.Samples)
}
