package timeline

import "fmt"

// SpeakerMe is the reserved speaker id for the local user.
const SpeakerMe = "ME"

// LocalSegment is a span of confirmed local speech, in seconds relative to
// recording start. Immutable once emitted by the segmenter.
type LocalSegment struct {
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

// Duration returns the segment length in seconds.
func (s LocalSegment) Duration() float64 {
	return s.End - s.Start
}

// RemoteSegment is one diarized span of remote audio. It is produced by the
// external diarization collaborator and treated as read-only input.
type RemoteSegment struct {
	SpeakerID    string    `json:"speaker_id"`
	Start        float64   `json:"start_time"`
	End          float64   `json:"end_time"`
	Embedding    []float32 `json:"-"`
	QualityScore float64   `json:"quality_score"`
}

// Duration returns the segment length in seconds.
func (s RemoteSegment) Duration() float64 {
	return s.End - s.Start
}

// MergedSegment is a timeline span after reconciling local speech against
// remote diarization. SpeakerID may be SpeakerMe. Gaps between merged
// segments are implicit silence.
type MergedSegment struct {
	SpeakerID    string    `json:"speaker_id"`
	Start        float64   `json:"start_time"`
	End          float64   `json:"end_time"`
	Embedding    []float32 `json:"-"`
	QualityScore float64   `json:"quality_score"`
}

// Duration returns the segment length in seconds.
func (s MergedSegment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether t falls inside the segment's interval.
func (s MergedSegment) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

// validateBounds rejects inverted segment bounds. These are programming
// errors upstream, not recoverable conditions.
func validateBounds(start, end float64) error {
	if end <= start {
		return fmt.Errorf("segment end (%f) must be after start (%f)", end, start)
	}
	return nil
}
