package timeline

import (
	"fmt"

	"github.com/echofuse/echofuse/internal/leakage"
)

// Segmenter folds the per-chunk verdict stream into discrete local speech
// segments. At most one segment is open at a time, so emitted segments are
// non-overlapping and non-decreasing in time by construction.
//
// Observe calls must arrive in chunk order on a single goroutine; the
// engine's consumer loop guarantees that.
type Segmenter struct {
	minDuration float64 // seconds

	open        bool
	start       float64
	confSum     float64
	chunkCount  int
	lastEmitEnd float64
}

// NewSegmenter creates a segmenter that discards segments shorter than
// minDuration seconds.
func NewSegmenter(minDuration float64) (*Segmenter, error) {
	if minDuration <= 0 {
		return nil, fmt.Errorf("minimum segment duration must be positive, got %f", minDuration)
	}

	return &Segmenter{minDuration: minDuration}, nil
}

// Observe consumes one verdict for the chunk spanning [chunkStart,
// chunkEnd). It returns a finalized segment when a genuine-speech run just
// ended and survived the minimum-duration filter, otherwise nil.
func (s *Segmenter) Observe(v leakage.Verdict, chunkStart, chunkEnd float64) (*LocalSegment, error) {
	if err := validateBounds(chunkStart, chunkEnd); err != nil {
		return nil, err
	}

	if v.IsGenuineLocalSpeech() {
		if !s.open {
			s.open = true
			s.start = chunkStart
			s.confSum = 0
			s.chunkCount = 0
		}
		s.confSum += v.Confidence
		s.chunkCount++
		return nil, nil
	}

	return s.close(chunkStart), nil
}

// Flush closes any open segment at endTime. Called at session end so a
// trailing speech run is not lost.
func (s *Segmenter) Flush(endTime float64) *LocalSegment {
	return s.close(endTime)
}

// Reset discards all state for a new session.
func (s *Segmenter) Reset() {
	s.open = false
	s.start = 0
	s.confSum = 0
	s.chunkCount = 0
	s.lastEmitEnd = 0
}

// HasOpenSegment reports whether a speech run is currently accumulating.
func (s *Segmenter) HasOpenSegment() bool {
	return s.open
}

func (s *Segmenter) close(at float64) *LocalSegment {
	if !s.open {
		return nil
	}
	s.open = false

	// Too short to be speech; treat as noise.
	if at-s.start < s.minDuration {
		return nil
	}

	confidence := 0.0
	if s.chunkCount > 0 {
		confidence = s.confSum / float64(s.chunkCount)
	}

	s.lastEmitEnd = at
	return &LocalSegment{
		Start:      s.start,
		End:        at,
		Confidence: confidence,
	}
}
