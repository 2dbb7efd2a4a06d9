package timeline

import (
	"fmt"
	"sort"
)

// Merger fuses the local speech timeline with the remote diarization
// timeline. The two inputs come from independent detectors with different
// granularities and false-positive profiles, so the merge is deliberately
// asymmetric: remote segments are relabeled to the local user only when the
// majority of their duration coincides with confirmed local speech.
type Merger struct {
	overlapRatio float64
}

// NewMerger creates a merger. overlapRatio is the fraction of a remote
// segment's duration that must coincide with local speech before the
// segment is attributed to the local user; 0.5 is the calibrated default.
func NewMerger(overlapRatio float64) (*Merger, error) {
	if overlapRatio <= 0 || overlapRatio >= 1 {
		return nil, fmt.Errorf("overlap ratio must be in (0, 1), got %f", overlapRatio)
	}

	return &Merger{overlapRatio: overlapRatio}, nil
}

// Merge produces the fused, start-time-ordered segment list. Inputs are
// read-only snapshots; the result shares no backing storage with them
// except remote embeddings, which are retained only for segments that keep
// their remote identity.
func (m *Merger) Merge(remote []RemoteSegment, local []LocalSegment) []MergedSegment {
	merged := make([]MergedSegment, 0, len(remote)+len(local))
	coveredLocal := make([]bool, len(local))

	for _, rs := range remote {
		var overlapTotal float64
		for i, ls := range local {
			o := overlap(rs.Start, rs.End, ls.Start, ls.End)
			if o > 0 {
				overlapTotal += o
				coveredLocal[i] = true
			}
		}

		seg := MergedSegment{
			SpeakerID:    rs.SpeakerID,
			Start:        rs.Start,
			End:          rs.End,
			Embedding:    rs.Embedding,
			QualityScore: rs.QualityScore,
		}

		// Majority overlap with confirmed local speech: the diarizer
		// clustered leaked (or crosstalk) audio as a remote voice. The
		// embedding no longer describes a remote speaker, so drop it.
		if rs.Duration() > 0 && overlapTotal/rs.Duration() > m.overlapRatio {
			seg.SpeakerID = SpeakerMe
			seg.Embedding = nil
		}

		merged = append(merged, seg)
	}

	// Local speech with no remote counterpart at all: the user spoke into
	// silence, so the diarizer had nothing to segment there.
	for i, ls := range local {
		if coveredLocal[i] {
			continue
		}
		merged = append(merged, MergedSegment{
			SpeakerID:    SpeakerMe,
			Start:        ls.Start,
			End:          ls.End,
			QualityScore: ls.Confidence,
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].End < merged[j].End
	})

	return merged
}

// overlap returns the length of the intersection of [aStart, aEnd) and
// [bStart, bEnd), or 0 when they are disjoint.
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
