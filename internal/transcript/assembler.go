package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echofuse/echofuse/internal/timeline"
)

// Segment is one finalized sentence of the conversation transcript. The
// session owns the append-only segment list; a segment is never deleted,
// but SpeakerName may be filled in later when an identity resolves.
type Segment struct {
	ID          uuid.UUID `json:"id"`
	Text        string    `json:"text"`
	Timestamp   float64   `json:"timestamp"` // seconds since recording start
	SpeakerID   string    `json:"speaker_id,omitempty"`
	SpeakerName string    `json:"speaker_name,omitempty"`
	Confidence  float64   `json:"confidence"`
	Finalized   bool      `json:"is_finalized"`
}

// FlushTrigger records why a segment was finalized, for metrics.
type FlushTrigger string

const (
	FlushPunctuation  FlushTrigger = "punctuation"
	FlushPause        FlushTrigger = "pause"
	FlushSpeakerShift FlushTrigger = "speaker_shift"
	FlushSessionEnd   FlushTrigger = "session_end"
)

// Assembler buffers partial transcript text until a sentence boundary, a
// speaker change, or a pause. Calls must be serialized by the caller; the
// engine's consumer loop and pause ticker both funnel through one goroutine.
type Assembler struct {
	pauseThreshold time.Duration
	defaultSpeaker string

	segments []timeline.MergedSegment // latest merged timeline snapshot

	buffer        strings.Builder
	bufferSpeaker string
	lastUpdate    time.Time

	onFlush func(Segment, FlushTrigger)
}

// NewAssembler creates an assembler. pauseThreshold bounds the latency of
// trailing speech without terminal punctuation; defaultSpeaker is the
// attribution of last resort when no timeline exists yet.
func NewAssembler(pauseThreshold time.Duration, defaultSpeaker string) (*Assembler, error) {
	if pauseThreshold <= 0 {
		return nil, fmt.Errorf("pause threshold must be positive, got %v", pauseThreshold)
	}
	if defaultSpeaker == "" {
		return nil, fmt.Errorf("default speaker cannot be empty")
	}

	return &Assembler{
		pauseThreshold: pauseThreshold,
		defaultSpeaker: defaultSpeaker,
	}, nil
}

// OnFlush registers a callback invoked for every finalized segment.
func (a *Assembler) OnFlush(fn func(Segment, FlushTrigger)) {
	a.onFlush = fn
}

// SetTimeline installs the latest merged segment snapshot used for speaker
// attribution. The slice must not be mutated afterwards.
func (a *Assembler) SetTimeline(segments []timeline.MergedSegment) {
	a.segments = segments
}

// Append consumes one transcript increment covering [winStart, winEnd) and
// returns any segments it finalized. A speaker change flushes the previous
// buffer before the new text is accumulated; terminal punctuation flushes
// immediately after.
func (a *Assembler) Append(text string, winStart, winEnd float64, now time.Time) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	speaker := a.speakerAt(winStart + (winEnd-winStart)/2)

	var out []Segment

	// A speaker change always forces a boundary, punctuation or not.
	if a.buffer.Len() > 0 && speaker != a.bufferSpeaker {
		if seg := a.flush(winStart, FlushSpeakerShift); seg != nil {
			out = append(out, *seg)
		}
	}

	if a.buffer.Len() > 0 {
		a.buffer.WriteString(" ")
	}
	a.buffer.WriteString(text)
	a.bufferSpeaker = speaker
	a.lastUpdate = now

	out = append(out, a.drainSentences(winEnd)...)

	return out
}

// drainSentences flushes complete sentences out of the buffer. Text after
// the last terminal punctuation mark stays buffered until more increments,
// a pause, or session end complete it.
func (a *Assembler) drainSentences(at float64) []Segment {
	buffered := a.buffer.String()

	if endsSentence(buffered) {
		if seg := a.flush(at, FlushPunctuation); seg != nil {
			return []Segment{*seg}
		}
		return nil
	}

	idx := lastSentenceBoundary(buffered)
	if idx < 0 {
		return nil
	}

	remainder := buffered[idx+1:]
	a.buffer.Reset()
	a.buffer.WriteString(buffered[:idx+1])
	seg := a.flush(at, FlushPunctuation)

	a.buffer.WriteString(strings.TrimLeft(remainder, " \t"))

	if seg != nil {
		return []Segment{*seg}
	}
	return nil
}

// FlushIfStale finalizes the buffer when no update has arrived within the
// pause threshold. Driven by the caller's polling cadence; at is the
// current recording-relative time.
func (a *Assembler) FlushIfStale(now time.Time, at float64) *Segment {
	if a.buffer.Len() == 0 {
		return nil
	}
	if now.Sub(a.lastUpdate) < a.pauseThreshold {
		return nil
	}
	return a.flush(at, FlushPause)
}

// Flush unconditionally finalizes any buffered text. Called at session end
// so trailing content is not lost.
func (a *Assembler) Flush(at float64) *Segment {
	return a.flush(at, FlushSessionEnd)
}

// Reset discards buffered text and the timeline snapshot.
func (a *Assembler) Reset() {
	a.buffer.Reset()
	a.bufferSpeaker = ""
	a.lastUpdate = time.Time{}
	a.segments = nil
}

// Pending returns the currently buffered, not yet finalized text.
func (a *Assembler) Pending() string {
	return a.buffer.String()
}

func (a *Assembler) flush(at float64, trigger FlushTrigger) *Segment {
	text := collapseWhitespace(a.buffer.String())
	a.buffer.Reset()

	if text == "" {
		return nil
	}

	seg := Segment{
		ID:        uuid.New(),
		Text:      text,
		Timestamp: at,
		SpeakerID: a.bufferSpeaker,
		Finalized: true,
	}

	if a.onFlush != nil {
		a.onFlush(seg, trigger)
	}

	return &seg
}

// speakerAt attributes a point in time to a speaker: the merged segment
// containing it, else the most recently ended segment, else the default.
func (a *Assembler) speakerAt(t float64) string {
	var lastEnded *timeline.MergedSegment
	for i := range a.segments {
		seg := &a.segments[i]
		if seg.Contains(t) {
			return seg.SpeakerID
		}
		if seg.End <= t && (lastEnded == nil || seg.End > lastEnded.End) {
			lastEnded = seg
		}
	}
	if lastEnded != nil {
		return lastEnded.SpeakerID
	}
	return a.defaultSpeaker
}

// endsSentence reports whether the trimmed text ends in terminal
// punctuation.
func endsSentence(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

// lastSentenceBoundary returns the index of the last terminal punctuation
// mark in text, or -1.
func lastSentenceBoundary(text string) int {
	return strings.LastIndexAny(text, ".?!")
}

// collapseWhitespace trims the text and squeezes runs of whitespace into
// single spaces.
func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
