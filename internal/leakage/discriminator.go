package leakage

import (
	"fmt"
	"sync"
	"time"

	"github.com/echofuse/echofuse/internal/audio"
)

// Class is the outcome of classifying one microphone chunk.
type Class int

const (
	// ClassSilence means the chunk's energy is below the silence floor.
	ClassSilence Class = iota

	// ClassLocalSpeech means the chunk is genuine speech from the local user.
	ClassLocalSpeech

	// ClassLeakage means the chunk is remote audio echoed into the
	// microphone, not the local user speaking.
	ClassLeakage
)

func (c Class) String() string {
	switch c {
	case ClassSilence:
		return "silence"
	case ClassLocalSpeech:
		return "local_speech"
	case ClassLeakage:
		return "leakage"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Verdict is the per-chunk classification result. Verdicts are ephemeral;
// the segmenter consumes them immediately.
type Verdict struct {
	Class        Class   `json:"class"`
	Confidence   float64 `json:"confidence"` // 0.0 - 1.0
	LocalEnergy  float64 `json:"local_energy"`
	RemoteEnergy float64 `json:"remote_energy"`
	Correlation  float64 `json:"correlation"` // best over the lag search
}

// IsGenuineLocalSpeech reports whether the chunk should open or extend a
// local speech segment.
func (v Verdict) IsGenuineLocalSpeech() bool {
	return v.Class == ClassLocalSpeech
}

// Config holds the discriminator's calibration parameters. These are
// heuristics validated per deployment environment, not derived constants.
type Config struct {
	// SilenceFloor is the local RMS energy below which a chunk is silence.
	SilenceFloor float64

	// CorrelationThreshold is the peak correlation above which a chunk is
	// considered an echo of the remote reference.
	CorrelationThreshold float64

	// EnergyDominanceRatio is how far local energy must exceed remote
	// energy before a correlated chunk is still treated as local speech
	// (the user talking over remote playback).
	EnergyDominanceRatio float64

	// MaxLag and LagStep bound the alignment search, in samples. The
	// search covers negative and positive lags to absorb variable
	// playback-to-microphone delay.
	MaxLag  int
	LagStep int

	// ReferenceCapacity is the size of the rolling remote sample buffer,
	// in samples. It must span the largest expected acoustic delay.
	ReferenceCapacity int
}

// Stats is a snapshot of discriminator activity for monitoring.
type Stats struct {
	ChunksClassified uint64    `json:"chunks_classified"`
	SilenceChunks    uint64    `json:"silence_chunks"`
	SpeechChunks     uint64    `json:"speech_chunks"`
	LeakageChunks    uint64    `json:"leakage_chunks"`
	LastClassified   time.Time `json:"last_classified"`
}

// Discriminator classifies microphone chunks against a rolling buffer of
// remote-channel samples. Classify calls must be serialized by the caller
// (one processing goroutine); PushRemote may run concurrently with reads
// because the reference ring carries its own lock.
type Discriminator struct {
	cfg       Config
	reference *audio.SampleRing

	stats Stats
	mu    sync.RWMutex
}

// NewDiscriminator creates a discriminator with the given calibration.
func NewDiscriminator(cfg Config) (*Discriminator, error) {
	if cfg.SilenceFloor <= 0 {
		return nil, fmt.Errorf("silence floor must be positive, got %f", cfg.SilenceFloor)
	}
	if cfg.CorrelationThreshold <= 0 || cfg.CorrelationThreshold >= 1 {
		return nil, fmt.Errorf("correlation threshold must be in (0, 1), got %f", cfg.CorrelationThreshold)
	}
	if cfg.EnergyDominanceRatio <= 1 {
		return nil, fmt.Errorf("energy dominance ratio must exceed 1, got %f", cfg.EnergyDominanceRatio)
	}
	if cfg.MaxLag < 0 {
		return nil, fmt.Errorf("max lag cannot be negative, got %d", cfg.MaxLag)
	}
	if cfg.LagStep <= 0 {
		return nil, fmt.Errorf("lag step must be positive, got %d", cfg.LagStep)
	}
	if cfg.ReferenceCapacity <= 0 {
		return nil, fmt.Errorf("reference capacity must be positive, got %d", cfg.ReferenceCapacity)
	}

	reference, err := audio.NewSampleRing(cfg.ReferenceCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference buffer: %w", err)
	}

	return &Discriminator{
		cfg:       cfg,
		reference: reference,
	}, nil
}

// PushRemote feeds remote-channel samples into the rolling reference.
func (d *Discriminator) PushRemote(chunk *audio.Chunk) {
	d.reference.AppendAll(chunk.Samples)
}

// Classify produces a verdict for one microphone chunk.
func (d *Discriminator) Classify(chunk *audio.Chunk) Verdict {
	localEnergy := chunk.RMS()

	// Below the silence floor nothing else matters. Confidence grows with
	// the distance below the floor.
	if localEnergy < d.cfg.SilenceFloor {
		v := Verdict{
			Class:       ClassSilence,
			Confidence:  clamp01((d.cfg.SilenceFloor - localEnergy) / d.cfg.SilenceFloor),
			LocalEnergy: localEnergy,
		}
		d.record(v)
		return v
	}

	remoteEnergy := d.reference.RMSLevel(len(chunk.Samples))
	correlation := d.bestCorrelation(chunk.Samples)

	// No echo source: with the remote channel effectively silent, any
	// microphone energy has to be the local user.
	if remoteEnergy < d.cfg.SilenceFloor {
		v := Verdict{
			Class:        ClassLocalSpeech,
			Confidence:   0.95,
			LocalEnergy:  localEnergy,
			RemoteEnergy: remoteEnergy,
			Correlation:  correlation,
		}
		d.record(v)
		return v
	}

	// Strong correlation without local energy dominance means the
	// microphone is hearing the speakers.
	if correlation > d.cfg.CorrelationThreshold &&
		localEnergy <= remoteEnergy*d.cfg.EnergyDominanceRatio {
		span := 1 - d.cfg.CorrelationThreshold
		v := Verdict{
			Class:        ClassLeakage,
			Confidence:   clamp01(0.5 + 0.5*(correlation-d.cfg.CorrelationThreshold)/span),
			LocalEnergy:  localEnergy,
			RemoteEnergy: remoteEnergy,
			Correlation:  correlation,
		}
		d.record(v)
		return v
	}

	// Genuine speech: confidence reflects how much local energy exceeds
	// what the correlated remote signal alone would explain.
	explained := correlation * remoteEnergy
	if explained < 0 {
		explained = 0
	}
	v := Verdict{
		Class:        ClassLocalSpeech,
		Confidence:   clamp01((localEnergy - explained) / localEnergy),
		LocalEnergy:  localEnergy,
		RemoteEnergy: remoteEnergy,
		Correlation:  correlation,
	}
	d.record(v)
	return v
}

// bestCorrelation searches the configured lag range for the strongest
// alignment between the chunk and the remote reference.
func (d *Discriminator) bestCorrelation(samples []float32) float64 {
	best := d.reference.CrossCorrelation(samples, 0)
	for lag := d.cfg.LagStep; lag <= d.cfg.MaxLag; lag += d.cfg.LagStep {
		if c := d.reference.CrossCorrelation(samples, lag); c > best {
			best = c
		}
		if c := d.reference.CrossCorrelation(samples, -lag); c > best {
			best = c
		}
	}
	return best
}

// Reset clears the remote reference and statistics for a new session.
func (d *Discriminator) Reset() {
	d.reference.Clear()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{}
}

// GetStats returns a snapshot of classification counters.
func (d *Discriminator) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// ReferenceLen returns the number of buffered remote samples.
func (d *Discriminator) ReferenceLen() int {
	return d.reference.Len()
}

func (d *Discriminator) record(v Verdict) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.ChunksClassified++
	switch v.Class {
	case ClassSilence:
		d.stats.SilenceChunks++
	case ClassLocalSpeech:
		d.stats.SpeechChunks++
	case ClassLeakage:
		d.stats.LeakageChunks++
	}
	d.stats.LastClassified = time.Now()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
