// Package capture provides audio chunk sources for the engine. The
// platform capture collaborator is external; the replayer here feeds
// recorded WAV files through the pipeline at capture cadence, for
// development and calibration runs.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/echofuse/echofuse/internal/audio"
)

// Sink receives one paired capture tick. Either chunk may be nil once
// its source file is exhausted.
type Sink func(local, remote *audio.Chunk)

// Replayer streams a pair of mono WAV recordings (microphone and
// remote channel) as synchronized chunk pairs.
type Replayer struct {
	local      []float32
	remote     []float32
	sampleRate int
	chunkSize  int
	realtime   bool
	logger     *slog.Logger
}

// NewReplayer loads both recordings. The files must share a sample
// rate; chunkDuration sets the emission cadence.
func NewReplayer(localPath, remotePath string, chunkDuration float64, realtime bool, logger *slog.Logger) (*Replayer, error) {
	if chunkDuration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %f", chunkDuration)
	}
	if logger == nil {
		logger = slog.Default()
	}

	local, localRate, err := loadWAV(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load local recording: %w", err)
	}

	remote, remoteRate, err := loadWAV(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote recording: %w", err)
	}

	if localRate != remoteRate {
		return nil, fmt.Errorf("sample rate mismatch: local %d Hz, remote %d Hz", localRate, remoteRate)
	}

	chunkSize := int(chunkDuration * float64(localRate))
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk duration %f too short for %d Hz", chunkDuration, localRate)
	}

	return &Replayer{
		local:      local,
		remote:     remote,
		sampleRate: localRate,
		chunkSize:  chunkSize,
		realtime:   realtime,
		logger:     logger,
	}, nil
}

// SampleRate returns the shared sample rate of both recordings.
func (r *Replayer) SampleRate() int {
	return r.sampleRate
}

// Duration returns the length of the longer recording in seconds.
func (r *Replayer) Duration() float64 {
	n := len(r.local)
	if len(r.remote) > n {
		n = len(r.remote)
	}
	return float64(n) / float64(r.sampleRate)
}

// Run emits chunk pairs until both recordings are exhausted or the
// context is cancelled. In realtime mode emission is paced at the
// chunk cadence, matching a live capture callback.
func (r *Replayer) Run(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink cannot be nil")
	}

	cadence := time.Duration(float64(r.chunkSize) / float64(r.sampleRate) * float64(time.Second))
	var ticker *time.Ticker
	if r.realtime {
		ticker = time.NewTicker(cadence)
		defer ticker.Stop()
	}

	emitted := 0
	for offset := 0; offset < len(r.local) || offset < len(r.remote); offset += r.chunkSize {
		if r.realtime {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		start := float64(offset) / float64(r.sampleRate)
		local, err := r.chunkAt(r.local, offset, start)
		if err != nil {
			return fmt.Errorf("local chunk at %f: %w", start, err)
		}
		remote, err := r.chunkAt(r.remote, offset, start)
		if err != nil {
			return fmt.Errorf("remote chunk at %f: %w", start, err)
		}

		sink(local, remote)
		emitted++
	}

	r.logger.Info("Replay finished",
		slog.Int("chunks", emitted),
		slog.Float64("duration_seconds", r.Duration()))
	return nil
}

// chunkAt slices one chunk out of a recording, or returns nil once the
// recording is exhausted.
func (r *Replayer) chunkAt(samples []float32, offset int, start float64) (*audio.Chunk, error) {
	if offset >= len(samples) {
		return nil, nil
	}

	end := offset + r.chunkSize
	if end > len(samples) {
		end = len(samples)
	}
	return audio.NewChunk(samples[offset:end], r.sampleRate, start)
}

func loadWAV(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return audio.DecodeWAV(data)
}
