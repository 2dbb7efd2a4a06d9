package capture

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/echofuse/echofuse/internal/audio"
)

func writeWAV(t *testing.T, dir, name string, samples []float32, sampleRate int) string {
	t.Helper()

	data, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	return path
}

func TestReplayerEmitsPairedChunks(t *testing.T) {
	dir := t.TempDir()

	// Half a second of audio on both channels at 16 kHz.
	local := make([]float32, 8000)
	remote := make([]float32, 8000)
	for i := range local {
		local[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	localPath := writeWAV(t, dir, "local.wav", local, 16000)
	remotePath := writeWAV(t, dir, "remote.wav", remote, 16000)

	r, err := NewReplayer(localPath, remotePath, 0.1, false, nil)
	if err != nil {
		t.Fatalf("Failed to create replayer: %v", err)
	}

	if r.SampleRate() != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", r.SampleRate())
	}
	if math.Abs(r.Duration()-0.5) > 1e-9 {
		t.Errorf("Expected 0.5s duration, got %f", r.Duration())
	}

	var pairs int
	var lastStart float64
	err = r.Run(context.Background(), func(local, remote *audio.Chunk) {
		if local == nil || remote == nil {
			t.Error("Both channels should be present for equal-length files")
			return
		}
		if local.Start != remote.Start {
			t.Errorf("Pair out of sync: %f vs %f", local.Start, remote.Start)
		}
		lastStart = local.Start
		pairs++
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if pairs != 5 {
		t.Errorf("Expected 5 chunk pairs, got %d", pairs)
	}
	if math.Abs(lastStart-0.4) > 1e-9 {
		t.Errorf("Expected last chunk at 0.4s, got %f", lastStart)
	}
}

func TestReplayerUnevenLengths(t *testing.T) {
	dir := t.TempDir()

	localPath := writeWAV(t, dir, "local.wav", make([]float32, 3200), 16000)  // 0.2s
	remotePath := writeWAV(t, dir, "remote.wav", make([]float32, 1600), 16000) // 0.1s

	r, err := NewReplayer(localPath, remotePath, 0.1, false, nil)
	if err != nil {
		t.Fatalf("Failed to create replayer: %v", err)
	}

	var remoteNil int
	err = r.Run(context.Background(), func(local, remote *audio.Chunk) {
		if remote == nil {
			remoteNil++
		}
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if remoteNil != 1 {
		t.Errorf("Expected 1 tick with exhausted remote channel, got %d", remoteNil)
	}
}

func TestReplayerSampleRateMismatch(t *testing.T) {
	dir := t.TempDir()

	localPath := writeWAV(t, dir, "local.wav", make([]float32, 1600), 16000)
	remotePath := writeWAV(t, dir, "remote.wav", make([]float32, 800), 8000)

	if _, err := NewReplayer(localPath, remotePath, 0.1, false, nil); err == nil {
		t.Error("Expected error for mismatched sample rates")
	}
}

func TestReplayerMissingFile(t *testing.T) {
	dir := t.TempDir()
	localPath := writeWAV(t, dir, "local.wav", make([]float32, 1600), 16000)

	if _, err := NewReplayer(localPath, filepath.Join(dir, "nope.wav"), 0.1, false, nil); err == nil {
		t.Error("Expected error for missing remote file")
	}
}

func TestReplayerCancellation(t *testing.T) {
	dir := t.TempDir()

	localPath := writeWAV(t, dir, "local.wav", make([]float32, 16000), 16000)
	remotePath := writeWAV(t, dir, "remote.wav", make([]float32, 16000), 16000)

	r, err := NewReplayer(localPath, remotePath, 0.1, false, nil)
	if err != nil {
		t.Fatalf("Failed to create replayer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Run(ctx, func(_, _ *audio.Chunk) {}); err == nil {
		t.Error("Expected context error after cancellation")
	}
}
