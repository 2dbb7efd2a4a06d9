package leakage

import (
	"math"
	"testing"

	"github.com/echofuse/echofuse/internal/audio"
)

func testConfig() Config {
	return Config{
		SilenceFloor:         0.005,
		CorrelationThreshold: 0.6,
		EnergyDominanceRatio: 2.0,
		MaxLag:               160,
		LagStep:              40,
		ReferenceCapacity:    16000,
	}
}

// sineChunk builds a chunk of a 440 Hz tone scaled to the given amplitude.
func sineChunk(t *testing.T, amplitude float64, start float64) *audio.Chunk {
	t.Helper()

	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	chunk, err := audio.NewChunk(samples, 16000, start)
	if err != nil {
		t.Fatalf("Failed to build chunk: %v", err)
	}
	return chunk
}

func scaledCopy(t *testing.T, src *audio.Chunk, scale float64, start float64) *audio.Chunk {
	t.Helper()

	samples := make([]float32, len(src.Samples))
	for i, s := range src.Samples {
		samples[i] = float32(float64(s) * scale)
	}

	chunk, err := audio.NewChunk(samples, src.SampleRate, start)
	if err != nil {
		t.Fatalf("Failed to build chunk: %v", err)
	}
	return chunk
}

func TestNewDiscriminatorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero silence floor", func(c *Config) { c.SilenceFloor = 0 }},
		{"correlation threshold too high", func(c *Config) { c.CorrelationThreshold = 1.0 }},
		{"correlation threshold too low", func(c *Config) { c.CorrelationThreshold = 0 }},
		{"dominance ratio below one", func(c *Config) { c.EnergyDominanceRatio = 1.0 }},
		{"negative max lag", func(c *Config) { c.MaxLag = -1 }},
		{"zero lag step", func(c *Config) { c.LagStep = 0 }},
		{"zero reference capacity", func(c *Config) { c.ReferenceCapacity = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewDiscriminator(cfg); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}

	if _, err := NewDiscriminator(testConfig()); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}

func TestClassifySilence(t *testing.T) {
	d, err := NewDiscriminator(testConfig())
	if err != nil {
		t.Fatalf("Failed to create discriminator: %v", err)
	}

	v := d.Classify(sineChunk(t, 0.0003, 0))

	if v.Class != ClassSilence {
		t.Errorf("Expected silence, got %s", v.Class)
	}
	if v.Confidence < 0.9 {
		t.Errorf("Near-zero energy should yield high silence confidence, got %f", v.Confidence)
	}
	if v.IsGenuineLocalSpeech() {
		t.Error("Silence must not count as genuine speech")
	}
}

func TestClassifyGenuineSpeechWithSilentRemote(t *testing.T) {
	d, err := NewDiscriminator(testConfig())
	if err != nil {
		t.Fatalf("Failed to create discriminator: %v", err)
	}

	// Remote reference is silence; any correlation is irrelevant.
	silent, _ := audio.NewChunk(make([]float32, 16000), 16000, 0)
	d.PushRemote(silent)

	v := d.Classify(sineChunk(t, 0.42, 0)) // RMS ~0.3

	if v.Class != ClassLocalSpeech {
		t.Errorf("Expected local speech, got %s", v.Class)
	}
	if !v.IsGenuineLocalSpeech() {
		t.Error("Expected genuine local speech verdict")
	}
	if v.Confidence < 0.9 {
		t.Errorf("No echo source: expected high confidence, got %f", v.Confidence)
	}
}

func TestClassifyLeakage(t *testing.T) {
	d, err := NewDiscriminator(testConfig())
	if err != nil {
		t.Fatalf("Failed to create discriminator: %v", err)
	}

	// Loud remote audio (RMS ~0.5) leaking faintly into the mic (RMS ~0.01).
	remote := sineChunk(t, 0.71, 0)
	d.PushRemote(remote)

	local := scaledCopy(t, remote, 0.02, 0)
	v := d.Classify(local)

	if v.Class != ClassLeakage {
		t.Errorf("Expected leakage, got %s", v.Class)
	}
	if v.Confidence <= 0.7 {
		t.Errorf("Strongly correlated quiet echo: expected confidence > 0.7, got %f", v.Confidence)
	}
	if v.Correlation < 0.9 {
		t.Errorf("Expected near-perfect correlation, got %f", v.Correlation)
	}
	if v.IsGenuineLocalSpeech() {
		t.Error("Leakage must not count as genuine speech")
	}
}

func TestClassifyLeakageWithDelay(t *testing.T) {
	d, err := NewDiscriminator(testConfig())
	if err != nil {
		t.Fatalf("Failed to create discriminator: %v", err)
	}

	// Remote audio plus 80 samples of trailing silence: the echo reaches
	// the mic 80 samples (5ms) after playback. The lag search must find it.
	remote := sineChunk(t, 0.71, 0)
	d.PushRemote(remote)
	tail, _ := audio.NewChunk(make([]float32, 80), 16000, remote.End())
	d.PushRemote(tail)

	local := scaledCopy(t, remote, 0.02, 0)
	v := d.Classify(local)

	if v.Class != ClassLeakage {
		t.Errorf("Expected leakage despite playback delay, got %s", v.Class)
	}
	if v.Correlation < 0.9 {
		t.Errorf("Lag search should recover the alignment, got correlation %f", v.Correlation)
	}
}

func TestClassifySpeechOverRemotePlayback(t *testing.T) {
	d, err := NewDiscriminator(testConfig())
	if err != nil {
		t.Fatalf("Failed to create discriminator: %v", err)
	}

	// Quiet remote playback; the local user speaks much louder. Even with
	// high correlation the energy dominance rule keeps this local speech.
	remote := sineChunk(t, 0.1, 0)
	d.PushRemote(remote)

	local := scaledCopy(t, remote, 6.0, 0)
	v := d.Classify(local)

	if v.Class != ClassLocalSpeech {
		t.Errorf("Dominant local energy: expected local speech, got %s", v.Class)
	}
}

func TestDiscriminatorStatsAndReset(t *testing.T) {
	d, err := NewDiscriminator(testConfig())
	if err != nil {
		t.Fatalf("Failed to create discriminator: %v", err)
	}

	d.PushRemote(sineChunk(t, 0.5, 0))
	d.Classify(sineChunk(t, 0.001, 0))
	d.Classify(sineChunk(t, 0.42, 0.1))

	stats := d.GetStats()
	if stats.ChunksClassified != 2 {
		t.Errorf("Expected 2 classified chunks, got %d", stats.ChunksClassified)
	}
	if stats.SilenceChunks != 1 {
		t.Errorf("Expected 1 silence chunk, got %d", stats.SilenceChunks)
	}

	d.Reset()

	if d.ReferenceLen() != 0 {
		t.Errorf("Reset should clear the reference buffer, got %d samples", d.ReferenceLen())
	}
	if d.GetStats().ChunksClassified != 0 {
		t.Error("Reset should clear statistics")
	}
}
