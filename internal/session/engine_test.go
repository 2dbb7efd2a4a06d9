package session

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/echofuse/echofuse/internal/audio"
	"github.com/echofuse/echofuse/internal/config"
	"github.com/echofuse/echofuse/internal/identity"
	"github.com/echofuse/echofuse/internal/timeline"
	"github.com/echofuse/echofuse/internal/transcript"
	"github.com/echofuse/echofuse/internal/transcription"
)

type fakeTranscriber struct {
	mu          sync.Mutex
	transcripts []string
	idx         int
	resets      int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, chunk *audio.Chunk) (*transcription.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var text string
	if f.idx < len(f.transcripts) {
		text = f.transcripts[f.idx]
		f.idx++
	} else if len(f.transcripts) > 0 {
		text = f.transcripts[len(f.transcripts)-1]
	}

	return &transcription.Update{
		Transcript:  text,
		WindowStart: chunk.Start,
		WindowEnd:   chunk.End(),
	}, nil
}

func (f *fakeTranscriber) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.idx = 0
	return nil
}

func (f *fakeTranscriber) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

type fakeDiarizer struct {
	mu         sync.Mutex
	segments   []timeline.RemoteSegment
	embeddings map[string][]float32
	processed  int
	finalized  int
}

func (f *fakeDiarizer) Process(_ context.Context, _ *audio.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed++
	return nil
}

func (f *fakeDiarizer) Segments() []timeline.RemoteSegment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segments
}

func (f *fakeDiarizer) Embeddings() map[string][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeddings
}

func (f *fakeDiarizer) Finalize(_ context.Context) ([]timeline.RemoteSegment, map[string][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
	return f.segments, f.embeddings, nil
}

type fakeIdentityStore struct {
	match *identity.Match
}

func (s *fakeIdentityStore) Lookup(_ context.Context, _ []float32) (*identity.Match, error) {
	return s.match, nil
}

func (s *fakeIdentityStore) EmbeddingByName(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.Session.MergeInterval = 3600 // keep the periodic pass out of tests
	cfg.Session.KeepMonitoring = false
	cfg.Transcript.FlushInterval = 1
	return cfg
}

func speechChunk(t *testing.T, start float64) *audio.Chunk {
	t.Helper()

	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	chunk, err := audio.NewChunk(samples, 16000, start)
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}
	return chunk
}

func silentChunk(t *testing.T, start float64) *audio.Chunk {
	t.Helper()

	chunk, err := audio.NewChunk(make([]float32, 1600), 16000, start)
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}
	return chunk
}

func newTestEngine(t *testing.T, cfg *config.Config, tr Transcriber, dz Diarizer, store identity.Store) *Engine {
	t.Helper()

	e, err := NewEngine(cfg, tr, dz, store, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func TestEngineFullSession(t *testing.T) {
	tr := &fakeTranscriber{transcripts: []string{
		"Hello there.",
		"Hello there. How are you",
	}}
	dz := &fakeDiarizer{
		segments:   []timeline.RemoteSegment{{SpeakerID: "1", Start: 2, End: 3, QualityScore: 0.9}},
		embeddings: map[string][]float32{"1": {1, 0}},
	}
	store := &fakeIdentityStore{match: &identity.Match{Name: "Alice", Similarity: 0.85}}

	e := newTestEngine(t, testEngineConfig(), tr, dz, store)
	ctx := context.Background()

	e.StartMonitoring()
	if err := e.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if e.State() != StateRecording {
		t.Fatalf("Expected recording state, got %s", e.State())
	}

	// Five 100ms ticks of loud local speech against a silent remote channel.
	for i := 0; i < 5; i++ {
		start := float64(i) * 0.1
		e.Ingest(speechChunk(t, start), silentChunk(t, start))
	}

	if err := e.StopRecording(ctx, "test done"); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("Expected idle after processing, got %s", e.State())
	}

	stats := e.GetStats()
	if stats.ChunksProcessed != 5 {
		t.Errorf("Expected 5 processed chunks, got %d", stats.ChunksProcessed)
	}
	if stats.LocalSegments != 1 {
		t.Errorf("Expected 1 local segment, got %d", stats.LocalSegments)
	}

	// The local run [0, 0.5] has no overlap with the remote segment [2, 3],
	// so the merge yields a standalone ME segment plus the remote one.
	merged := e.Timeline()
	if len(merged) != 2 {
		t.Fatalf("Expected 2 merged segments, got %d: %+v", len(merged), merged)
	}
	if merged[0].SpeakerID != timeline.SpeakerMe {
		t.Errorf("Expected leading ME segment, got %q", merged[0].SpeakerID)
	}
	if merged[1].SpeakerID != "1" {
		t.Errorf("Expected remote segment, got %q", merged[1].SpeakerID)
	}

	// Two sentences: punctuation flush plus the session-end flush.
	segments := e.Transcript()
	if len(segments) != 2 {
		t.Fatalf("Expected 2 transcript segments, got %d: %+v", len(segments), segments)
	}
	if segments[0].Text != "Hello there." {
		t.Errorf("Expected first sentence, got %q", segments[0].Text)
	}
	if segments[1].Text != "How are you" {
		t.Errorf("Expected trailing fragment, got %q", segments[1].Text)
	}

	// Speaker 1 resolves against the store at 0.85 similarity.
	var remote *identity.Participant
	for _, p := range e.Participants() {
		p := p
		if p.SpeakerID == "1" {
			remote = &p
		}
	}
	if remote == nil {
		t.Fatal("Expected participant for speaker 1")
	}
	if remote.Name != "Alice" || remote.Mode != identity.ModeLinkedToPerson {
		t.Errorf("Expected linked identity, got %+v", remote)
	}

	if dz.finalized != 1 {
		t.Errorf("Expected 1 diarizer finalize, got %d", dz.finalized)
	}
	if tr.resetCount() != 2 {
		t.Errorf("Expected transcriber reset at start and stop, got %d", tr.resetCount())
	}
}

func TestEngineStartWhileRecordingIsNoOp(t *testing.T) {
	tr := &fakeTranscriber{}
	e := newTestEngine(t, testEngineConfig(), tr, &fakeDiarizer{}, nil)
	ctx := context.Background()

	e.StartMonitoring()
	if err := e.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := e.StartRecording(ctx); err != nil {
		t.Fatalf("Second start must be a silent no-op: %v", err)
	}

	if tr.resetCount() != 1 {
		t.Errorf("Second start must not touch the transcriber, got %d resets", tr.resetCount())
	}
	if e.State() != StateRecording {
		t.Errorf("Expected recording state, got %s", e.State())
	}

	if err := e.StopRecording(ctx, "cleanup"); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
}

func TestEngineStopWhileIdleIsNoOp(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), &fakeTranscriber{}, &fakeDiarizer{}, nil)

	if err := e.StopRecording(context.Background(), "nothing running"); err != nil {
		t.Fatalf("Stop while idle must be a no-op: %v", err)
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle, got %s", e.State())
	}
}

func TestEngineIngestIgnoredWhenNotRecording(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), &fakeTranscriber{}, &fakeDiarizer{}, nil)

	e.Ingest(speechChunk(t, 0), silentChunk(t, 0))

	if got := e.GetStats().ChunksProcessed; got != 0 {
		t.Errorf("Expected no processed chunks, got %d", got)
	}
}

func TestEngineSecondSessionStartsClean(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Session.KeepMonitoring = true

	tr := &fakeTranscriber{transcripts: []string{"First session."}}
	e := newTestEngine(t, cfg, tr, &fakeDiarizer{}, nil)
	ctx := context.Background()

	e.StartMonitoring()
	if err := e.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	e.Ingest(speechChunk(t, 0), silentChunk(t, 0))
	if err := e.StopRecording(ctx, "first"); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	if e.State() != StateMonitoring {
		t.Fatalf("Expected monitoring after processing, got %s", e.State())
	}
	if len(e.Transcript()) == 0 {
		t.Fatal("First session should have produced a transcript")
	}

	if err := e.StartRecording(ctx); err != nil {
		t.Fatalf("Second StartRecording failed: %v", err)
	}

	if len(e.Transcript()) != 0 {
		t.Error("Second session must start with an empty transcript")
	}
	stats := e.GetStats()
	if stats.LocalSegments != 0 || stats.ChunksProcessed != 0 {
		t.Errorf("Second session must start with clean counters: %+v", stats)
	}

	if err := e.StopRecording(ctx, "second"); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
}

func TestEngineSegmentSubscriber(t *testing.T) {
	tr := &fakeTranscriber{transcripts: []string{"Done."}}
	e := newTestEngine(t, testEngineConfig(), tr, &fakeDiarizer{}, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var received []transcript.Segment
	e.SubscribeSegments(func(seg transcript.Segment) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, seg)
	})

	e.StartMonitoring()
	if err := e.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	e.Ingest(speechChunk(t, 0), silentChunk(t, 0))
	if err := e.StopRecording(ctx, "done"); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("Expected 1 published segment, got %d", len(received))
	}
	if received[0].Text != "Done." {
		t.Errorf("Expected %q, got %q", "Done.", received[0].Text)
	}
}

func TestDiffTranscript(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), &fakeTranscriber{}, &fakeDiarizer{}, nil)

	if got := e.diffTranscript("Hello"); got != "Hello" {
		t.Errorf("Expected %q, got %q", "Hello", got)
	}
	if got := e.diffTranscript("Hello world"); got != "world" {
		t.Errorf("Expected %q, got %q", "world", got)
	}
	if got := e.diffTranscript("Hello world"); got != "" {
		t.Errorf("Unchanged transcript must yield nothing, got %q", got)
	}

	// A non-prefix update means the engine restarted its context.
	if got := e.diffTranscript("Fresh start"); got != "Fresh start" {
		t.Errorf("Expected full text after restart, got %q", got)
	}
}

func TestEngineRename(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), &fakeTranscriber{}, &fakeDiarizer{}, nil)

	p, err := e.Rename("2", "Grace")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if p.Name != "Grace" || p.Mode != identity.ModeNamedByUser {
		t.Errorf("Expected user-named participant, got %+v", p)
	}

	if _, err := e.Rename("2", ""); err == nil {
		t.Error("Expected error for empty name")
	}
}
