package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/echofuse/echofuse/internal/audio"
	"github.com/echofuse/echofuse/internal/config"
	"github.com/echofuse/echofuse/internal/identity"
	"github.com/echofuse/echofuse/internal/leakage"
	"github.com/echofuse/echofuse/internal/metrics"
	"github.com/echofuse/echofuse/internal/timeline"
	"github.com/echofuse/echofuse/internal/transcript"
	"github.com/echofuse/echofuse/internal/transcription"
)

// Transcriber is the external transcription capability. Transcribe
// returns the cumulative session transcript plus the time window the
// chunk covered; Reset discards accumulated state between sessions.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk *audio.Chunk) (*transcription.Update, error)
	Reset(ctx context.Context) error
}

// Diarizer is the external diarization capability. Process consumes
// remote-only chunks; Segments and Embeddings expose the latest
// results; Finalize completes the pass, returns the authoritative
// segment list and embeddings, and resets internal state.
type Diarizer interface {
	Process(ctx context.Context, chunk *audio.Chunk) error
	Segments() []timeline.RemoteSegment
	Embeddings() map[string][]float32
	Finalize(ctx context.Context) ([]timeline.RemoteSegment, map[string][]float32, error)
}

// chunkPair is one capture cadence tick: a local mic chunk and the
// matching remote chunk. Either side may be nil.
type chunkPair struct {
	local  *audio.Chunk
	remote *audio.Chunk
}

// EngineStats is a point-in-time snapshot of engine activity.
type EngineStats struct {
	State              State          `json:"state"`
	ErrorReason        string         `json:"error_reason,omitempty"`
	ChunksProcessed    uint64         `json:"chunks_processed"`
	ChunksDropped      uint64         `json:"chunks_dropped"`
	QueueDepth         int            `json:"queue_depth"`
	LocalSegments      int            `json:"local_segments"`
	MergedSegments     int            `json:"merged_segments"`
	TranscriptSegments int            `json:"transcript_segments"`
	RecordingSeconds   float64        `json:"recording_seconds"`
	Discriminator      leakage.Stats  `json:"discriminator"`
	Identity           identity.Stats `json:"identity"`
}

// Engine owns one recording session at a time: it consumes paired
// local/remote audio chunks from a bounded queue on a single consumer
// goroutine, runs the discrimination and segmentation pipeline in
// arrival order, and periodically fuses the local and remote timelines.
// All mutation happens on the consumer goroutine; readers get copies.
type Engine struct {
	cfg     *config.Config
	machine *Machine
	metrics *metrics.Metrics
	logger  *slog.Logger

	transcriber Transcriber
	diarizer    Diarizer

	discriminator *leakage.Discriminator
	segmenter     *timeline.Segmenter
	merger        *timeline.Merger
	assembler     *transcript.Assembler
	resolver      *identity.Resolver

	mu             sync.RWMutex
	intake         chan chunkPair
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	recordStart    time.Time
	lastChunkEnd   float64
	lastTranscript string
	chunksDone     uint64
	chunksDropped  uint64
	localSegs      []timeline.LocalSegment
	merged         []timeline.MergedSegment
	segments       []transcript.Segment

	segmentSubs []func(transcript.Segment)
}

// NewEngine builds the pipeline from configuration. The transcriber and
// diarizer collaborators are injected; everything else is constructed
// here.
func NewEngine(cfg *config.Config, transcriber Transcriber, diarizer Diarizer, store identity.Store, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if diarizer == nil {
		return nil, fmt.Errorf("diarizer cannot be nil")
	}

	discriminator, err := leakage.NewDiscriminator(leakage.Config{
		SilenceFloor:         cfg.Leakage.SilenceFloor,
		CorrelationThreshold: cfg.Leakage.CorrelationThreshold,
		EnergyDominanceRatio: cfg.Leakage.EnergyDominanceRatio,
		MaxLag:               cfg.Leakage.MaxLag,
		LagStep:              cfg.Leakage.LagStep,
		ReferenceCapacity:    cfg.Audio.ReferenceCapacity(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create discriminator: %w", err)
	}

	segmenter, err := timeline.NewSegmenter(cfg.Timeline.MinSegmentDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	merger, err := timeline.NewMerger(cfg.Timeline.OverlapRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create merger: %w", err)
	}

	assembler, err := transcript.NewAssembler(cfg.Transcript.GetPauseThreshold(), cfg.Transcript.DefaultSpeaker)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	resolver, err := identity.NewResolver(identity.Config{
		AutoAssignThreshold: cfg.Identity.AutoAssignThreshold,
		TentativeThreshold:  cfg.Identity.TentativeThreshold,
	}, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	e := &Engine{
		cfg:           cfg,
		machine:       NewMachine(logger),
		metrics:       m,
		logger:        logger,
		transcriber:   transcriber,
		diarizer:      diarizer,
		discriminator: discriminator,
		segmenter:     segmenter,
		merger:        merger,
		assembler:     assembler,
		resolver:      resolver,
	}

	assembler.OnFlush(e.onSegmentFlushed)
	if m != nil {
		resolver.OnLookup(m.RecordIdentityLookup)
	}
	return e, nil
}

// Machine exposes the lifecycle state machine for observers.
func (e *Engine) Machine() *Machine {
	return e.machine
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.machine.State()
}

// SubscribeSegments registers a callback for every finalized transcript
// segment. Callbacks run on the consumer goroutine and must not block.
func (e *Engine) SubscribeSegments(fn func(transcript.Segment)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.segmentSubs = append(e.segmentSubs, fn)
}

// StartMonitoring arms the engine for conversation detection.
func (e *Engine) StartMonitoring() bool {
	return e.machine.StartMonitoring()
}

// ConversationDetected feeds the external detection signal in.
func (e *Engine) ConversationDetected() bool {
	return e.machine.ConversationDetected()
}

// StartRecording begins a recording session. A no-op when a session is
// already active.
func (e *Engine) StartRecording(ctx context.Context) error {
	if !e.machine.StartRecording() {
		return nil
	}

	if err := e.timeBoxed(ctx, "transcriber reset", func(callCtx context.Context) error {
		return e.transcriber.Reset(callCtx)
	}); err != nil {
		e.machine.Fail(fmt.Sprintf("transcription engine unavailable: %v", err))
		if e.metrics != nil {
			e.metrics.RecordSessionError()
		}
		return fmt.Errorf("failed to start recording: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.intake = make(chan chunkPair, e.cfg.Session.QueueSize)
	e.cancel = cancel
	e.recordStart = time.Now()
	e.lastChunkEnd = 0
	e.lastTranscript = ""
	e.chunksDone = 0
	e.chunksDropped = 0
	e.localSegs = nil
	e.merged = nil
	e.segments = nil
	intake := e.intake
	e.mu.Unlock()

	e.resolver.Reset()
	e.resolver.MarkCurrentUser(timeline.SpeakerMe)
	if len(e.cfg.Identity.ExpectedNames) > 0 {
		e.resolver.PreloadExpected(ctx, e.cfg.Identity.ExpectedNames)
	}

	e.wg.Add(1)
	go e.consume(sessionCtx, intake)

	if e.metrics != nil {
		e.metrics.RecordSessionStarted()
	}
	e.logger.Info("Recording session started",
		slog.Int("queue_size", e.cfg.Session.QueueSize))
	return nil
}

// Ingest hands one capture tick to the engine. Never blocks the
// producer: when the queue is full the pair is dropped and counted.
// The send happens under the read lock so StopRecording cannot close
// the queue out from under an in-flight send.
func (e *Engine) Ingest(local, remote *audio.Chunk) {
	e.mu.RLock()
	intake := e.intake
	if intake == nil {
		e.mu.RUnlock()
		return
	}

	ingested := false
	select {
	case intake <- chunkPair{local: local, remote: remote}:
		ingested = true
	default:
	}
	depth := len(intake)
	e.mu.RUnlock()

	if ingested {
		if e.metrics != nil {
			e.metrics.RecordChunkIngested()
			e.metrics.SetQueueSize(depth)
		}
		return
	}

	e.mu.Lock()
	e.chunksDropped++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordChunkDropped()
	}
	e.logger.Warn("Intake queue full, dropping chunk pair")
}

// StopRecording ends the active session: intake stops, the queue
// drains, the assembler flushes, and the final merge and identity
// passes run before the engine transitions through Processing back to
// Monitoring or Idle. A no-op when no session is active.
func (e *Engine) StopRecording(ctx context.Context, reason string) error {
	e.mu.Lock()
	intake := e.intake
	e.intake = nil
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if intake == nil {
		return nil
	}
	stopped := e.machine.StopRecording(reason)

	// Drain: closing the channel lets the consumer finish queued pairs.
	close(intake)
	e.wg.Wait()
	if cancel != nil {
		cancel()
	}
	if !stopped {
		return nil
	}

	e.mu.RLock()
	endTime := e.lastChunkEnd
	started := e.recordStart
	e.mu.RUnlock()

	// Close any open local-speech run before the final merge.
	if seg := e.segmenter.Flush(endTime); seg != nil {
		e.appendLocalSegment(*seg)
	}

	finalRemote, finalEmbeddings := e.finalizeDiarization(ctx)
	e.mergeTimelines(finalRemote)

	if seg := e.assembler.Flush(endTime); seg != nil {
		e.publishSegment(*seg)
	}

	e.resolver.ResolveAll(ctx, finalEmbeddings)
	e.relabelTranscript()

	e.resetSessionState(ctx)

	if e.metrics != nil {
		e.metrics.RecordSessionFinished(time.Since(started).Seconds())
	}
	e.machine.FinishProcessing(e.cfg.Session.KeepMonitoring)
	e.logger.Info("Recording session finished",
		slog.String("reason", reason),
		slog.Float64("duration_seconds", endTime))
	return nil
}

// consume is the single consumer loop. It preserves arrival order for
// the discriminator, segmenter and assembler, and interleaves the
// periodic merge and pause-flush passes.
func (e *Engine) consume(ctx context.Context, intake chan chunkPair) {
	defer e.wg.Done()

	mergeTicker := time.NewTicker(e.cfg.Session.GetMergeInterval())
	defer mergeTicker.Stop()
	flushTicker := time.NewTicker(e.cfg.Transcript.GetFlushInterval())
	defer flushTicker.Stop()

	for {
		select {
		case pair, ok := <-intake:
			if !ok {
				return
			}
			e.processPair(ctx, pair)
			if e.metrics != nil {
				e.metrics.SetQueueSize(len(intake))
			}

		case <-mergeTicker.C:
			e.mergeTimelines(e.diarizer.Segments())
			e.resolver.ResolveAll(ctx, e.diarizer.Embeddings())
			e.relabelTranscript()

		case <-flushTicker.C:
			e.mu.RLock()
			at := e.lastChunkEnd
			e.mu.RUnlock()
			if seg := e.assembler.FlushIfStale(time.Now(), at); seg != nil {
				e.publishSegment(*seg)
			}

		case <-ctx.Done():
			return
		}
	}
}

// processPair runs one capture tick through the pipeline. Collaborator
// failures are logged and skipped so a single bad call cannot end the
// session.
func (e *Engine) processPair(ctx context.Context, pair chunkPair) {
	if pair.remote != nil {
		e.discriminator.PushRemote(pair.remote)

		if err := e.timeBoxed(ctx, "diarization", func(callCtx context.Context) error {
			return e.diarizer.Process(callCtx, pair.remote)
		}); err != nil {
			e.logger.Warn("Diarization call failed",
				slog.String("error", err.Error()))
		}
		e.noteChunkEnd(pair.remote.End())
	}

	if pair.local != nil {
		e.classifyLocal(pair.local)
		e.transcribeLocal(ctx, pair.local)
		e.noteChunkEnd(pair.local.End())
	}

	e.mu.Lock()
	e.chunksDone++
	e.mu.Unlock()
}

func (e *Engine) classifyLocal(chunk *audio.Chunk) {
	verdict := e.discriminator.Classify(chunk)
	if e.metrics != nil {
		e.metrics.RecordVerdict(verdict.Class.String(), verdict.Confidence)
	}

	seg, err := e.segmenter.Observe(verdict, chunk.Start, chunk.End())
	if err != nil {
		e.logger.Error("Segmenter rejected chunk",
			slog.Float64("start", chunk.Start),
			slog.String("error", err.Error()))
		return
	}
	if seg != nil {
		e.appendLocalSegment(*seg)
	}
}

func (e *Engine) transcribeLocal(ctx context.Context, chunk *audio.Chunk) {
	if e.metrics != nil {
		e.metrics.RecordTranscriptionRequest()
	}
	started := time.Now()

	var update *transcription.Update
	err := e.timeBoxed(ctx, "transcription", func(callCtx context.Context) error {
		var callErr error
		update, callErr = e.transcriber.Transcribe(callCtx, chunk)
		return callErr
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordTranscriptionFailure(time.Since(started).Seconds())
		}
		e.logger.Warn("Transcription call failed",
			slog.Float64("start", chunk.Start),
			slog.String("error", err.Error()))
		return
	}
	if e.metrics != nil {
		e.metrics.RecordTranscriptionSuccess(time.Since(started).Seconds())
	}
	if update == nil {
		return
	}

	increment := e.diffTranscript(update.Transcript)
	if increment == "" {
		return
	}

	for _, seg := range e.assembler.Append(increment, update.WindowStart, update.WindowEnd, time.Now()) {
		e.publishSegment(seg)
	}
}

// diffTranscript extracts the newly transcribed text from a cumulative
// transcript. A non-prefix update means the engine restarted its
// context; the whole transcript is treated as new.
func (e *Engine) diffTranscript(cumulative string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.lastTranscript
	e.lastTranscript = cumulative

	if cumulative == previous {
		return ""
	}
	if strings.HasPrefix(cumulative, previous) {
		return strings.TrimSpace(cumulative[len(previous):])
	}
	return strings.TrimSpace(cumulative)
}

// mergeTimelines fuses a remote segment snapshot with the accumulated
// local segments and installs the result for attribution and readers.
func (e *Engine) mergeTimelines(remote []timeline.RemoteSegment) {
	e.mu.RLock()
	local := make([]timeline.LocalSegment, len(e.localSegs))
	copy(local, e.localSegs)
	e.mu.RUnlock()

	merged := e.merger.Merge(remote, local)

	relabeled := 0
	for i := range merged {
		if merged[i].SpeakerID == timeline.SpeakerMe && merged[i].QualityScore > 0 {
			relabeled++
		}
	}

	e.mu.Lock()
	e.merged = merged
	e.mu.Unlock()

	e.assembler.SetTimeline(merged)
	for i := range merged {
		e.resolver.Observe(merged[i].SpeakerID)
	}

	if e.metrics != nil {
		e.metrics.RecordMergePass(len(merged), relabeled)
	}
}

// relabelTranscript back-fills speaker names on finalized segments as
// identities resolve.
func (e *Engine) relabelTranscript() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.segments {
		if e.segments[i].SpeakerID == "" || e.segments[i].SpeakerName != "" {
			continue
		}
		if p := e.resolver.Participant(e.segments[i].SpeakerID); p != nil && p.Name != "" {
			e.segments[i].SpeakerName = p.Name
		}
	}
}

func (e *Engine) finalizeDiarization(ctx context.Context) ([]timeline.RemoteSegment, map[string][]float32) {
	var segs []timeline.RemoteSegment
	var embeddings map[string][]float32

	err := e.timeBoxed(ctx, "diarization finalize", func(callCtx context.Context) error {
		var callErr error
		segs, embeddings, callErr = e.diarizer.Finalize(callCtx)
		return callErr
	})
	if err != nil {
		e.logger.Error("Diarization finalize failed, using last snapshot",
			slog.String("error", err.Error()))
		return e.diarizer.Segments(), e.diarizer.Embeddings()
	}
	return segs, embeddings
}

// resetSessionState clears everything the next session must not
// inherit. Snapshots (transcript, timeline, participants) survive until
// the next StartRecording so readers can fetch final results.
func (e *Engine) resetSessionState(ctx context.Context) {
	e.discriminator.Reset()
	e.segmenter.Reset()
	e.assembler.Reset()

	if err := e.timeBoxed(ctx, "transcriber reset", func(callCtx context.Context) error {
		return e.transcriber.Reset(callCtx)
	}); err != nil {
		e.logger.Warn("Transcriber reset failed",
			slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.lastTranscript = ""
	e.mu.Unlock()
}

func (e *Engine) appendLocalSegment(seg timeline.LocalSegment) {
	e.mu.Lock()
	e.localSegs = append(e.localSegs, seg)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordLocalSegment()
	}
	e.logger.Debug("Local speech segment finalized",
		slog.Float64("start", seg.Start),
		slog.Float64("end", seg.End),
		slog.Float64("confidence", seg.Confidence))
}

func (e *Engine) publishSegment(seg transcript.Segment) {
	if p := e.resolver.Participant(seg.SpeakerID); p != nil && p.Name != "" {
		seg.SpeakerName = p.Name
	}

	e.mu.Lock()
	e.segments = append(e.segments, seg)
	subs := make([]func(transcript.Segment), len(e.segmentSubs))
	copy(subs, e.segmentSubs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(seg)
	}
}

// onSegmentFlushed is the assembler callback, used for metrics only;
// the segment itself flows back through the Append/Flush return values.
func (e *Engine) onSegmentFlushed(_ transcript.Segment, trigger transcript.FlushTrigger) {
	if e.metrics != nil {
		e.metrics.RecordTranscriptSegment(string(trigger))
	}
}

func (e *Engine) noteChunkEnd(end float64) {
	e.mu.Lock()
	if end > e.lastChunkEnd {
		e.lastChunkEnd = end
	}
	e.mu.Unlock()
}

// timeBoxed runs one collaborator call under the configured timeout so
// a stalled external service cannot freeze the consumer loop.
func (e *Engine) timeBoxed(ctx context.Context, name string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Session.GetCollaboratorTimeout())
	defer cancel()

	if err := fn(callCtx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Rename records a user-supplied participant name and back-fills the
// transcript.
func (e *Engine) Rename(speakerID, name string) (*identity.Participant, error) {
	p, err := e.resolver.Rename(speakerID, name)
	if err != nil {
		return nil, err
	}
	e.relabelTranscript()
	return p, nil
}

// Transcript returns a copy of the finalized transcript segments.
func (e *Engine) Transcript() []transcript.Segment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]transcript.Segment, len(e.segments))
	copy(out, e.segments)
	return out
}

// Timeline returns a copy of the latest merged timeline.
func (e *Engine) Timeline() []timeline.MergedSegment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]timeline.MergedSegment, len(e.merged))
	copy(out, e.merged)
	return out
}

// Participants returns the current participant records.
func (e *Engine) Participants() []identity.Participant {
	return e.resolver.Participants()
}

// GetStats returns a snapshot of engine activity.
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	depth := 0
	if e.intake != nil {
		depth = len(e.intake)
	}

	return EngineStats{
		State:              e.machine.State(),
		ErrorReason:        e.machine.ErrorReason(),
		ChunksProcessed:    e.chunksDone,
		ChunksDropped:      e.chunksDropped,
		QueueDepth:         depth,
		LocalSegments:      len(e.localSegs),
		MergedSegments:     len(e.merged),
		TranscriptSegments: len(e.segments),
		RecordingSeconds:   e.lastChunkEnd,
		Discriminator:      e.discriminator.GetStats(),
		Identity:           e.resolver.GetStats(),
	}
}
