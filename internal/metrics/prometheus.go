package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the fusion engine
type Metrics struct {
	// Chunk intake metrics
	ChunksIngested prometheus.Counter
	ChunksDropped  prometheus.Counter
	QueueSize      prometheus.Gauge

	// Leakage discrimination metrics
	Verdicts          *prometheus.CounterVec
	VerdictConfidence prometheus.Histogram

	// Timeline metrics
	LocalSegments    prometheus.Counter
	MergePasses      prometheus.Counter
	MergedSegments   prometheus.Gauge
	RelabeledToLocal prometheus.Counter

	// Transcript metrics
	TranscriptSegments *prometheus.CounterVec

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Identity metrics
	IdentityLookups *prometheus.CounterVec

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsFinished prometheus.Counter
	SessionDuration  prometheus.Histogram
	SessionErrors    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	WebsocketClients    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Chunk intake metrics
		ChunksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_chunks_ingested_total",
			Help: "Total number of audio chunks accepted by the engine",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_chunks_dropped_total",
			Help: "Total number of audio chunks dropped due to a full intake queue",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "echofuse_chunk_queue_size",
			Help: "Current number of chunks in the intake queue",
		}),

		// Leakage discrimination metrics
		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echofuse_leakage_verdicts_total",
			Help: "Total number of leakage verdicts by class",
		}, []string{"class"}),
		VerdictConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echofuse_leakage_verdict_confidence",
			Help:    "Confidence of leakage verdicts",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Timeline metrics
		LocalSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_local_segments_total",
			Help: "Total number of finalized local speech segments",
		}),
		MergePasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_merge_passes_total",
			Help: "Total number of timeline merge passes",
		}),
		MergedSegments: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "echofuse_merged_segments",
			Help: "Number of segments in the latest merged timeline",
		}),
		RelabeledToLocal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_segments_relabeled_total",
			Help: "Total number of remote segments relabeled to the local speaker",
		}),

		// Transcript metrics
		TranscriptSegments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echofuse_transcript_segments_total",
			Help: "Total number of finalized transcript segments by flush trigger",
		}, []string{"trigger"}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echofuse_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Identity metrics
		IdentityLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echofuse_identity_lookups_total",
			Help: "Total number of identity resolutions by outcome",
		}, []string{"outcome"}),

		// Session metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_sessions_finished_total",
			Help: "Total number of recording sessions finished",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echofuse_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		SessionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echofuse_session_errors_total",
			Help: "Total number of fatal session failures",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echofuse_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echofuse_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echofuse_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "echofuse_websocket_clients",
			Help: "Current number of connected transcript feed clients",
		}),
	}
}

// RecordChunkIngested increments the chunks ingested counter
func (m *Metrics) RecordChunkIngested() {
	m.ChunksIngested.Inc()
}

// RecordChunkDropped increments the chunks dropped counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// SetQueueSize sets the current intake queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordVerdict records one leakage verdict
func (m *Metrics) RecordVerdict(class string, confidence float64) {
	m.Verdicts.WithLabelValues(class).Inc()
	m.VerdictConfidence.Observe(confidence)
}

// RecordLocalSegment increments the local segments counter
func (m *Metrics) RecordLocalSegment() {
	m.LocalSegments.Inc()
}

// RecordMergePass records one merge pass and its output size
func (m *Metrics) RecordMergePass(segments, relabeled int) {
	m.MergePasses.Inc()
	m.MergedSegments.Set(float64(segments))
	m.RelabeledToLocal.Add(float64(relabeled))
}

// RecordTranscriptSegment records one finalized transcript segment
func (m *Metrics) RecordTranscriptSegment(trigger string) {
	m.TranscriptSegments.WithLabelValues(trigger).Inc()
}

// RecordTranscriptionRequest increments the transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retries counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordIdentityLookup records one identity resolution outcome
func (m *Metrics) RecordIdentityLookup(outcome string) {
	m.IdentityLookups.WithLabelValues(outcome).Inc()
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionFinished records one finished session
func (m *Metrics) RecordSessionFinished(durationSeconds float64) {
	m.SessionsFinished.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionError increments the session errors counter
func (m *Metrics) RecordSessionError() {
	m.SessionErrors.Inc()
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error response
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetWebsocketClients sets the current websocket client count
func (m *Metrics) SetWebsocketClients(count int) {
	m.WebsocketClients.Set(float64(count))
}
