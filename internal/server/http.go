package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echofuse/echofuse/internal/config"
	"github.com/echofuse/echofuse/internal/metrics"
	"github.com/echofuse/echofuse/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring and control
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	engine  *session.Engine
	metrics *metrics.Metrics
	feed    *TranscriptFeed

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, engine *session.Engine, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		engine:    engine,
		metrics:   m,
		feed:      NewTranscriptFeed(engine, logger, m),
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session lifecycle control and inspection
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))

	// Pipeline output endpoints
	mux.HandleFunc("/timeline", h.withMetrics("/timeline", h.handleTimeline))
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))
	mux.HandleFunc("/participants", h.withMetrics("/participants", h.handleParticipants))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Live finalized-segment feed
	mux.HandleFunc("/ws/transcript", h.feed.Handle)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.feed.Close()
	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	stats := h.engine.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "echofuse",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"engine": map[string]interface{}{
				"state":            stats.State,
				"chunks_processed": stats.ChunksProcessed,
				"chunks_dropped":   stats.ChunksDropped,
				"queue_depth":      stats.QueueDepth,
			},
			"transcript_feed": map[string]interface{}{
				"status":  "running",
				"clients": h.feed.ClientCount(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// sessionAction is the /session POST body
type sessionAction struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// handleSession implements the /session endpoint: GET returns the
// lifecycle state, POST drives it.
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		response := map[string]interface{}{
			"state":        h.engine.State(),
			"error_reason": h.engine.Machine().ErrorReason(),
			"timestamp":    time.Now().UTC(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		var action sessionAction
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}

		var accepted bool
		var err error
		switch action.Action {
		case "start_monitoring":
			accepted = h.engine.StartMonitoring()
		case "conversation_detected":
			accepted = h.engine.ConversationDetected()
		case "start":
			err = h.engine.StartRecording(r.Context())
			accepted = err == nil
		case "stop":
			reason := action.Reason
			if reason == "" {
				reason = "manual stop"
			}
			err = h.engine.StopRecording(context.Background(), reason)
			accepted = err == nil
		case "restart":
			accepted = h.engine.Machine().Restart()
		default:
			http.Error(w, fmt.Sprintf("Unknown action '%s'", action.Action), http.StatusBadRequest)
			return
		}

		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		response := map[string]interface{}{
			"accepted": accepted,
			"state":    h.engine.State(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTimeline implements the /timeline endpoint
func (h *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	merged := h.engine.Timeline()
	response := map[string]interface{}{
		"total_segments": len(merged),
		"timestamp":      time.Now().UTC(),
		"segments":       merged,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleTranscript implements the /transcript endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	segments := h.engine.Transcript()
	response := map[string]interface{}{
		"total_segments": len(segments),
		"timestamp":      time.Now().UTC(),
		"segments":       segments,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// renameRequest is the /participants POST body
type renameRequest struct {
	SpeakerID string `json:"speaker_id"`
	Name      string `json:"name"`
}

// handleParticipants implements the /participants endpoint: GET lists
// participant records, POST renames one.
func (h *HTTPServer) handleParticipants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		participants := h.engine.Participants()
		response := map[string]interface{}{
			"total_participants": len(participants),
			"timestamp":          time.Now().UTC(),
			"participants":       participants,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.SpeakerID == "" {
			http.Error(w, "speaker_id required", http.StatusBadRequest)
			return
		}

		participant, err := h.engine.Rename(req.SpeakerID, req.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(participant)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"audio": map[string]interface{}{
			"sample_rate":      h.config.Audio.SampleRate,
			"channels":         h.config.Audio.Channels,
			"bit_depth":        h.config.Audio.BitDepth,
			"chunk_duration":   h.config.Audio.ChunkDuration,
			"reference_window": h.config.Audio.ReferenceWindow,
		},
		"leakage": map[string]interface{}{
			"silence_floor":          h.config.Leakage.SilenceFloor,
			"correlation_threshold":  h.config.Leakage.CorrelationThreshold,
			"energy_dominance_ratio": h.config.Leakage.EnergyDominanceRatio,
			"max_lag":                h.config.Leakage.MaxLag,
			"lag_step":               h.config.Leakage.LagStep,
		},
		"timeline": map[string]interface{}{
			"min_segment_duration": h.config.Timeline.MinSegmentDuration,
			"overlap_ratio":        h.config.Timeline.OverlapRatio,
		},
		"transcript": map[string]interface{}{
			"pause_threshold": h.config.Transcript.PauseThreshold,
			"flush_interval":  h.config.Transcript.FlushInterval,
			"default_speaker": h.config.Transcript.DefaultSpeaker,
		},
		"identity": map[string]interface{}{
			"auto_assign_threshold": h.config.Identity.AutoAssignThreshold,
			"tentative_threshold":   h.config.Identity.TentativeThreshold,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
		},
		"session": map[string]interface{}{
			"queue_size":           h.config.Session.QueueSize,
			"merge_interval":       h.config.Session.MergeInterval,
			"collaborator_timeout": h.config.Session.CollaboratorTimeout,
			"keep_monitoring":      h.config.Session.KeepMonitoring,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"engine":    h.engine.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRoot implements the root endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docs := map[string]interface{}{
		"service": "echofuse",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"/health":        "Service health and component status",
			"/session":       "GET lifecycle state, POST lifecycle actions",
			"/timeline":      "Latest merged speaker timeline",
			"/transcript":    "Finalized transcript segments",
			"/participants":  "GET participant records, POST rename",
			"/config":        "Sanitized runtime configuration",
			"/stats":         "Engine statistics snapshot",
			"/ws/transcript": "Websocket feed of finalized segments",
			"/metrics":       "Prometheus metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}
