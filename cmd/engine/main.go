package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echofuse/echofuse/internal/capture"
	"github.com/echofuse/echofuse/internal/config"
	"github.com/echofuse/echofuse/internal/diarization"
	"github.com/echofuse/echofuse/internal/identity"
	"github.com/echofuse/echofuse/internal/metrics"
	"github.com/echofuse/echofuse/internal/server"
	"github.com/echofuse/echofuse/internal/session"
	"github.com/echofuse/echofuse/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "echofuse"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	replayLocal := flag.String("replay-local", "", "WAV file of local microphone audio to replay")
	replayRemote := flag.String("replay-remote", "", "WAV file of remote output audio to replay")
	replayRealtime := flag.Bool("replay-realtime", false, "Pace replay at real time instead of as fast as possible")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Float64("correlation_threshold", cfg.Leakage.CorrelationThreshold),
		slog.Float64("overlap_ratio", cfg.Timeline.OverlapRatio),
		slog.Float64("pause_threshold", cfg.Transcript.PauseThreshold),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("diarization_endpoint", cfg.Diarization.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize transcription client
	transcriber, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	transcriber.OnRetry(appMetrics.RecordTranscriptionRetry)
	defer transcriber.Close()

	// Initialize diarization client
	diarizer, err := diarization.NewClient(diarization.Config{
		Endpoint: cfg.Diarization.Endpoint,
		APIKey:   cfg.Diarization.APIKey,
		Timeout:  cfg.Diarization.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create diarization client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize voice identity store (optional)
	var store identity.Store
	if cfg.Identity.StorePath != "" {
		fileStore, err := identity.NewFileStore(cfg.Identity.StorePath)
		if err != nil {
			logger.Error("Failed to load identity store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = fileStore
		logger.Info("Identity store loaded",
			slog.String("path", cfg.Identity.StorePath),
			slog.Int("identities", fileStore.Len()),
		)
	}

	// Initialize session engine
	engine, err := session.NewEngine(cfg, transcriber, diarizer, store, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session engine initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, engine, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	engine.StartMonitoring()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Replay mode: feed recorded audio through the pipeline instead of
	// waiting for a capture source.
	replayDone := make(chan error, 1)
	if *replayLocal != "" || *replayRemote != "" {
		if *replayLocal == "" || *replayRemote == "" {
			logger.Error("Replay requires both -replay-local and -replay-remote")
			os.Exit(1)
		}

		replayer, err := capture.NewReplayer(*replayLocal, *replayRemote,
			cfg.Audio.ChunkDuration, *replayRealtime, logger)
		if err != nil {
			logger.Error("Failed to create replayer", slog.String("error", err.Error()))
			os.Exit(1)
		}

		go func() {
			engine.ConversationDetected()
			if err := engine.StartRecording(ctx); err != nil {
				replayDone <- err
				return
			}

			logger.Info("Replay started",
				slog.Float64("duration", replayer.Duration()),
				slog.Bool("realtime", *replayRealtime),
			)

			if err := replayer.Run(ctx, engine.Ingest); err != nil {
				replayDone <- err
				return
			}
			replayDone <- engine.StopRecording(ctx, "replay_complete")
		}()
	}

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal or replay completion
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-replayDone:
		if err != nil {
			logger.Error("Replay failed", slog.String("error", err.Error()))
		} else {
			logger.Info("Replay complete")
		}
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop any in-flight recording session (flushes and finalizes)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := engine.StopRecording(stopCtx, "shutdown"); err != nil {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := engine.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("chunks_processed", stats.ChunksProcessed),
		slog.Uint64("chunks_dropped", stats.ChunksDropped),
		slog.Int("transcript_segments", stats.TranscriptSegments),
		slog.Int("merged_segments", stats.MergedSegments),
		slog.String("state", string(stats.State)),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
