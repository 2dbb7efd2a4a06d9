package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Leakage       LeakageConfig       `yaml:"leakage"`
	Timeline      TimelineConfig      `yaml:"timeline"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Identity      IdentityConfig      `yaml:"identity"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Diarization   DiarizationConfig   `yaml:"diarization"`
	Session       SessionConfig       `yaml:"session"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains capture and sample buffer parameters
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	BitDepth        int     `yaml:"bit_depth"`
	ChunkDuration   float64 `yaml:"chunk_duration"`   // seconds per capture chunk
	ReferenceWindow float64 `yaml:"reference_window"` // seconds of remote audio retained
}

// LeakageConfig contains echo discrimination parameters. The thresholds
// are calibration constants that vary with microphone and speaker
// characteristics; tune per deployment.
type LeakageConfig struct {
	SilenceFloor         float64 `yaml:"silence_floor"`
	CorrelationThreshold float64 `yaml:"correlation_threshold"`
	EnergyDominanceRatio float64 `yaml:"energy_dominance_ratio"`
	MaxLag               int     `yaml:"max_lag"`  // samples
	LagStep              int     `yaml:"lag_step"` // samples
}

// TimelineConfig contains segmentation and merge parameters
type TimelineConfig struct {
	MinSegmentDuration float64 `yaml:"min_segment_duration"` // seconds
	OverlapRatio       float64 `yaml:"overlap_ratio"`
}

// TranscriptConfig contains sentence assembly parameters
type TranscriptConfig struct {
	PauseThreshold float64 `yaml:"pause_threshold"` // seconds
	FlushInterval  float64 `yaml:"flush_interval"`  // seconds, stale-buffer poll cadence
	DefaultSpeaker string  `yaml:"default_speaker"`
}

// IdentityConfig contains speaker identity resolution thresholds
type IdentityConfig struct {
	AutoAssignThreshold float64  `yaml:"auto_assign_threshold"`
	TentativeThreshold  float64  `yaml:"tentative_threshold"`
	ExpectedNames       []string `yaml:"expected_names"`
	StorePath           string   `yaml:"store_path"` // optional embedding store file
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// DiarizationConfig contains diarization API configuration
type DiarizationConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// SessionConfig contains engine orchestration parameters
type SessionConfig struct {
	QueueSize           int     `yaml:"queue_size"`           // bounded chunk intake
	MergeInterval       float64 `yaml:"merge_interval"`       // seconds between merge/identity passes
	CollaboratorTimeout float64 `yaml:"collaborator_timeout"` // seconds per external call
	KeepMonitoring      bool    `yaml:"keep_monitoring"`      // return to monitoring after processing
}

// HTTPConfig contains observability API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Leakage.Validate(); err != nil {
		return fmt.Errorf("leakage config: %w", err)
	}

	if err := c.Timeline.Validate(); err != nil {
		return fmt.Errorf("timeline config: %w", err)
	}

	if err := c.Transcript.Validate(); err != nil {
		return fmt.Errorf("transcript config: %w", err)
	}

	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Diarization.Validate(); err != nil {
		return fmt.Errorf("diarization config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.ChunkDuration <= 0 || a.ChunkDuration > 1 {
		return fmt.Errorf("chunk_duration must be in (0, 1] seconds, got %f", a.ChunkDuration)
	}

	if a.ReferenceWindow < a.ChunkDuration {
		return fmt.Errorf("reference_window (%f) must cover at least one chunk (%f)",
			a.ReferenceWindow, a.ChunkDuration)
	}

	return nil
}

// ReferenceCapacity returns the remote reference ring capacity in samples
func (a *AudioConfig) ReferenceCapacity() int {
	return int(a.ReferenceWindow * float64(a.SampleRate))
}

// Validate validates leakage discrimination configuration
func (l *LeakageConfig) Validate() error {
	if l.SilenceFloor <= 0 {
		return fmt.Errorf("silence_floor must be positive, got %f", l.SilenceFloor)
	}

	if l.CorrelationThreshold <= 0 || l.CorrelationThreshold >= 1 {
		return fmt.Errorf("correlation_threshold must be between 0 and 1 (exclusive), got %f",
			l.CorrelationThreshold)
	}

	if l.EnergyDominanceRatio < 1 {
		return fmt.Errorf("energy_dominance_ratio must be at least 1, got %f", l.EnergyDominanceRatio)
	}

	if l.MaxLag < 0 {
		return fmt.Errorf("max_lag cannot be negative, got %d", l.MaxLag)
	}

	if l.MaxLag > 0 && (l.LagStep < 1 || l.LagStep > l.MaxLag) {
		return fmt.Errorf("lag_step must be between 1 and max_lag (%d), got %d", l.MaxLag, l.LagStep)
	}

	return nil
}

// Validate validates timeline configuration
func (t *TimelineConfig) Validate() error {
	if t.MinSegmentDuration <= 0 {
		return fmt.Errorf("min_segment_duration must be positive, got %f", t.MinSegmentDuration)
	}

	if t.OverlapRatio <= 0 || t.OverlapRatio >= 1 {
		return fmt.Errorf("overlap_ratio must be between 0 and 1 (exclusive), got %f", t.OverlapRatio)
	}

	return nil
}

// Validate validates transcript assembly configuration
func (t *TranscriptConfig) Validate() error {
	if t.PauseThreshold <= 0 {
		return fmt.Errorf("pause_threshold must be positive, got %f", t.PauseThreshold)
	}

	if t.FlushInterval <= 0 || t.FlushInterval > t.PauseThreshold {
		return fmt.Errorf("flush_interval must be in (0, pause_threshold], got %f", t.FlushInterval)
	}

	if t.DefaultSpeaker == "" {
		return fmt.Errorf("default_speaker cannot be empty")
	}

	return nil
}

// Validate validates identity resolution configuration
func (i *IdentityConfig) Validate() error {
	if i.AutoAssignThreshold <= 0 || i.AutoAssignThreshold > 1 {
		return fmt.Errorf("auto_assign_threshold must be in (0, 1], got %f", i.AutoAssignThreshold)
	}

	if i.TentativeThreshold <= 0 || i.TentativeThreshold > i.AutoAssignThreshold {
		return fmt.Errorf("tentative_threshold must be in (0, auto_assign_threshold], got %f",
			i.TentativeThreshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates diarization configuration
func (d *DiarizationConfig) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	return nil
}

// Validate validates session orchestration configuration
func (s *SessionConfig) Validate() error {
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.MergeInterval <= 0 {
		return fmt.Errorf("merge_interval must be positive, got %f", s.MergeInterval)
	}

	if s.CollaboratorTimeout <= 0 {
		return fmt.Errorf("collaborator_timeout must be positive, got %f", s.CollaboratorTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkDuration returns the capture chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetPauseThreshold returns the pause threshold as a time.Duration
func (t *TranscriptConfig) GetPauseThreshold() time.Duration {
	return time.Duration(t.PauseThreshold * float64(time.Second))
}

// GetFlushInterval returns the stale-buffer poll interval as a time.Duration
func (t *TranscriptConfig) GetFlushInterval() time.Duration {
	return time.Duration(t.FlushInterval * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the diarization timeout as a time.Duration
func (d *DiarizationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetMergeInterval returns the merge pass interval as a time.Duration
func (s *SessionConfig) GetMergeInterval() time.Duration {
	return time.Duration(s.MergeInterval * float64(time.Second))
}

// GetCollaboratorTimeout returns the per-call collaborator timeout as a time.Duration
func (s *SessionConfig) GetCollaboratorTimeout() time.Duration {
	return time.Duration(s.CollaboratorTimeout * float64(time.Second))
}

// Default returns a configuration with production defaults. Used when no
// config file is supplied and as the base for partial files.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			BitDepth:        16,
			ChunkDuration:   0.1,
			ReferenceWindow: 1.0,
		},
		Leakage: LeakageConfig{
			SilenceFloor:         0.005,
			CorrelationThreshold: 0.6,
			EnergyDominanceRatio: 2.0,
			MaxLag:               1600,
			LagStep:              160,
		},
		Timeline: TimelineConfig{
			MinSegmentDuration: 0.3,
			OverlapRatio:       0.5,
		},
		Transcript: TranscriptConfig{
			PauseThreshold: 2.0,
			FlushInterval:  0.5,
			DefaultSpeaker: "unknown",
		},
		Identity: IdentityConfig{
			AutoAssignThreshold: 0.80,
			TentativeThreshold:  0.70,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:8081/transcribe",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Diarization: DiarizationConfig{
			Endpoint: "http://localhost:8082/diarize",
			Timeout:  30,
		},
		Session: SessionConfig{
			QueueSize:           64,
			MergeInterval:       30,
			CollaboratorTimeout: 10,
			KeepMonitoring:      true,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
