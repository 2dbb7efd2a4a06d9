// Package diarization talks to the external diarization engine over
// HTTP. The engine consumes remote-only audio and maintains the
// speaker-labeled segment list and per-speaker voice embeddings; this
// client mirrors that state locally so the pipeline can snapshot it.
package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/echofuse/echofuse/internal/audio"
	"github.com/echofuse/echofuse/internal/timeline"
)

// Config contains diarization client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// apiResponse is the diarization API's JSON body: the latest full
// segment list and embedding map for the session.
type apiResponse struct {
	Segments   []timeline.RemoteSegment `json:"segments"`
	Embeddings map[string][]float32     `json:"embeddings"`
}

// Stats is a snapshot of client activity.
type Stats struct {
	ChunksSent   uint64 `json:"chunks_sent"`
	Failures     uint64 `json:"failures"`
	SegmentCount int    `json:"segment_count"`
	SpeakerCount int    `json:"speaker_count"`
}

// Client streams remote audio chunks to the diarization API and caches
// the latest segment list and embeddings it returns.
type Client struct {
	config     Config
	httpClient *http.Client

	mu         sync.RWMutex
	segments   []timeline.RemoteSegment
	embeddings map[string][]float32
	chunksSent uint64
	failures   uint64
}

// NewClient creates a diarization client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		embeddings: make(map[string][]float32),
	}, nil
}

// Process sends one remote chunk and refreshes the cached segment list
// from the response.
func (c *Client) Process(ctx context.Context, chunk *audio.Chunk) error {
	resp, err := c.post(ctx, c.config.Endpoint, chunk)
	if err != nil {
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.chunksSent++
	c.segments = resp.Segments
	if resp.Embeddings != nil {
		c.embeddings = resp.Embeddings
	}
	c.mu.Unlock()
	return nil
}

// Segments returns the latest speaker-labeled segment list.
func (c *Client) Segments() []timeline.RemoteSegment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]timeline.RemoteSegment, len(c.segments))
	copy(out, c.segments)
	return out
}

// Embeddings returns the latest per-speaker embedding map.
func (c *Client) Embeddings() map[string][]float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]float32, len(c.embeddings))
	for k, v := range c.embeddings {
		out[k] = v
	}
	return out
}

// Finalize completes the diarization pass, returns the authoritative
// results, and resets both the API session and the local cache.
func (c *Client) Finalize(ctx context.Context) ([]timeline.RemoteSegment, map[string][]float32, error) {
	resp, err := c.post(ctx, c.finalizeURL(), nil)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.segments = nil
	c.embeddings = make(map[string][]float32)
	c.mu.Unlock()

	return resp.Segments, resp.Embeddings, nil
}

// GetStats returns a snapshot of client activity.
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		ChunksSent:   c.chunksSent,
		Failures:     c.failures,
		SegmentCount: len(c.segments),
		SpeakerCount: len(c.embeddings),
	}
}

// post sends one request, with a WAV body when a chunk is given.
func (c *Client) post(ctx context.Context, url string, chunk *audio.Chunk) (*apiResponse, error) {
	var body io.Reader
	contentType := ""

	if chunk != nil {
		wavData, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk as WAV: %w", err)
		}

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		fileWriter, err := writer.CreateFormFile("file", "chunk.wav")
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := fileWriter.Write(wavData); err != nil {
			return nil, fmt.Errorf("failed to write audio data: %w", err)
		}

		fields := map[string]string{
			"sample_rate":  fmt.Sprintf("%d", chunk.SampleRate),
			"window_start": fmt.Sprintf("%.3f", chunk.Start),
			"window_end":   fmt.Sprintf("%.3f", chunk.End()),
		}
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				return nil, fmt.Errorf("failed to write field %s: %w", key, err)
			}
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close multipart writer: %w", err)
		}

		body = &buf
		contentType = writer.FormDataContentType()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return &parsed, nil
}

func (c *Client) finalizeURL() string {
	return strings.TrimSuffix(c.config.Endpoint, "/") + "/finalize"
}
