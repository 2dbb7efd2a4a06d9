package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echofuse/echofuse/internal/audio"
)

func testChunk(t *testing.T) *audio.Chunk {
	t.Helper()

	samples := make([]float32, 1600)
	chunk, err := audio.NewChunk(samples, 16000, 1.0)
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}
	return chunk
}

func newTestClient(t *testing.T, endpoint string, maxRetries int) *Client {
	t.Helper()

	c, err := NewClient(Config{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
		MaxRetries:    maxRetries,
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	c, err := NewClient(Config{Endpoint: "http://localhost:9999"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout, got %v", c.config.Timeout)
	}
	if c.config.MaxConcurrent != 4 {
		t.Errorf("Expected default concurrency, got %d", c.config.MaxConcurrent)
	}
}

func TestTranscribeParsesUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}

		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing audio file: %v", err)
		} else {
			file.Close()
			if header.Size == 0 {
				t.Error("Empty audio file upload")
			}
		}

		if got := r.FormValue("sample_rate"); got != "16000" {
			t.Errorf("Expected sample_rate 16000, got %q", got)
		}
		if got, _ := strconv.ParseFloat(r.FormValue("window_start"), 64); got != 1.0 {
			t.Errorf("Expected window_start 1.0, got %f", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript": "hello world", "window_start": 0.5, "window_end": 1.1}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	update, err := client.Transcribe(context.Background(), testChunk(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if update.Transcript != "hello world" {
		t.Errorf("Expected transcript, got %q", update.Transcript)
	}
	if update.WindowStart != 0.5 || update.WindowEnd != 1.1 {
		t.Errorf("Expected server window bounds, got [%f, %f]", update.WindowStart, update.WindowEnd)
	}
}

func TestTranscribeFallsBackToChunkBounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript": "partial"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	update, err := client.Transcribe(context.Background(), testChunk(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if update.WindowStart != 1.0 {
		t.Errorf("Expected chunk start 1.0, got %f", update.WindowStart)
	}
	if update.WindowEnd != 1.1 {
		t.Errorf("Expected chunk end 1.1, got %f", update.WindowEnd)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"transcript": "recovered"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)

	update, err := client.Transcribe(context.Background(), testChunk(t))
	if err != nil {
		t.Fatalf("Transcribe failed after retry: %v", err)
	}
	if update.Transcript != "recovered" {
		t.Errorf("Expected recovered transcript, got %q", update.Transcript)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.TotalRetries)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad chunk", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)

	if _, err := client.Transcribe(context.Background(), testChunk(t)); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("400 must not be retried, got %d attempts", calls)
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestReset(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/transcribe", 0)

	if err := client.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if path != "/transcribe/reset" {
		t.Errorf("Expected reset path, got %q", path)
	}
}

func TestTranscribeHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.Write([]byte(`{"transcript": ""}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Transcribe(ctx, testChunk(t)); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
