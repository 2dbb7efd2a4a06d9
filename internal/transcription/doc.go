// Package transcription implements the HTTP client for the streaming
// transcription engine. It uploads audio chunks as multipart form data,
// implements retry logic with exponential backoff and rate limiting, and
// yields the cumulative transcript plus the time window of each chunk.
package transcription 