// Package server implements the observability HTTP server: health, session
// and transcript snapshots, Prometheus metrics, and a websocket feed of
// finalized transcript segments for read-only observers.
package server 