package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echofuse/echofuse/internal/metrics"
	"github.com/echofuse/echofuse/internal/session"
	"github.com/echofuse/echofuse/internal/transcript"
)

// feedMessage is one websocket frame of the transcript feed.
type feedMessage struct {
	Type    string              `json:"type"`
	Segment *transcript.Segment `json:"segment,omitempty"`
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteJSON(v)
}

// TranscriptFeed pushes finalized transcript segments to websocket
// clients as they are produced. Slow clients are disconnected rather
// than allowed to stall the engine's publish path.
type TranscriptFeed struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsConn]chan transcript.Segment
	closed  bool
}

// NewTranscriptFeed creates a feed and subscribes it to the engine's
// finalized segments.
func NewTranscriptFeed(engine *session.Engine, logger *slog.Logger, m *metrics.Metrics) *TranscriptFeed {
	if logger == nil {
		logger = slog.Default()
	}

	f := &TranscriptFeed{
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			// The feed is one-way and carries no credentials; any origin
			// may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsConn]chan transcript.Segment),
	}

	if engine != nil {
		engine.SubscribeSegments(f.broadcast)
	}
	return f
}

// ClientCount returns the number of connected clients.
func (f *TranscriptFeed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// broadcast fans one segment out to every client queue without
// blocking. A full queue drops the client's oldest pending segment.
func (f *TranscriptFeed) broadcast(seg transcript.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, queue := range f.clients {
		select {
		case queue <- seg:
		default:
			select {
			case <-queue:
			default:
			}
			select {
			case queue <- seg:
			default:
			}
		}
	}
}

// Handle upgrades the request and streams finalized segments until the
// client disconnects.
func (f *TranscriptFeed) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrade already wrote the response in most cases
		return
	}

	wc := &wsConn{c: conn}
	queue := make(chan transcript.Segment, 64)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[wc] = queue
	count := len(f.clients)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SetWebsocketClients(count)
	}
	f.logger.Info("Transcript feed client connected",
		slog.String("remote", r.RemoteAddr),
		slog.Int("clients", count))

	defer f.drop(wc, r.RemoteAddr)

	// Reader goroutine detects disconnects; inbound frames are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case seg := <-queue:
			msg := feedMessage{Type: "segment", Segment: &seg}
			if err := wc.writeJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := wc.writeJSON(feedMessage{Type: "ping"}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Close disconnects every client. Called on server shutdown.
func (f *TranscriptFeed) Close() {
	f.mu.Lock()
	f.closed = true
	conns := make([]*wsConn, 0, len(f.clients))
	for wc := range f.clients {
		conns = append(conns, wc)
	}
	f.clients = make(map[*wsConn]chan transcript.Segment)
	f.mu.Unlock()

	for _, wc := range conns {
		wc.c.Close()
	}
	if f.metrics != nil {
		f.metrics.SetWebsocketClients(0)
	}
}

func (f *TranscriptFeed) drop(wc *wsConn, remote string) {
	f.mu.Lock()
	delete(f.clients, wc)
	count := len(f.clients)
	f.mu.Unlock()

	wc.c.Close()
	if f.metrics != nil {
		f.metrics.SetWebsocketClients(count)
	}
	f.logger.Info("Transcript feed client disconnected",
		slog.String("remote", remote),
		slog.Int("clients", count))
}
