// Package events streams the service log to WebSocket clients.
//
// A Hub is installed as an extra zerolog writer; every log line becomes an
// Event {"type": <level>, "message": <msg>} pushed to each connected client.
// Slow clients lose events rather than stalling the logger.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Hub fans events out to connected clients
type Hub struct {
	bufferSize int
	logger     zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	dropped atomic.Uint64
}

// NewHub creates a hub. bufferSize is the per-client queue length.
func NewHub(bufferSize int, logger zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		bufferSize: bufferSize,
		logger:     logger.With().Str("component", "events").Logger(),
		clients:    make(map[*Client]struct{}),
	}
}

// Publish queues ev for every client. It never blocks and never logs,
// since it runs inside the log writer.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Writer returns a zerolog-compatible writer that publishes each log line
func (h *Hub) Writer() *LogWriter {
	return &LogWriter{hub: h}
}

// LogWriter turns zerolog JSON lines into events
type LogWriter struct {
	hub *Hub
}

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Write implements io.Writer. Lines that are not JSON are published verbatim.
func (w *LogWriter) Write(p []byte) (int, error) {
	var line logLine
	if err := json.Unmarshal(p, &line); err != nil {
		w.hub.Publish(Event{Type: "log", Message: string(p)})
		return len(p), nil
	}
	if line.Level == "" {
		line.Level = "log"
	}
	w.hub.Publish(Event{Type: line.Level, Message: line.Message})
	return len(p), nil
}
