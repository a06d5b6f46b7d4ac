package devserver

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

// Event is one server-sent event for connected browsers.
type Event struct {
	Name string
	Data []byte
}

func newEvent(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{Name: name, Data: data}
}

// Hub manages SSE clients of the hot update channel.
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	clients  map[int]*hubClient
	recorder metrics.Recorder
	closed   bool
	// status is the last ok/problems event, replayed to new clients.
	status *Event
}

type hubClient struct {
	id   int
	ch   chan Event
	done chan struct{}
}

func NewHub(recorder metrics.Recorder) *Hub {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Hub{clients: map[int]*hubClient{}, recorder: recorder}
}

// ServeHTTP implements the event stream endpoint.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "dev server shutting down", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &hubClient{ch: make(chan Event, 8), done: make(chan struct{})}
	h.mu.Lock()
	client.id = h.nextID
	h.nextID++
	h.clients[client.id] = client
	status := h.status
	count := len(h.clients)
	h.mu.Unlock()
	h.recorder.SetHotClients(count)

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(": connected\n\n"); err != nil {
		slog.Debug("event stream write", "error", err)
		h.removeClient(client.id)
		return
	}
	if status != nil {
		writeEvent(bw, *status)
	}
	if err := bw.Flush(); err == nil {
		flusher.Flush()
	}

	hb := time.NewTicker(30 * time.Second)
	defer hb.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.removeClient(client.id)
			return
		case <-client.done:
			return
		case <-hb.C:
			if _, err := bw.WriteString(": ping\n\n"); err == nil && bw.Flush() == nil {
				flusher.Flush()
			}
		case ev := <-client.ch:
			writeEvent(bw, ev)
			if err := bw.Flush(); err != nil {
				slog.Debug("event stream write", "error", err)
				h.removeClient(client.id)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(bw *bufio.Writer, ev Event) {
	_, _ = bw.WriteString("event: " + ev.Name + "\n")
	_, _ = bw.WriteString("data: ")
	_, _ = bw.Write(ev.Data)
	_, _ = bw.WriteString("\n\n")
}

func (h *Hub) removeClient(id int) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.recorder.SetHotClients(count)
	}
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends ev to every client. Clients whose buffers are full are dropped.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if ev.Name == eventOK || ev.Name == eventProblems {
		h.status = &ev
	}
	snapshot := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range snapshot {
		select {
		case c.ch <- ev:
		default:
			dropped++
			h.removeClient(c.id)
		}
	}
	h.recorder.IncHotUpdate(ev.Name)
	slog.Debug("Hot event broadcast", "event", ev.Name, "clients", len(snapshot), "dropped", dropped)
}

// Shutdown closes all clients and prevents future broadcasts.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*hubClient{}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.done)
	}
	h.recorder.SetHotClients(0)
}
