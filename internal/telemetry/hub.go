// Package telemetry distributes scan progress events to SSE subscribers.
//
// The hub assigns monotonic event IDs and keeps a bounded replay buffer so a
// reconnecting client can resume from its Last-Event-ID without missing the
// tail of a scan.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrStopped is returned by Subscribe after the hub has been stopped.
var ErrStopped = errors.New("telemetry: hub stopped")

// Event is one telemetry event as delivered over SSE.
type Event struct {
	ID   int64          `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Hub fans events out to connected SSE clients.
type Hub struct {
	heartbeat time.Duration

	mu      sync.Mutex
	nextID  int64
	buffer  []Event
	bufCap  int
	clients map[*client]struct{}
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

// client channels are written by Publish and drained by the Subscribe
// goroutine that owns the connection.
type client struct {
	events chan Event
}

// NewHub creates a hub with the given replay buffer capacity and heartbeat
// interval. Heartbeats are emitted only while clients are connected.
func NewHub(bufferSize int, heartbeat time.Duration) *Hub {
	if bufferSize <= 0 {
		bufferSize = 50
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	h := &Hub{
		heartbeat: heartbeat,
		buffer:    make([]Event, 0, bufferSize),
		bufCap:    bufferSize,
		clients:   make(map[*client]struct{}),
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// Publish assigns the next event ID, buffers the event for replay, and
// delivers it to every connected client. Slow clients drop events rather
// than block the publisher.
func (h *Hub) Publish(eventType string, data map[string]any) Event {
	h.mu.Lock()
	h.nextID++
	event := Event{ID: h.nextID, Type: eventType, Data: data}

	h.buffer = append(h.buffer, event)
	if len(h.buffer) > h.bufCap {
		h.buffer = h.buffer[1:]
	}

	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.events <- event:
		default:
		}
	}
	return event
}

// Subscribe serves one SSE connection: a ready event, a replay of buffered
// events past the client's Last-Event-ID, then live events until the request
// context ends or the hub stops.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("telemetry: response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := int64(0)
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastID = id
		}
	}

	c := &client{events: make(chan Event, 64)}
	replay, err := h.register(c, lastID)
	if err != nil {
		return err
	}
	defer h.unregister(c)

	ready := Event{Type: "ready", Data: map[string]any{
		"ts": time.Now().UTC().Format(time.RFC3339),
	}}
	if err := writeEvent(w, flusher, ready); err != nil {
		return err
	}
	for _, event := range replay {
		if err := writeEvent(w, flusher, event); err != nil {
			return err
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case event := <-c.events:
			if err := writeEvent(w, flusher, event); err != nil {
				return err
			}
		}
	}
}

// register adds a client and snapshots the events it missed, atomically with
// respect to Publish so the replay and the live stream cannot overlap or gap.
func (h *Hub) register(c *client, lastID int64) ([]Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrStopped
	}
	h.clients[c] = struct{}{}

	var replay []Event
	if lastID > 0 {
		for _, event := range h.buffer {
			if event.ID > lastID {
				replay = append(replay, event)
			}
		}
	}
	return replay, nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if h.ClientCount() > 0 {
				h.Publish("heartbeat", map[string]any{
					"ts": time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}
}

// Stop shuts the hub down. Connected Subscribe calls return and further
// subscriptions are rejected.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("telemetry: marshal event data: %w", err)
	}
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
