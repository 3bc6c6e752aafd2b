package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Hub event types.
const (
	EventValue = "value"
	EventState = "state"
)

// hubBuffer is the number of events queued for the broadcaster before new
// events are dropped.
const hubBuffer = 64

// HubEvent is the JSON message sent to WebSocket clients.
type HubEvent struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Topic string    `json:"topic,omitempty"`
	Value *float64  `json:"value,omitempty"`
	From  string    `json:"from,omitempty"`
	State string    `json:"state,omitempty"`
}

// Hub broadcasts events to connected WebSocket clients. Events are queued
// and written by a single broadcaster goroutine, so Broadcast never waits on
// the network. Events are dropped while the queue is full. Slow clients are
// disconnected.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	timeout  time.Duration
	logger   *slog.Logger

	events    chan HubEvent
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewHub creates a hub and starts its broadcaster. logger may be nil.
func NewHub(logger *slog.Logger) *Hub {
	h := newHub(logger, hubBuffer)
	go h.run(h.send)
	return h
}

func newHub(logger *slog.Logger, buffer int) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		timeout: 100 * time.Millisecond,
		logger:  logger,
		events:  make(chan HubEvent, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (h *Hub) run(deliver func(HubEvent)) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case ev := <-h.events:
			deliver(ev)
		}
	}
}

// ServeHTTP upgrades the request and registers the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Debug("Hub: upgrade failed", "remote", r.RemoteAddr, "error", err)
		}
		return
	}
	h.add(conn)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.logger != nil {
		h.logger.Debug("Hub: client connected", "remote", conn.RemoteAddr().String(), "clients", n)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Broadcast queues ev for every client without blocking.
func (h *Hub) Broadcast(ev HubEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		if h.logger != nil {
			h.logger.Debug("Hub: queue full, event dropped", "type", ev.Type, "topic", ev.Topic)
		}
	}
}

// Dropped returns the number of events dropped on a full queue.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// send writes ev to every client in parallel and drops clients whose write
// fails or exceeds the write deadline.
func (h *Hub) send(ev HubEvent) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []*websocket.Conn
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.SetWriteDeadline(time.Now().Add(h.timeout))
			if err := c.WriteJSON(ev); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	for _, c := range failed {
		h.remove(c)
	}
}

// Forward broadcasts a value event.
func (h *Hub) Forward(topic string, value float64) {
	v := value
	h.Broadcast(HubEvent{Type: EventValue, Topic: topic, Value: &v})
}

// StateChanged broadcasts a connection state event.
func (h *Hub) StateChanged(from, to string) {
	h.Broadcast(HubEvent{Type: EventState, From: from, State: to})
}

// Close stops the broadcaster and disconnects all clients. Queued events are
// discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
		<-h.done
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

var _ Forwarder = (*Hub)(nil)
