package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/ayusman/sortcam/internal/debounce"
	"github.com/ayusman/sortcam/internal/sorting"
)

// Event types sent on /api/events.
const (
	EventReadings  = "readings"
	EventDetection = "detection"
)

const (
	writeWait  = 2 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// ReadingRow is one row of the live prediction table.
type ReadingRow struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Confident   bool    `json:"confident"`
}

// ReadingsEvent carries the readings of one poll.
type ReadingsEvent struct {
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp"`
	Threshold float64      `json:"threshold"`
	Readings  []ReadingRow `json:"readings"`
}

// DetectionEvent tells the page to swap its image and title.
type DetectionEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	sorting.Presentation
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts game events to every connected WebSocket client. It is a
// notify sink for detections and receives the readings of every poll.
type Hub struct {
	clock   clock.Clock
	clients map[*client]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty Hub. A nil clock uses the wall clock.
func NewHub(clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		clock:   clk,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v as JSON to every client. Clients whose buffer is full
// are dropped.
func (h *Hub) Broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to encode event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// PublishReadings broadcasts the readings of one poll. A row is confident
// when its probability is above threshold.
func (h *Hub) PublishReadings(readings []debounce.Reading, threshold float64) {
	if h.Clients() == 0 {
		return
	}

	rows := make([]ReadingRow, len(readings))
	for i, r := range readings {
		rows[i] = ReadingRow{
			Label:       r.Label,
			Probability: r.Probability,
			Confident:   r.Probability > threshold,
		}
	}

	h.Broadcast(ReadingsEvent{
		Type:      EventReadings,
		Timestamp: h.clock.Now().UnixMilli(),
		Threshold: threshold,
		Readings:  rows,
	})
}

// Present broadcasts a detection event.
func (h *Hub) Present(p sorting.Presentation) {
	h.Broadcast(DetectionEvent{
		Type:         EventDetection,
		Timestamp:    h.clock.Now().UnixMilli(),
		Presentation: p,
	})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
