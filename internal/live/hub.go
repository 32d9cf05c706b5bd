// Package live pushes upload events to websocket viewers of a camera.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"snapkeep/internal/upload"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 16
	maxReadBytes   = 512
)

// Event is sent to every viewer of a camera after a snapshot is stored.
type Event struct {
	Type      string `json:"type"`
	CameraID  string `json:"camera_id"`
	Key       string `json:"key"`
	Timestamp string `json:"timestamp"`
	SizeBytes int64  `json:"size_bytes"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	log      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
		log:     logger.With().Str("component", "live").Logger(),
	}
}

// Serve upgrades the request and streams events for cameraID until the
// viewer disconnects. Authorization happens before Serve is called.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, cameraID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("camera_id", cameraID).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register(cameraID, c)

	go h.writePump(cameraID, c)

	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(cameraID, c)
}

func (h *Hub) writePump(cameraID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug().Err(err).Str("camera_id", cameraID).Msg("websocket write failed")
				h.unregister(cameraID, c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(cameraID, c)
				return
			}
		}
	}
}

func (h *Hub) register(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[cameraID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[cameraID] = set
	}
	set[c] = struct{}{}
	h.log.Info().Str("camera_id", cameraID).Int("viewers", len(set)).Msg("viewer connected")
}

func (h *Hub) unregister(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cameraID, c)
}

func (h *Hub) removeLocked(cameraID string, c *client) {
	set, ok := h.clients[cameraID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, cameraID)
	}
	h.log.Info().Str("camera_id", cameraID).Int("viewers", len(set)).Msg("viewer disconnected")
}

// Publish queues the event for every viewer of the camera. Viewers whose
// buffer is full are dropped.
func (h *Hub) Publish(event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal live event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[event.CameraID] {
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Str("camera_id", event.CameraID).Msg("viewer too slow; dropping")
			h.removeLocked(event.CameraID, c)
		}
	}
}

// SnapshotStored makes the hub an upload observer.
func (h *Hub) SnapshotStored(_ context.Context, o upload.Outcome) {
	h.Publish(Event{
		Type:      "snapshot",
		CameraID:  o.CameraID,
		Key:       o.Key,
		Timestamp: o.StoredAt.UTC().Format(time.RFC3339),
		SizeBytes: o.SizeBytes,
	})
}

func (h *Hub) ViewerCount(cameraID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cameraID])
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cameraID, set := range h.clients {
		for c := range set {
			h.removeLocked(cameraID, c)
		}
	}
}
