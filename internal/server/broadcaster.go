package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// StreamMessage is one event-stream frame
type StreamMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

// Client is one connected event-stream subscriber
type Client struct {
	ID          string
	IPAddress   string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster fans events out to all connected subscribers. A slow or dead
// client only loses its own frames.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
	seq     uint64
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Add registers a connection and returns its client record
func (b *Broadcaster) Add(conn *websocket.Conn, ip string) *Client {
	id, err := gonanoid.New()
	if err != nil {
		id = "client-fallback"
	}
	client := &Client{
		ID:          id,
		IPAddress:   ip,
		ConnectedAt: time.Now(),
		conn:        conn,
	}

	b.mu.Lock()
	b.clients[id] = client
	b.mu.Unlock()
	return client
}

// Remove unregisters and closes a client
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	client, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()

	if ok {
		client.conn.Close()
		b.logger.Info().Str("client_id", id).Msg("Event stream client disconnected")
	}
}

// Count returns the number of connected subscribers
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all subscribers
func (b *Broadcaster) Broadcast(event string, data interface{}) {
	msg := StreamMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(raw); err != nil {
			b.logger.Warn().Err(err).Str("client_id", client.ID).Str("event", event).Msg("Failed to broadcast to client")
		}
	}
}

// CloseAll disconnects every subscriber
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, client := range b.clients {
		client.conn.Close()
		delete(b.clients, id)
	}
}
