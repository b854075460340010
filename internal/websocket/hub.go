package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/feed"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeDiff     MessageType = "diff"
)

// Message is one spot's occupancy as seen by a feed client
type Message struct {
	Type        MessageType `json:"type"`
	StructureID string      `json:"structureId"`
	FloorID     string      `json:"floorId"`
	SpotID      string      `json:"spotId"`
	Occupied    bool        `json:"occupied"`
	Version     int64       `json:"version"`
	Timestamp   int64       `json:"timestamp"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	scope models.FloorScope
}

// Hub manages WebSocket feed connections per floor
type Hub struct {
	broker     *feed.Broker
	source     feed.Snapshotter
	upgrader   websocket.Upgrader
	clients    map[models.FloorScope]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub streaming broker diffs, with snapshots read from source
func NewHub(broker *feed.Broker, source feed.Snapshotter) *Hub {
	return &Hub{
		broker: broker,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[models.FloorScope]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.scope] == nil {
				h.clients[client.scope] = make(map[*Client]bool)
			}
			h.clients[client.scope][client] = true
			log.Printf("WebSocket: Client registered for %s (total: %d)", client.scope, len(h.clients[client.scope]))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.scope]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					log.Printf("WebSocket: Client unregistered from %s (remaining: %d)", client.scope, len(clients))
					if len(clients) == 0 {
						delete(h.clients, client.scope)
					}
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			return
		}
	}
}

// GetClientCount returns the number of clients watching a floor
func (h *Hub) GetClientCount(scope models.FloorScope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scope])
}

// HandleFeed handles GET /api/structures/{structureId}/floors/{floorId}/feed
func (h *Hub) HandleFeed(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := models.FloorScope{StructureID: vars["structureId"], FloorID: vars["floorId"]}
	if scope.StructureID == "" || scope.FloorID == "" {
		http.Error(w, "structure and floor are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket: Upgrade failed: %v", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), scope: scope}
	h.register <- client

	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump()
	go client.pump(ctx, h.broker.Subscribe(scope, h.source))
	client.readPump(cancel)
}

// pump forwards subscription events the client has not seen yet.
// The replica drops duplicates and stale versions replayed by a resync snapshot.
// pump is the only sender on c.send; closing it makes writePump hang up.
func (c *Client) pump(ctx context.Context, sub *feed.Subscription) {
	defer close(c.send)
	defer sub.Close()

	replica := feed.NewReplica()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("WebSocket: Feed for %s failed: %v", c.scope, err)
			}
			return
		}
		if !replica.Apply(ev.OccupancyDiff) {
			continue
		}

		data, err := json.Marshal(messageOf(ev))
		if err != nil {
			log.Printf("WebSocket: Failed to marshal message: %v", err)
			continue
		}

		select {
		case c.send <- data:
		case <-ctx.Done():
			return
		default:
			log.Printf("WebSocket: Client on %s is too slow, dropping", c.scope)
			return
		}
	}
}

func messageOf(ev feed.Event) Message {
	msgType := MessageTypeDiff
	if ev.Snapshot {
		msgType = MessageTypeSnapshot
	}
	return Message{
		Type:        msgType,
		StructureID: ev.Spot.StructureID,
		FloorID:     ev.Spot.FloorID,
		SpotID:      ev.Spot.SpotID,
		Occupied:    ev.Occupied,
		Version:     ev.Version,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// readPump only watches for the client going away; the feed is read-only
func (c *Client) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
