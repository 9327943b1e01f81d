// Package realtime fans game events out to websocket clients grouped by
// room. Delivery is at-most-once; clients treat every event as a hint to
// re-fetch, so a dropped message only costs a refresh.
package realtime

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// TeamRoom is the room that receives board and leaderboard updates for a
// team.
func TeamRoom(teamID string) string { return "team:" + teamID }

// ThreadRoom is the room that receives message events for a review thread.
func ThreadRoom(threadID string) string { return "thread:" + threadID }

// Hub tracks connected clients by room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

// Client is one websocket connection subscribed to a single room.
type Client struct {
	room string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.room]
	if !ok {
		clients = make(map[*Client]bool)
		h.rooms[c.room] = clients
	}
	clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump(h)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if clients, ok := h.rooms[c.room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.room)
		}
	}
	h.mu.Unlock()

	c.close()
}

// ClientCount reports how many clients are subscribed to a room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast sends payload to every client in the room. Clients whose send
// buffer is full have the message dropped rather than blocking the caller.
func (h *Hub) Broadcast(room string, payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("realtime: dropping event for slow client in %s", room)
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer h.remove(c)

	// Incoming frames are only read to detect disconnects; the event
	// stream is one-way.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime: read error in %s: %v", c.room, err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("realtime: write error in %s: %v", c.room, err)
			return
		}
	}
}
