package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local/LAN dashboard and wallet clients only
	},
}

// InboundHandler decodes and dispatches a single client-to-coordinator wire
// message ("dsa", "dsi", "dss"). conn identifies which client sent it, so a
// handler can reply with a personalized "dssu"/"dsc" via Hub.SendTo instead
// of the broadcast every other peer gets.
type InboundHandler interface {
	HandleMessage(conn *websocket.Conn, raw []byte)
}

// Hub maintains the set of active websocket clients, broadcasts
// coordinator-initiated messages ("dsq", "dsf", "dssu", "dsc") to everyone,
// and forwards inbound client messages to a registered InboundHandler.
type Hub struct {
	clients   map[*websocket.Conn]uuid.UUID
	broadcast chan []byte
	mutex     sync.Mutex
	handler   InboundHandler
}

// NewHub returns an empty Hub. Call SetHandler before Subscribe starts
// accepting connections, or inbound messages are silently dropped.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]uuid.UUID),
	}
}

// SetHandler registers the coordinator-backed dispatcher for inbound
// messages.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handler = handler
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client, id := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("pool: websocket write error for client %s: %v", id, err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections: a client connects once
// and exchanges every wire message ("dsa"/"dsi"/"dss" inbound, "dsq"/"dsf"/
// "dssu"/"dsc" outbound) over that single socket for the life of the round.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("pool: failed to upgrade websocket: %v", err)
		return
	}

	connID := uuid.New()
	h.mutex.Lock()
	h.clients[conn] = connID
	h.mutex.Unlock()

	log.Printf("pool: client %s connected, total=%d", connID, len(h.clients))

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("pool: client %s disconnected, total=%d", connID, len(h.clients))
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("pool: websocket read error for client %s: %v", connID, err)
				}
				return
			}
			if h.handler != nil {
				h.handler.HandleMessage(conn, msg)
			}
		}
	}()
}

// Broadcast sends data to every connected client — the "dsq"/"dsf"/"dssu"/
// "dsc" outbound path.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// SendTo writes data to a single client's connection directly, for a
// personalized reply rather than a broadcast.
func (h *Hub) SendTo(conn *websocket.Conn, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("pool: websocket direct write error: %v", err)
	}
}
