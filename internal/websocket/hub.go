package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"pettycash/internal/middleware"
	"pettycash/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for dev simplicity
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the frame every client receives.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type message struct {
	orgID       uuid.UUID
	submitterID uuid.UUID
	verifierID  uuid.UUID
	payload     []byte
}

// deliverTo mirrors read visibility: admin and cashier see every event of the
// organization, other members only events on claims they submitted or verify.
func (m message) deliverTo(actor model.Actor) bool {
	if actor.OrganizationID != m.orgID {
		return false
	}
	if actor.SeesOrganization() {
		return true
	}
	return actor.UserID == m.submitterID || (m.verifierID != uuid.Nil && actor.UserID == m.verifierID)
}

// Client represents a single connected WebSocket client
type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Send  chan []byte
	Actor model.Actor
}

// Hub fans lifecycle events out to the clients allowed to see the expense.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewHub initializes a new WS Hub instance
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast:  make(chan message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the dispatch loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected",
				zap.String("user_id", client.Actor.UserID.String()),
				zap.String("organization_id", client.Actor.OrganizationID.String()))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Debug("websocket client disconnected", zap.String("user_id", client.Actor.UserID.String()))
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !msg.deliverTo(client.Actor) {
					continue
				}
				select {
				case client.Send <- msg.payload:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop terminates Run and closes every client queue.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish implements service.EventPublisher. Payloads without an
// organization_id are dropped since they cannot be scoped.
func (h *Hub) Publish(event string, payload interface{}) {
	msg, ok := route(payload)
	if !ok {
		h.logger.Warn("websocket event without organization dropped", zap.String("event", event))
		return
	}
	raw, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("websocket event encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	msg.payload = raw
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("websocket broadcast queue full, event dropped", zap.String("event", event))
	}
}

func route(payload interface{}) (message, bool) {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return message{}, false
	}
	orgID, ok := idOf(m["organization_id"])
	if !ok {
		return message{}, false
	}
	msg := message{orgID: orgID}
	msg.submitterID, _ = idOf(m["submitter_id"])
	msg.verifierID, _ = idOf(m["assigned_verifier_id"])
	return msg, true
}

func idOf(v interface{}) (uuid.UUID, bool) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, v != uuid.Nil
	case string:
		id, err := uuid.Parse(v)
		return id, err == nil
	}
	return uuid.Nil, false
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump keeps the connection drained until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

// ServeWs authenticates the token query param and upgrades the connection.
func ServeWs(hub *Hub, c *gin.Context, secret []byte) {
	tokenString := c.Query("token")
	if tokenString == "" {
		hub.logger.Info("websocket connection rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	actor, err := middleware.ParseToken(tokenString, secret)
	if err != nil {
		hub.logger.Info("websocket connection rejected: invalid token", zap.Error(err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), Actor: actor}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
