package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

const codeRateLimited = "RateLimited"

// Handler receives decoded frames from a client's read loop. Frames from one
// client are handled one at a time, in arrival order.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, ev models.InboundEvent)
	Heartbeat(ctx context.Context, c *Client)
	Disconnected(ctx context.Context, c *Client)
}

type Limits struct {
	EventsPerSecond float64
	Burst           int
}

// Client is one websocket connection. It satisfies services.Conn.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	identity services.Identity
	limiter  *rate.Limiter
	logger   *utils.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	userID string
}

func NewClient(hub *Hub, conn *websocket.Conn, identity services.Identity, limits Limits, logger *utils.Logger) *Client {
	id := uuid.NewString()
	limit := rate.Inf
	if limits.EventsPerSecond > 0 {
		limit = rate.Limit(limits.EventsPerSecond)
	}
	burst := limits.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		identity: identity,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With("conn_id", id),
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() services.Identity { return c.identity }

// UserID is the user this connection joined as, empty before join.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Rooms lists the rooms this connection has joined: its own user room once
// joined. A superseded connection keeps the name but no longer receives.
func (c *Client) Rooms() []string {
	if userID := c.UserID(); userID != "" {
		return []string{userID}
	}
	return nil
}

// Send queues event without blocking. A client that cannot keep up is closed.
func (c *Client) Send(event models.Event) bool {
	data, err := encode(event)
	if err != nil {
		c.logger.Error("Failed to encode event", "event", event.Name, "error", err)
		return false
	}
	return c.enqueue(data, event.Name)
}

func (c *Client) enqueue(data []byte, name string) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Send queue full, dropping client", "event", name)
		c.Close()
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run starts the write pump and blocks in the read loop until the connection
// ends. ctx is handed to the handler for every frame and should outlive the
// HTTP request so accepted work completes after a disconnect.
func (c *Client) Run(ctx context.Context, handler Handler) {
	c.hub.Register(c)
	go c.writePump()
	c.readPump(ctx, handler)
}

func (c *Client) readPump(ctx context.Context, handler Handler) {
	defer func() {
		c.hub.Unregister(c)
		handler.Disconnected(ctx, c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handler.Heartbeat(ctx, c)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var ev models.InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			c.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{
				Code:  services.CodeInvalidMessage,
				Error: "frames must be JSON objects with an event name",
			}})
			continue
		}

		if !c.limiter.Allow() {
			c.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{
				Action: ev.Name,
				Code:   codeRateLimited,
				Error:  "too many events",
			}})
			continue
		}

		handler.HandleEvent(ctx, c, ev)
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
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("WebSocket write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func encode(event models.Event) ([]byte, error) {
	return json.Marshal(event)
}
