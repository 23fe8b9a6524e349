package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/leadlens/leadlens/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64

	maxMessageSize = 64 * 1024
)

// Client is one dashboard WebSocket connection. It implements
// orchestrator.EventSink so a session can push events straight to it.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send    chan protocol.EventFrame
	limiter *rate.Limiter

	mu       sync.Mutex
	tenantID string

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded WebSocket connection.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	var limiter *rate.Limiter
	if rps := server.cfg.RateLimitRPS; rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 5)
	}

	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  server,
		send:    make(chan protocol.EventFrame, sendBuffer),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// Tenant returns the tenant id this connection currently controls.
func (c *Client) Tenant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenantID
}

func (c *Client) setTenant(id string) {
	c.mu.Lock()
	c.tenantID = id
	c.mu.Unlock()
}

// Emit queues an event for delivery. A connection that cannot keep up has
// events dropped rather than blocking the session that produced them.
func (c *Client) Emit(event string, payload any) {
	frame := protocol.NewEvent(event, payload)
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		slog.Warn("dropping event for slow client", "id", c.id, "event", event)
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Run pumps the connection until it drops or ctx is canceled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "id", c.id, "error", err)
			}
			return
		}

		var frame protocol.CommandFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "malformed command frame"})
			continue
		}
		if frame.Cmd == "" {
			c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "command frame missing cmd"})
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "too many commands, slow down"})
			continue
		}

		// Scans and sends can take a while; never stall the read loop on them.
		go c.server.dispatch(ctx, c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Warn("websocket write failed", "id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
