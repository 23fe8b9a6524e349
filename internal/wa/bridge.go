package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	dialTimeout    = 10 * time.Second
	defaultCallTTL = 30 * time.Second
	maxBackoff     = 30 * time.Second
)

// BridgeConfig configures the connection to the whatsapp-web.js bridge.
type BridgeConfig struct {
	// URL is the bridge WebSocket endpoint. The tenant id is appended as a
	// query parameter so the bridge can scope auth state per tenant.
	URL string `json:"url"`

	// CallTimeout bounds a single request/response round trip.
	CallTimeout time.Duration `json:"-"`
}

// BridgeClient implements Client over a WebSocket connection to a per-tenant
// bridge process. The bridge handles the actual WhatsApp protocol; this side
// exchanges JSON frames: correlated request/response pairs plus pushed events.
type BridgeClient struct {
	tenantID string
	url      string
	callTTL  time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan bridgeResponse
	onReady   func()
	onMessage func(Message)

	ctx    context.Context
	cancel context.CancelFunc
}

type bridgeFrame struct {
	Type   string          `json:"type"` // "request", "response", "event"
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	Name   string          `json:"name,omitempty"`
	Params any             `json:"params,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type bridgeResponse struct {
	data json.RawMessage
	err  error
}

// NewBridgeClient dials the bridge for one tenant and starts the read loop.
func NewBridgeClient(cfg BridgeConfig, tenantID string) (*BridgeClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge url is required")
	}

	ttl := cfg.CallTimeout
	if ttl <= 0 {
		ttl = defaultCallTTL
	}

	c := &BridgeClient{
		tenantID: tenantID,
		url:      fmt.Sprintf("%s?tenant=%s", cfg.URL, tenantID),
		callTTL:  ttl,
		pending:  make(map[string]chan bridgeResponse),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.listenLoop()

	return c, nil
}

func (c *BridgeClient) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("bridge connected", "tenant", c.tenantID)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *BridgeClient) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting bridge reconnect", "tenant", c.tenantID, "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("bridge reconnect failed", "tenant", c.tenantID, "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}

			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bridge read error, will reconnect", "tenant", c.tenantID, "error", err)
			c.dropConn(err)
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Warn("invalid bridge frame", "tenant", c.tenantID, "error", err)
			continue
		}

		switch frame.Type {
		case "response":
			c.resolvePending(frame)
		case "event":
			c.dispatchEvent(frame)
		}
	}
}

// dropConn closes the connection and fails all in-flight calls.
func (c *BridgeClient) dropConn(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	for id, ch := range c.pending {
		ch <- bridgeResponse{err: fmt.Errorf("bridge connection lost: %w", cause)}
		delete(c.pending, id)
	}
}

func (c *BridgeClient) resolvePending(frame bridgeFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()

	if !ok {
		return // late response for a timed-out call
	}

	if frame.OK {
		ch <- bridgeResponse{data: frame.Data}
	} else {
		ch <- bridgeResponse{err: fmt.Errorf("bridge: %s", frame.Error)}
	}
}

func (c *BridgeClient) dispatchEvent(frame bridgeFrame) {
	c.mu.Lock()
	onReady := c.onReady
	onMessage := c.onMessage
	c.mu.Unlock()

	switch frame.Name {
	case "ready":
		if onReady != nil {
			onReady()
		}
	case "message":
		if onMessage == nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			slog.Warn("invalid bridge message event", "tenant", c.tenantID, "error", err)
			return
		}
		onMessage(msg)
	}
}

// call performs one correlated request/response round trip.
func (c *BridgeClient) call(ctx context.Context, op string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan bridgeResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	err := conn.WriteJSON(bridgeFrame{Type: "request", ID: id, Op: op, Params: params})
	c.mu.Unlock()

	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("bridge %s: %w", op, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-time.After(c.callTTL):
		c.forget(id)
		return nil, fmt.Errorf("bridge %s: timeout after %s", op, c.callTTL)
	case resp := <-ch:
		if resp.err != nil {
			return nil, fmt.Errorf("bridge %s: %w", op, resp.err)
		}
		return resp.data, nil
	}
}

func (c *BridgeClient) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// RequestPairing asks the bridge to start the QR handshake.
func (c *BridgeClient) RequestPairing(ctx context.Context) (string, error) {
	data, err := c.call(ctx, "pairing", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		QR string `json:"qr"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode pairing response: %w", err)
	}
	return out.QR, nil
}

// OnReady sets the readiness handler, replacing any previous one.
func (c *BridgeClient) OnReady(fn func()) {
	c.mu.Lock()
	c.onReady = fn
	c.mu.Unlock()
}

// OnMessage sets the incoming-message handler, replacing any previous one.
func (c *BridgeClient) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// ListChats returns the account's chat summaries.
func (c *BridgeClient) ListChats(ctx context.Context) ([]ChatSummary, error) {
	data, err := c.call(ctx, "chats", nil)
	if err != nil {
		return nil, err
	}
	var chats []ChatSummary
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return chats, nil
}

// FetchMessages returns a bounded window of a chat's recent messages.
func (c *BridgeClient) FetchMessages(ctx context.Context, chatID string, opts FetchOptions) ([]Message, error) {
	params := map[string]any{"chatId": chatID, "limit": opts.Limit}
	if opts.Before != "" {
		params["before"] = opts.Before
	}
	data, err := c.call(ctx, "fetch", params)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// SendMessage delivers a text message, optionally with a media attachment.
func (c *BridgeClient) SendMessage(ctx context.Context, to, body string, media *Media) error {
	params := map[string]any{"to": to, "body": body}
	if media != nil {
		params["media"] = media
	}
	_, err := c.call(ctx, "send", params)
	return err
}

// ResolveContact asks the bridge's contact directory for a direct handle.
func (c *BridgeClient) ResolveContact(ctx context.Context, participant string) (string, error) {
	data, err := c.call(ctx, "resolve", map[string]any{"participant": participant})
	if err != nil {
		return "", err
	}
	var out struct {
		Contact string `json:"contact"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	if out.Contact == "" {
		return "", ErrNotResolved
	}
	return out.Contact, nil
}

// StoreReady probes whether the bridge's chat store is queryable yet.
func (c *BridgeClient) StoreReady(ctx context.Context) (bool, error) {
	data, err := c.call(ctx, "store_ready", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("decode store_ready response: %w", err)
	}
	return out.Ready, nil
}

// Logout deauthorizes the account on the WhatsApp side.
func (c *BridgeClient) Logout(ctx context.Context) error {
	_, err := c.call(ctx, "logout", nil)
	return err
}

// Destroy tears down the connection and fails any in-flight calls.
func (c *BridgeClient) Destroy() error {
	c.cancel()
	c.dropConn(context.Canceled)
	return nil
}
