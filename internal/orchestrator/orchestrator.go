// Package orchestrator manages the lifecycle of authenticated messaging
// sessions, one per tenant: QR pairing, readiness detection, restore from
// saved credentials, and teardown. Session failures stay confined to their
// tenant; nothing here can take the process down.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/leadlens/leadlens/internal/wa"
	"github.com/leadlens/leadlens/pkg/protocol"
)

// ErrNoSession means neither a live session nor saved credentials exist for
// the tenant; the caller should fall back to a fresh start.
var ErrNoSession = errors.New("no session to restore")

// Config tunes session lifecycle behavior.
type Config struct {
	// AuthDir is where per-tenant auth material lives, one subdirectory per
	// tenant. Deleted wholesale on logout.
	AuthDir string `json:"auth_dir"`

	// PairingTimeout bounds the whole QR handshake.
	PairingTimeout time.Duration `json:"-"`

	// StoreReadyTimeout and StoreReadyInterval bound the post-connect poll
	// that confirms the client's chat store is actually queryable. The
	// "connected" signal can fire before chat data is fetchable; declaring
	// READY too early yields an empty chat list.
	StoreReadyTimeout  time.Duration `json:"-"`
	StoreReadyInterval time.Duration `json:"-"`

	// HistoryCap bounds the in-memory per-chat message buffer.
	HistoryCap int `json:"history_cap"`
}

func (c *Config) applyDefaults() {
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = 2 * time.Minute
	}
	if c.StoreReadyTimeout <= 0 {
		c.StoreReadyTimeout = 10 * time.Second
	}
	if c.StoreReadyInterval <= 0 {
		c.StoreReadyInterval = 300 * time.Millisecond
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 500
	}
}

// Orchestrator owns the tenant→session registry. All access to the registry
// goes through it; sessions are never handed out as raw shared state.
type Orchestrator struct {
	cfg     Config
	factory wa.Factory

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an orchestrator using factory to build per-tenant clients.
func New(cfg Config, factory wa.Factory) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session for the tenant and begins QR pairing, emitting
// lifecycle events to sink. Idempotent: if a session already exists the
// connection is attached to it and brought up to date instead.
func (o *Orchestrator) Start(tenantID string, sink EventSink) {
	o.mu.Lock()
	if s, ok := o.sessions[tenantID]; ok {
		o.mu.Unlock()
		s.attach(sink)
		o.announce(s)
		return
	}
	s := newSession(tenantID)
	o.sessions[tenantID] = s
	o.mu.Unlock()

	s.attach(sink)
	go o.run(s, true)
}

// Restore reattaches the connection to an existing session, or recreates one
// from saved credentials (skipping pairing). Returns ErrNoSession when
// neither exists.
func (o *Orchestrator) Restore(tenantID string, sink EventSink) error {
	o.mu.Lock()
	if s, ok := o.sessions[tenantID]; ok {
		o.mu.Unlock()
		s.attach(sink)
		o.announce(s)
		return nil
	}

	if !o.hasAuthMaterial(tenantID) {
		o.mu.Unlock()
		return ErrNoSession
	}

	s := newSession(tenantID)
	o.sessions[tenantID] = s
	o.mu.Unlock()

	s.attach(sink)
	go o.run(s, false)
	return nil
}

// Logout deauthorizes the tenant's client, destroys its resources, deletes
// saved auth material, and removes the session. Calling it for a tenant
// without a session is a successful no-op.
func (o *Orchestrator) Logout(ctx context.Context, tenantID string) error {
	o.mu.Lock()
	s := o.sessions[tenantID]
	delete(o.sessions, tenantID)
	o.mu.Unlock()

	if s != nil {
		s.setState(StateTerminated)
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		if client != nil {
			if err := client.Logout(ctx); err != nil {
				slog.Warn("client logout failed", "tenant", tenantID, "error", err)
			}
			if err := client.Destroy(); err != nil {
				slog.Warn("client destroy failed", "tenant", tenantID, "error", err)
			}
		}
	}

	if path := o.authPath(tenantID); path != "" {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("delete auth material: %w", err)
		}
	}

	slog.Info("session logged out", "tenant", tenantID)
	return nil
}

// Client returns the tenant's messaging client once its session is READY.
func (o *Orchestrator) Client(tenantID string) (wa.Client, error) {
	o.mu.Lock()
	s := o.sessions[tenantID]
	o.mu.Unlock()

	if s == nil {
		return nil, fmt.Errorf("no session for tenant %s", tenantID)
	}
	if st := s.State(); st != StateReady {
		return nil, fmt.Errorf("session for tenant %s is %s, not ready", tenantID, st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, nil
}

// History returns the buffered in-memory messages for one of the tenant's
// chats, newest last.
func (o *Orchestrator) History(tenantID, chatID string) []wa.Message {
	o.mu.Lock()
	s := o.sessions[tenantID]
	o.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.chatHistory(chatID)
}

// run drives a session from creation to READY. pair selects the QR handshake
// path; restored sessions reuse saved credentials and skip it.
func (o *Orchestrator) run(s *Session, pair bool) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	client, err := o.factory(s.TenantID)
	if err != nil {
		o.fail(s, fmt.Sprintf("could not create messaging client: %v", err))
		return
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	// Single handler per event type: registration replaces, never stacks.
	client.OnReady(s.signalReady)
	client.OnMessage(func(m wa.Message) { o.onMessage(s, m) })

	s.setState(StatePairing)

	if pair {
		qr, err := client.RequestPairing(ctx)
		if err != nil {
			o.fail(s, fmt.Sprintf("pairing request failed: %v", err))
			return
		}
		image, err := qrImage(qr)
		if err != nil {
			o.fail(s, fmt.Sprintf("could not render QR code: %v", err))
			return
		}
		s.setLastQR(image)
		s.emit(protocol.EventQR, map[string]any{"tenantId": s.TenantID, "image": image})
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(o.cfg.PairingTimeout):
		o.fail(s, "pairing timed out, scan the QR code again")
		return
	case <-s.readyCh:
	}

	if err := o.pollStoreReady(ctx, client); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(s, "chat store did not become ready, try again")
		return
	}

	s.setState(StateReady)
	s.emit(protocol.EventReady, map[string]any{"tenantId": s.TenantID})
	slog.Info("session ready", "tenant", s.TenantID)

	o.emitChats(ctx, s, client)
}

// pollStoreReady confirms the client's chat store answers queries before the
// session is declared READY.
func (o *Orchestrator) pollStoreReady(ctx context.Context, client wa.Client) error {
	deadline := time.Now().Add(o.cfg.StoreReadyTimeout)
	ticker := time.NewTicker(o.cfg.StoreReadyInterval)
	defer ticker.Stop()

	for {
		ready, err := client.StoreReady(ctx)
		if err == nil && ready {
			return nil
		}
		if err != nil {
			slog.Debug("store readiness probe failed", "error", err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("store not ready after %s", o.cfg.StoreReadyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) emitChats(ctx context.Context, s *Session, client wa.Client) {
	chats, err := client.ListChats(ctx)
	if err != nil {
		s.emit(protocol.EventError, map[string]any{"message": fmt.Sprintf("could not list chats: %v", err)})
		return
	}
	s.emit(protocol.EventChats, map[string]any{"tenantId": s.TenantID, "list": chats})
}

// announce brings a freshly attached connection up to date with the
// session's current state.
func (o *Orchestrator) announce(s *Session) {
	switch s.State() {
	case StateReady:
		s.emit(protocol.EventReady, map[string]any{"tenantId": s.TenantID})
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		if client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			o.emitChats(ctx, s, client)
		}
	case StatePairing:
		if image := s.lastQRImage(); image != "" {
			s.emit(protocol.EventQR, map[string]any{"tenantId": s.TenantID, "image": image})
		}
	}
}

// onMessage buffers an inbound message and forwards it to the attached
// connection. Messages arriving before READY are dropped; the history fetch
// covers them.
func (o *Orchestrator) onMessage(s *Session, m wa.Message) {
	if s.State() != StateReady {
		return
	}

	s.appendHistory(m, o.cfg.HistoryCap)

	name := m.NotifyName
	if name == "" {
		name = m.ChatID
	}
	s.emit(protocol.EventNewMessage, map[string]any{
		"chatId": m.ChatID,
		"message": map[string]any{
			"id":         m.ID,
			"body":       m.Body,
			"fromMe":     m.FromMe,
			"timestamp":  m.Timestamp,
			"senderName": name,
		},
	})
}

// fail reports a session failure to the operator and tears the session down.
// A session stuck mid-pairing is terminated, never left dangling.
func (o *Orchestrator) fail(s *Session, msg string) {
	slog.Warn("session failed", "tenant", s.TenantID, "state", s.State(), "error", msg)

	s.setState(StateTerminated)
	s.emit(protocol.EventError, map[string]any{"message": msg})

	s.mu.Lock()
	client := s.client
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if client != nil {
		_ = client.Destroy()
	}

	o.mu.Lock()
	if o.sessions[s.TenantID] == s {
		delete(o.sessions, s.TenantID)
	}
	o.mu.Unlock()
}

// hasAuthMaterial reports whether saved credentials exist for a tenant.
func (o *Orchestrator) hasAuthMaterial(tenantID string) bool {
	path := o.authPath(tenantID)
	if path == "" {
		return false
	}
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

func (o *Orchestrator) authPath(tenantID string) string {
	if o.cfg.AuthDir == "" || tenantID == "" {
		return ""
	}
	safe := strings.ReplaceAll(tenantID, string(filepath.Separator), "_")
	return filepath.Join(o.cfg.AuthDir, safe)
}

// qrImage renders a pairing payload as a PNG data URL for the operator UI.
func qrImage(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
