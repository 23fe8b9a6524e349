package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadlens/leadlens/internal/orchestrator"
	"github.com/leadlens/leadlens/internal/relevance"
	"github.com/leadlens/leadlens/internal/resolver"
	"github.com/leadlens/leadlens/internal/wa"
	"github.com/leadlens/leadlens/pkg/protocol"
)

const (
	// scanTimeout bounds a full relevance sweep across chats.
	scanTimeout = 2 * time.Minute
	// commandTimeout bounds everything else.
	commandTimeout = 30 * time.Second

	// loadChatLimit is the history window served when the dashboard does not
	// ask for a specific size.
	loadChatLimit = 50

	// groupParticipantSuffix marks an opaque group participant handle that
	// must be resolved before it can be messaged directly.
	groupParticipantSuffix = "@lid"
)

// dispatch routes one inbound command frame to its handler.
func (s *Server) dispatch(ctx context.Context, c *Client, frame protocol.CommandFrame) {
	switch frame.Cmd {
	case protocol.CmdStartSession:
		s.handleStartSession(c, frame.Payload)
	case protocol.CmdRestoreSession:
		s.handleRestoreSession(c, frame.Payload)
	case protocol.CmdGetRelevant:
		s.handleGetRelevant(ctx, c, frame.Payload)
	case protocol.CmdGetReplied:
		s.handleGetReplied(ctx, c, frame.Payload)
	case protocol.CmdQuickReply:
		s.handleQuickReply(ctx, c, frame.Payload)
	case protocol.CmdMarkReplied:
		s.handleMarkReplied(c, frame.Payload)
	case protocol.CmdLoadChat:
		s.handleLoadChat(ctx, c, frame.Payload)
	case protocol.CmdLogout:
		s.handleLogout(ctx, c, frame.Payload)
	default:
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: fmt.Sprintf("unknown command %q", frame.Cmd)})
	}
}

func (s *Server) handleStartSession(c *Client, payload json.RawMessage) {
	var params struct {
		TenantID string `json:"tenantId"`
	}
	if len(payload) > 0 {
		// A missing or malformed payload starts a fresh tenant.
		_ = json.Unmarshal(payload, &params)
	}
	if params.TenantID == "" {
		params.TenantID = uuid.NewString()
	}

	c.setTenant(params.TenantID)
	s.orch.Start(params.TenantID, c)
}

func (s *Server) handleRestoreSession(c *Client, payload json.RawMessage) {
	var params struct {
		TenantID string `json:"tenantId"`
	}
	if err := json.Unmarshal(payload, &params); err != nil || params.TenantID == "" {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "restore-session requires tenantId"})
		return
	}

	c.setTenant(params.TenantID)
	if err := s.orch.Restore(params.TenantID, c); err != nil {
		if errors.Is(err, orchestrator.ErrNoSession) {
			c.Emit(protocol.EventNotReady, map[string]any{"tenantId": params.TenantID})
			return
		}
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
	}
}

func (s *Server) handleGetRelevant(ctx context.Context, c *Client, payload json.RawMessage) {
	var params struct {
		ChatIDs []string            `json:"chatIds"`
		Filters *relevance.Criteria `json:"filters"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "malformed get-relevant-messages payload"})
			return
		}
	}

	client, err := s.readyClient(c)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	chatIDs, err := s.targetChats(ctx, client, params.ChatIDs)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	leads := s.engine.FindRelevant(ctx, client, chatIDs, params.Filters)
	c.Emit(protocol.EventRelevantMessages, map[string]any{"messages": leads})
}

func (s *Server) handleGetReplied(ctx context.Context, c *Client, payload json.RawMessage) {
	var params struct {
		ChatIDs []string `json:"chatIds"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "malformed get-replied-messages payload"})
			return
		}
	}

	client, err := s.readyClient(c)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	chatIDs, err := s.targetChats(ctx, client, params.ChatIDs)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	leads := s.engine.FindReplied(ctx, client, chatIDs)
	c.Emit(protocol.EventRepliedMessages, map[string]any{"messages": leads})
}

// handleQuickReply resolves the recipient, sends the reply, then marks the
// source message as replied. Resolution failure aborts before anything is
// sent; a send failure leaves the message unmarked so it resurfaces.
func (s *Server) handleQuickReply(ctx context.Context, c *Client, payload json.RawMessage) {
	var params struct {
		ChatID      string    `json:"chatId"`
		Text        string    `json:"text"`
		Author      string    `json:"author"`
		RepliedToID string    `json:"repliedToId"`
		Media       *wa.Media `json:"media"`
	}
	if err := json.Unmarshal(payload, &params); err != nil || params.ChatID == "" || params.Text == "" {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "quick-reply requires chatId and text"})
		return
	}

	client, err := s.readyClient(c)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	to, err := s.replyAddress(ctx, params.ChatID, params.Author)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: fmt.Sprintf("could not resolve recipient: %v", err)})
		return
	}

	if err := client.SendMessage(ctx, to, params.Text, params.Media); err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: fmt.Sprintf("send failed: %v", err)})
		return
	}

	if params.RepliedToID != "" {
		if err := s.replied.Mark(params.RepliedToID); err != nil {
			slog.Warn("mark replied after send failed", "message", params.RepliedToID, "error", err)
		}
	}

	slog.Info("quick reply sent", "to", to, "repliedTo", params.RepliedToID)
}

// replyAddress picks the outbound recipient. Group participant handles are
// resolved to a directly addressable contact; everything else is used as-is.
func (s *Server) replyAddress(ctx context.Context, chatID, author string) (string, error) {
	if author == "" {
		return chatID, nil
	}
	if !strings.HasSuffix(author, groupParticipantSuffix) {
		return author, nil
	}

	contact, err := s.resolver.Resolve(ctx, author)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			return "", fmt.Errorf("no direct contact for %s", author)
		}
		return "", err
	}
	return contact, nil
}

func (s *Server) handleMarkReplied(c *Client, payload json.RawMessage) {
	var params struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(payload, &params); err != nil || params.MessageID == "" {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "mark-as-replied requires messageId"})
		return
	}

	if err := s.replied.Mark(params.MessageID); err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: fmt.Sprintf("could not mark as replied: %v", err)})
		return
	}
}

func (s *Server) handleLoadChat(ctx context.Context, c *Client, payload json.RawMessage) {
	var params struct {
		ChatID       string `json:"chatId"`
		AuthorFilter string `json:"authorFilter"`
		Limit        int    `json:"limit"`
	}
	if err := json.Unmarshal(payload, &params); err != nil || params.ChatID == "" {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "load-chat requires chatId"})
		return
	}

	client, err := s.readyClient(c)
	if err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	limit := params.Limit
	if limit <= 0 {
		limit = loadChatLimit
	}

	messages, err := client.FetchMessages(ctx, params.ChatID, wa.FetchOptions{Limit: limit})
	if err != nil {
		// The session's buffered history covers a bridge that cannot serve
		// the fetch right now.
		messages = s.orch.History(c.Tenant(), params.ChatID)
		if len(messages) == 0 {
			c.Emit(protocol.EventError, protocol.ErrorPayload{Message: fmt.Sprintf("could not load chat: %v", err)})
			return
		}
		slog.Warn("chat fetch failed, serving buffered history", "chat", params.ChatID, "error", err)
	}

	if params.AuthorFilter != "" {
		filtered := messages[:0]
		for _, m := range messages {
			if m.Author == params.AuthorFilter || m.FromMe {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}

	c.Emit(protocol.EventChatHistory, map[string]any{
		"chatId":   params.ChatID,
		"messages": messages,
	})
}

func (s *Server) handleLogout(ctx context.Context, c *Client, payload json.RawMessage) {
	var params struct {
		TenantID string `json:"tenantId"`
	}
	if len(payload) > 0 {
		// A missing or malformed payload logs out the connection's own tenant.
		_ = json.Unmarshal(payload, &params)
	}
	if params.TenantID == "" {
		params.TenantID = c.Tenant()
	}
	if params.TenantID == "" {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: "logout requires tenantId"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := s.orch.Logout(ctx, params.TenantID); err != nil {
		c.Emit(protocol.EventError, protocol.ErrorPayload{Message: fmt.Sprintf("logout failed: %v", err)})
		return
	}

	c.Emit(protocol.EventLoggedOut, map[string]any{"tenantId": params.TenantID})
}

// readyClient returns the messaging client for the tenant this connection
// controls, failing with an operator-friendly message otherwise.
func (s *Server) readyClient(c *Client) (wa.Client, error) {
	tenant := c.Tenant()
	if tenant == "" {
		return nil, errors.New("no session started on this connection")
	}
	return s.orch.Client(tenant)
}

// targetChats expands an empty chat selection to every visible chat.
func (s *Server) targetChats(ctx context.Context, client wa.Client, chatIDs []string) ([]string, error) {
	if len(chatIDs) > 0 {
		return chatIDs, nil
	}
	chats, err := client.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list chats: %w", err)
	}
	ids := make([]string, 0, len(chats))
	for _, chat := range chats {
		ids = append(ids, chat.ID)
	}
	return ids, nil
}
