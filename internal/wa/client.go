// Package wa defines the boundary to the external WhatsApp client.
// The actual protocol work (QR generation, message fetch/send, contact
// directory) happens in a whatsapp-web.js bridge process; this package only
// speaks to it. Everything here is assumed fallible and retried or reported,
// never re-implemented.
package wa

import "context"

// Message is a read-only projection of a message held by the external client.
type Message struct {
	ID           string `json:"id"`
	ChatID       string `json:"chatId"`
	Body         string `json:"body"`
	FromMe       bool   `json:"fromMe"`
	Timestamp    int64  `json:"timestamp"` // seconds since epoch
	Author       string `json:"author,omitempty"` // participant handle in groups, contact handle in DMs
	NotifyName   string `json:"notifyName,omitempty"`
	HasQuotedMsg bool   `json:"hasQuotedMsg,omitempty"`
}

// ChatSummary is the minimal chat descriptor shown in the operator's chat list.
type ChatSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	LastMessage string `json:"lastMessage,omitempty"`
}

// Media is an optional attachment for an outbound message.
type Media struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// FetchOptions bounds a history fetch. Limit caps the window; Before, when
// set, requests messages older than the given message id.
type FetchOptions struct {
	Limit  int
	Before string
}

// Client is one tenant's authenticated binding to the WhatsApp network.
// A Client is exclusively owned by its Session; handlers registered via
// OnReady/OnMessage replace any previous handler, so duplicate registration
// is structurally impossible.
type Client interface {
	// RequestPairing starts the QR handshake and returns the QR payload to render.
	RequestPairing(ctx context.Context) (string, error)

	// OnReady sets the single readiness handler.
	OnReady(fn func())

	// OnMessage sets the single incoming-message handler.
	OnMessage(fn func(Message))

	// ListChats returns summaries for all chats visible to the account.
	ListChats(ctx context.Context) ([]ChatSummary, error)

	// FetchMessages returns up to opts.Limit recent messages of a chat.
	FetchMessages(ctx context.Context, chatID string, opts FetchOptions) ([]Message, error)

	// SendMessage delivers a text message, optionally with media, to a chat
	// or directly addressable contact.
	SendMessage(ctx context.Context, to, body string, media *Media) error

	// ResolveContact maps a group participant handle to a directly
	// addressable contact handle. Returns ErrNotResolved when the external
	// client cannot produce one.
	ResolveContact(ctx context.Context, participant string) (string, error)

	// StoreReady probes whether the client's internal chat store is queryable.
	StoreReady(ctx context.Context) (bool, error)

	// Logout deauthorizes the account on the WhatsApp side.
	Logout(ctx context.Context) error

	// Destroy releases process-level resources. Safe to call after Logout.
	Destroy() error
}

// Factory creates a Client bound to one tenant. The orchestrator owns the
// returned client for the lifetime of the tenant's session.
type Factory func(tenantID string) (Client, error)
