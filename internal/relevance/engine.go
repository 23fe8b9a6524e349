// Package relevance scans chat history and classifies messages as
// business-relevant leads: fuzzy keyword matching, locality matching against
// a gazetteer of alias spellings, numeric budget extraction (ASCII and emoji
// keycap digits), and exclusion of messages an operator already replied to.
package relevance

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leadlens/leadlens/internal/gazetteer"
	"github.com/leadlens/leadlens/internal/replied"
	"github.com/leadlens/leadlens/internal/wa"
)

const (
	// defaultFetchLimit caps the history window fetched per chat. A larger
	// window costs latency against the external client for little gain; the
	// lead workflow cares about recent traffic.
	defaultFetchLimit = 300

	// defaultConcurrency bounds simultaneous per-chat fetches.
	defaultConcurrency = 4
)

// Criteria is the operator-supplied lead filter. All present parts must
// match; absent parts match everything.
type Criteria struct {
	Keywords  string `json:"keywords"`
	Locality  string `json:"locality"`
	BudgetMin *int64 `json:"budgetMin"`
	BudgetMax *int64 `json:"budgetMax"`
}

// Lead is a matched message projected for the operator UI.
type Lead struct {
	ID         string `json:"id"`
	ChatID     string `json:"chatId"`
	Body       string `json:"body"`
	FromMe     bool   `json:"fromMe"`
	Timestamp  int64  `json:"timestamp"`
	SenderName string `json:"senderName"`
	Avatar     string `json:"avatar"`
	IsNew      bool   `json:"isNew"`
	HasReply   bool   `json:"hasReply"`
	Author     string `json:"author,omitempty"`
}

// Engine evaluates relevance over chats fetched from a tenant's messaging
// client. Safe for concurrent use from multiple sessions; the replied store
// and gazetteer handle their own locking.
type Engine struct {
	replied     *replied.Store
	gaz         *gazetteer.Gazetteer
	fetchLimit  int
	concurrency int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithFetchLimit overrides the per-chat history window.
func WithFetchLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fetchLimit = n
		}
	}
}

// WithConcurrency overrides the per-chat fetch parallelism.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine creates a relevance engine.
func NewEngine(repliedStore *replied.Store, gaz *gazetteer.Gazetteer, opts ...Option) *Engine {
	e := &Engine{
		replied:     repliedStore,
		gaz:         gaz,
		fetchLimit:  defaultFetchLimit,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindRelevant evaluates the criteria over the given chats and returns
// matches sorted by timestamp descending. A failing chat contributes nothing;
// it never fails the whole request. Nil criteria passes every non-empty,
// non-replied message (the unfiltered inbox view).
func (e *Engine) FindRelevant(ctx context.Context, client wa.Client, chatIDs []string, crit *Criteria) []Lead {
	repliedSet := e.replied.Snapshot()
	return e.scan(ctx, client, chatIDs, func(m wa.Message) bool {
		if _, done := repliedSet[m.ID]; done {
			return false
		}
		return e.matches(m.Body, crit)
	})
}

// FindReplied is the inverse query: only messages the operator already
// flagged as replied, for reviewing past actions.
func (e *Engine) FindReplied(ctx context.Context, client wa.Client, chatIDs []string) []Lead {
	repliedSet := e.replied.Snapshot()
	return e.scan(ctx, client, chatIDs, func(m wa.Message) bool {
		_, done := repliedSet[m.ID]
		return done
	})
}

// scan fetches each chat's history window, keeps messages passing the
// predicate, and aggregates sorted results.
func (e *Engine) scan(ctx context.Context, client wa.Client, chatIDs []string, keep func(wa.Message) bool) []Lead {
	chats := e.chatIndex(ctx, client)

	var (
		mu      sync.Mutex
		results []Lead
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, chatID := range chatIDs {
		g.Go(func() error {
			msgs, err := client.FetchMessages(gctx, chatID, wa.FetchOptions{Limit: e.fetchLimit})
			if err != nil {
				// Partial failure: this chat contributes nothing.
				slog.Warn("chat fetch failed, skipping", "chat", chatID, "error", err)
				return nil
			}

			var leads []Lead
			for _, m := range msgs {
				if strings.TrimSpace(m.Body) == "" {
					continue
				}
				if !keep(m) {
					continue
				}
				leads = append(leads, project(m, chatID, chats[chatID]))
			}

			mu.Lock()
			results = append(results, leads...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	// Timestamp descending; stable so exact ties keep input order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp > results[j].Timestamp
	})
	return results
}

// chatIndex maps chat ids to summaries for display-name and avatar fallback.
// A listing failure degrades to an empty index; per-message fallbacks cover it.
func (e *Engine) chatIndex(ctx context.Context, client wa.Client) map[string]wa.ChatSummary {
	chats, err := client.ListChats(ctx)
	if err != nil {
		slog.Warn("chat listing failed, display names degrade to ids", "error", err)
		return nil
	}
	index := make(map[string]wa.ChatSummary, len(chats))
	for _, c := range chats {
		index[c.ID] = c
	}
	return index
}

// matches applies the full criteria to one message body.
func (e *Engine) matches(body string, crit *Criteria) bool {
	if crit == nil {
		return true
	}

	lower := strings.ToLower(body)
	tokens := tokenize(lower)

	if !matchKeywords(lower, tokens, parseKeywords(crit.Keywords)) {
		return false
	}

	if loc := strings.TrimSpace(crit.Locality); loc != "" {
		if !matchLocality(lower, tokens, e.gaz.Spellings(loc)) {
			return false
		}
	}

	if crit.BudgetMin != nil || crit.BudgetMax != nil {
		if !anyInRange(extractNumbers(body), crit.BudgetMin, crit.BudgetMax) {
			return false
		}
	}

	return true
}

// project builds the operator-facing record for a matched message.
func project(m wa.Message, chatID string, chat wa.ChatSummary) Lead {
	name := m.NotifyName
	if name == "" {
		name = chat.Name
	}
	if name == "" {
		name = chatID
	}

	avatar := chat.Avatar
	if avatar == "" {
		avatar = AvatarURL(name)
	}

	return Lead{
		ID:         m.ID,
		ChatID:     chatID,
		Body:       m.Body,
		FromMe:     m.FromMe,
		Timestamp:  m.Timestamp,
		SenderName: name,
		Avatar:     avatar,
		IsNew:      !m.FromMe,
		HasReply:   m.HasQuotedMsg,
		Author:     m.Author,
	}
}

// AvatarURL synthesizes a placeholder avatar for a display name.
func AvatarURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name)
}
