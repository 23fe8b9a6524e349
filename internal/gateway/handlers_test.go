package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadlens/leadlens/internal/gazetteer"
	"github.com/leadlens/leadlens/internal/orchestrator"
	"github.com/leadlens/leadlens/internal/relevance"
	"github.com/leadlens/leadlens/internal/replied"
	"github.com/leadlens/leadlens/internal/resolver"
	"github.com/leadlens/leadlens/internal/wa"
	"github.com/leadlens/leadlens/pkg/protocol"
)

type sentMessage struct {
	To   string
	Body string
}

// fakeWA is a canned wa.Client for gateway tests. FetchMessages honors
// opts.Limit the way a real bridge does: zero means zero messages.
type fakeWA struct {
	mu             sync.Mutex
	onReady        func()
	onMessage      func(wa.Message)
	chats          []wa.ChatSummary
	messages       map[string][]wa.Message
	sent           []sentMessage
	sendErr        error
	fetchErr       error
	lastFetchLimit int
}

func (f *fakeWA) RequestPairing(context.Context) (string, error) { return "qr-payload", nil }

func (f *fakeWA) OnReady(fn func()) {
	f.mu.Lock()
	f.onReady = fn
	f.mu.Unlock()
}

func (f *fakeWA) OnMessage(fn func(wa.Message)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *fakeWA) ListChats(context.Context) ([]wa.ChatSummary, error) { return f.chats, nil }

func (f *fakeWA) FetchMessages(_ context.Context, chatID string, opts wa.FetchOptions) ([]wa.Message, error) {
	f.mu.Lock()
	f.lastFetchLimit = opts.Limit
	f.mu.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msgs := f.messages[chatID]
	if opts.Limit < len(msgs) {
		if opts.Limit <= 0 {
			return nil, nil
		}
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	return msgs, nil
}

// deliver pushes an inbound message through the registered handler.
func (f *fakeWA) deliver(t *testing.T, m wa.Message) {
	t.Helper()
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn == nil {
		t.Fatal("message handler not registered")
	}
	fn(m)
}

func (f *fakeWA) SendMessage(_ context.Context, to, body string, _ *wa.Media) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	f.mu.Unlock()
	return nil
}

func (f *fakeWA) ResolveContact(context.Context, string) (string, error) {
	return "", wa.ErrNotResolved
}

func (f *fakeWA) StoreReady(context.Context) (bool, error) { return true, nil }
func (f *fakeWA) Logout(context.Context) error             { return nil }
func (f *fakeWA) Destroy() error                           { return nil }

func (f *fakeWA) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// testServer assembles a gateway over fakes. The resolver maps handles via
// the provided table; everything else is canned.
func testServer(t *testing.T, fake *fakeWA, resolutions map[string]string) *Server {
	t.Helper()

	repliedStore, err := replied.NewStore(filepath.Join(t.TempDir(), "replied.log"))
	if err != nil {
		t.Fatal(err)
	}
	gaz, err := gazetteer.New("")
	if err != nil {
		t.Fatal(err)
	}
	engine := relevance.NewEngine(repliedStore, gaz)

	res := resolver.Func(func(_ context.Context, participant string) (string, error) {
		if contact, ok := resolutions[participant]; ok {
			return contact, nil
		}
		return "", resolver.ErrNotFound
	})

	orch := orchestrator.New(
		orchestrator.Config{AuthDir: t.TempDir()},
		func(string) (wa.Client, error) { return fake, nil },
	)

	return NewServer(Config{}, orch, engine, repliedStore, res)
}

// startReadySession drives the fake through pairing until the session is READY.
func startReadySession(t *testing.T, s *Server, c *Client, fake *fakeWA, tenantID string) {
	t.Helper()

	s.dispatch(context.Background(), c, command(t, protocol.CmdStartSession, map[string]any{"tenantId": tenantID}))
	waitEvent(t, c, protocol.EventQR)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		fn := fake.onReady
		fake.mu.Unlock()
		if fn != nil {
			fn()
			waitEvent(t, c, protocol.EventReady)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("fake client never saw a ready handler")
}

func command(t *testing.T, cmd string, payload any) protocol.CommandFrame {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.CommandFrame{Cmd: cmd, Payload: data}
}

// waitEvent drains the client's send queue until the named event arrives.
func waitEvent(t *testing.T, c *Client, event string) protocol.EventFrame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-c.send:
			if frame.Event == event {
				return frame
			}
		case <-deadline:
			t.Fatalf("event %q never arrived", event)
		}
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	s := testServer(t, &fakeWA{}, nil)
	c := NewClient(nil, s)

	s.dispatch(context.Background(), c, protocol.CommandFrame{Cmd: "frobnicate"})

	frame := waitEvent(t, c, protocol.EventError)
	payload := frame.Payload.(protocol.ErrorPayload)
	if payload.Message == "" {
		t.Error("error event should name the rejected command")
	}
}

func TestStartSession_GeneratesTenantID(t *testing.T) {
	fake := &fakeWA{}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)

	s.dispatch(context.Background(), c, protocol.CommandFrame{Cmd: protocol.CmdStartSession})

	if c.Tenant() == "" {
		t.Error("start-session without tenantId should mint one")
	}
	waitEvent(t, c, protocol.EventQR)
}

func TestRestoreSession_NothingToRestore(t *testing.T) {
	s := testServer(t, &fakeWA{}, nil)
	c := NewClient(nil, s)

	s.dispatch(context.Background(), c, command(t, protocol.CmdRestoreSession, map[string]any{"tenantId": "ghost"}))

	waitEvent(t, c, protocol.EventNotReady)
}

func TestCommandsRequireSession(t *testing.T) {
	s := testServer(t, &fakeWA{}, nil)
	c := NewClient(nil, s)

	s.dispatch(context.Background(), c, command(t, protocol.CmdGetRelevant, map[string]any{}))

	waitEvent(t, c, protocol.EventError)
}

func TestGetRelevant_ReturnsLeads(t *testing.T) {
	fake := &fakeWA{
		chats: []wa.ChatSummary{{ID: "c1", Name: "Flat Hunters"}},
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "m1", ChatID: "c1", Body: "looking for apartment in kyiv", Timestamp: 10},
				{ID: "m2", ChatID: "c1", Body: "unrelated chatter", Timestamp: 20},
			},
		},
	}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	s.dispatch(context.Background(), c, command(t, protocol.CmdGetRelevant, map[string]any{
		"filters": map[string]any{"keywords": "apartment"},
	}))

	frame := waitEvent(t, c, protocol.EventRelevantMessages)
	leads := frame.Payload.(map[string]any)["messages"].([]relevance.Lead)
	if len(leads) != 1 || leads[0].ID != "m1" {
		t.Fatalf("leads = %+v, want only m1", leads)
	}
}

func TestQuickReply_ResolvesGroupAuthor(t *testing.T) {
	fake := &fakeWA{}
	s := testServer(t, fake, map[string]string{"99@lid": "380501234567@c.us"})
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	s.dispatch(context.Background(), c, command(t, protocol.CmdQuickReply, map[string]any{
		"chatId":      "group-1",
		"text":        "hello there",
		"author":      "99@lid",
		"repliedToId": "m7",
	}))

	// A successful quick-reply is silent; replied-messages stays reserved
	// for the list query.
	for drained := false; !drained; {
		select {
		case frame := <-c.send:
			if frame.Event == protocol.EventRepliedMessages || frame.Event == protocol.EventError {
				t.Errorf("unexpected %q event after quick-reply: %+v", frame.Event, frame.Payload)
			}
		default:
			drained = true
		}
	}

	sent := fake.sentMessages()
	if len(sent) != 1 || sent[0].To != "380501234567@c.us" {
		t.Fatalf("sent = %+v, want one message to the resolved contact", sent)
	}
	if !s.replied.Contains("m7") {
		t.Error("source message should be marked replied after a successful send")
	}
}

func TestQuickReply_ResolutionFailureAbortsSend(t *testing.T) {
	fake := &fakeWA{}
	s := testServer(t, fake, nil) // resolver knows nothing
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	s.dispatch(context.Background(), c, command(t, protocol.CmdQuickReply, map[string]any{
		"chatId":      "group-1",
		"text":        "hello there",
		"author":      "99@lid",
		"repliedToId": "m7",
	}))

	waitEvent(t, c, protocol.EventError)

	if sent := fake.sentMessages(); len(sent) != 0 {
		t.Fatalf("no send may happen after a resolution failure, got %+v", sent)
	}
	if s.replied.Contains("m7") {
		t.Error("message must not be marked replied when nothing was sent")
	}
}

func TestQuickReply_SendFailureLeavesUnmarked(t *testing.T) {
	fake := &fakeWA{sendErr: fmt.Errorf("connection reset")}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	s.dispatch(context.Background(), c, command(t, protocol.CmdQuickReply, map[string]any{
		"chatId":      "chat-1",
		"text":        "hello",
		"repliedToId": "m9",
	}))

	waitEvent(t, c, protocol.EventError)
	if s.replied.Contains("m9") {
		t.Error("failed send must leave the message unmarked so it resurfaces")
	}
}

func TestMarkReplied(t *testing.T) {
	s := testServer(t, &fakeWA{}, nil)
	c := NewClient(nil, s)

	s.dispatch(context.Background(), c, command(t, protocol.CmdMarkReplied, map[string]any{"messageId": "m42"}))

	if !s.replied.Contains("m42") {
		t.Error("mark-as-replied should persist the id")
	}
}

func TestLoadChat_AuthorFilter(t *testing.T) {
	fake := &fakeWA{
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "m1", ChatID: "c1", Body: "from target", Author: "77@lid"},
				{ID: "m2", ChatID: "c1", Body: "from someone else", Author: "88@lid"},
				{ID: "m3", ChatID: "c1", Body: "my reply", FromMe: true},
			},
		},
	}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	s.dispatch(context.Background(), c, command(t, protocol.CmdLoadChat, map[string]any{
		"chatId":       "c1",
		"authorFilter": "77@lid",
	}))

	frame := waitEvent(t, c, protocol.EventChatHistory)
	messages := frame.Payload.(map[string]any)["messages"].([]wa.Message)
	if len(messages) != 2 {
		t.Fatalf("filtered history = %+v, want the target's message plus own replies", messages)
	}
	for _, m := range messages {
		if m.Author != "77@lid" && !m.FromMe {
			t.Errorf("message %s should have been filtered out", m.ID)
		}
	}
}

func TestLoadChat_DefaultsFetchLimit(t *testing.T) {
	fake := &fakeWA{
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "m1", ChatID: "c1", Body: "first"},
				{ID: "m2", ChatID: "c1", Body: "second"},
			},
		},
	}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	// No limit in the payload: the server must supply one, or a compliant
	// bridge returns an empty window.
	s.dispatch(context.Background(), c, command(t, protocol.CmdLoadChat, map[string]any{
		"chatId": "c1",
	}))

	frame := waitEvent(t, c, protocol.EventChatHistory)
	messages := frame.Payload.(map[string]any)["messages"].([]wa.Message)
	if len(messages) != 2 {
		t.Fatalf("history = %+v, want both messages", messages)
	}

	fake.mu.Lock()
	limit := fake.lastFetchLimit
	fake.mu.Unlock()
	if limit != loadChatLimit {
		t.Errorf("fetch limit = %d, want server default %d", limit, loadChatLimit)
	}
}

func TestLoadChat_FallsBackToBufferedHistory(t *testing.T) {
	fake := &fakeWA{fetchErr: fmt.Errorf("store unavailable")}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	fake.deliver(t, wa.Message{ID: "m1", ChatID: "c9", Body: "buffered", Timestamp: 7})
	waitEvent(t, c, protocol.EventNewMessage)

	s.dispatch(context.Background(), c, command(t, protocol.CmdLoadChat, map[string]any{
		"chatId": "c9",
	}))

	frame := waitEvent(t, c, protocol.EventChatHistory)
	messages := frame.Payload.(map[string]any)["messages"].([]wa.Message)
	if len(messages) != 1 || messages[0].ID != "m1" {
		t.Fatalf("history = %+v, want the buffered message", messages)
	}
}

func TestLogout_EmitsLoggedOut(t *testing.T) {
	fake := &fakeWA{}
	s := testServer(t, fake, nil)
	c := NewClient(nil, s)
	startReadySession(t, s, c, fake, "tenant-a")

	s.dispatch(context.Background(), c, command(t, protocol.CmdLogout, map[string]any{}))

	waitEvent(t, c, protocol.EventLoggedOut)
	if _, err := s.orch.Client("tenant-a"); err == nil {
		t.Error("session should be gone after logout")
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	fake := &fakeWA{}
	s := testServer(t, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, start := StartTestServer(s, ctx)
	go start()

	var conn *websocket.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"cmd":     protocol.CmdStartSession,
		"payload": map[string]any{"tenantId": "tenant-ws"},
	}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Event != protocol.EventQR {
		t.Fatalf("first event = %q, want %q", frame.Event, protocol.EventQR)
	}
	if frame.Payload["tenantId"] != "tenant-ws" {
		t.Errorf("qr event tenantId = %v", frame.Payload["tenantId"])
	}
}
