package relevance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/leadlens/leadlens/internal/gazetteer"
	"github.com/leadlens/leadlens/internal/replied"
	"github.com/leadlens/leadlens/internal/wa"
)

// fakeClient serves canned chats and messages, with optional per-chat fetch
// failures.
type fakeClient struct {
	chats    []wa.ChatSummary
	messages map[string][]wa.Message
	fetchErr map[string]error
}

func (f *fakeClient) RequestPairing(context.Context) (string, error) { return "", nil }
func (f *fakeClient) OnReady(func())                                 {}
func (f *fakeClient) OnMessage(func(wa.Message))                     {}
func (f *fakeClient) SendMessage(context.Context, string, string, *wa.Media) error {
	return nil
}
func (f *fakeClient) ResolveContact(context.Context, string) (string, error) {
	return "", wa.ErrNotResolved
}
func (f *fakeClient) StoreReady(context.Context) (bool, error) { return true, nil }
func (f *fakeClient) Logout(context.Context) error             { return nil }
func (f *fakeClient) Destroy() error                           { return nil }

func (f *fakeClient) ListChats(context.Context) ([]wa.ChatSummary, error) {
	return f.chats, nil
}

func (f *fakeClient) FetchMessages(_ context.Context, chatID string, _ wa.FetchOptions) ([]wa.Message, error) {
	if err := f.fetchErr[chatID]; err != nil {
		return nil, err
	}
	return f.messages[chatID], nil
}

func newTestEngine(t *testing.T) (*Engine, *replied.Store) {
	t.Helper()
	store, err := replied.NewStore(filepath.Join(t.TempDir(), "replied.log"))
	if err != nil {
		t.Fatal(err)
	}
	gaz, err := gazetteer.New("")
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(store, gaz), store
}

func i64(n int64) *int64 { return &n }

func TestFindRelevant_EndToEnd(t *testing.T) {
	engine, store := newTestEngine(t)

	client := &fakeClient{
		chats: []wa.ChatSummary{{ID: "chat-c", Name: "Rentals Kyiv"}},
		messages: map[string][]wa.Message{
			"chat-c": {
				{ID: "a", ChatID: "chat-c", Body: "Need 2-room apt Kyiv budget 500-700", Timestamp: 300},
				{ID: "b", ChatID: "chat-c", Body: "hello", Timestamp: 200},
				{ID: "c", ChatID: "chat-c", Body: "apartment in Kiev, 600$", Timestamp: 100},
			},
		},
	}
	if err := store.Mark("c"); err != nil {
		t.Fatal(err)
	}

	crit := &Criteria{
		Keywords:  "apt,apartment",
		Locality:  "Kyiv",
		BudgetMin: i64(400),
		BudgetMax: i64(800),
	}

	leads := engine.FindRelevant(context.Background(), client, []string{"chat-c"}, crit)
	if len(leads) != 1 {
		t.Fatalf("got %d leads, want 1: %+v", len(leads), leads)
	}
	if leads[0].ID != "a" {
		t.Errorf("lead id = %q, want 'a'", leads[0].ID)
	}
	if leads[0].SenderName != "Rentals Kyiv" {
		t.Errorf("sender name = %q, want chat name fallback", leads[0].SenderName)
	}
	if !leads[0].IsNew {
		t.Error("non-fromMe lead should be marked new")
	}
}

func TestFindRelevant_RepliedExcludedRegardlessOfMatch(t *testing.T) {
	engine, store := newTestEngine(t)

	client := &fakeClient{
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "m1", Body: "apartment kyiv 600", Timestamp: 2},
				{ID: "m2", Body: "apartment kyiv 650", Timestamp: 1},
			},
		},
	}
	if err := store.Mark("m1"); err != nil {
		t.Fatal(err)
	}

	leads := engine.FindRelevant(context.Background(), client, []string{"c1"}, nil)
	if len(leads) != 1 || leads[0].ID != "m2" {
		t.Fatalf("replied message not excluded: %+v", leads)
	}
}

func TestFindRelevant_NilCriteriaIsUnfilteredInbox(t *testing.T) {
	engine, _ := newTestEngine(t)

	client := &fakeClient{
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "old", Body: "first", Timestamp: 10},
				{ID: "empty", Body: "   ", Timestamp: 30},
				{ID: "new", Body: "second", Timestamp: 20},
			},
		},
	}

	leads := engine.FindRelevant(context.Background(), client, []string{"c1"}, nil)
	if len(leads) != 2 {
		t.Fatalf("got %d leads, want 2 (empty body skipped)", len(leads))
	}
	if leads[0].ID != "new" || leads[1].ID != "old" {
		t.Errorf("leads not sorted by timestamp descending: %+v", leads)
	}
}

func TestFindRelevant_UnboundedBudgetDoesNotRequireNumbers(t *testing.T) {
	engine, _ := newTestEngine(t)

	client := &fakeClient{
		messages: map[string][]wa.Message{
			"c1": {{ID: "m", Body: "apartment wanted", Timestamp: 1}},
		},
	}

	leads := engine.FindRelevant(context.Background(), client, []string{"c1"},
		&Criteria{Keywords: "apartment"})
	if len(leads) != 1 {
		t.Fatalf("message without numbers should pass when budget is unbounded: %+v", leads)
	}
}

func TestFindRelevant_PartialFetchFailure(t *testing.T) {
	engine, _ := newTestEngine(t)

	client := &fakeClient{
		messages: map[string][]wa.Message{
			"c1": {{ID: "m1", Body: "hello from c1", Timestamp: 1}},
		},
		fetchErr: map[string]error{
			"c2": errors.New("boom"),
		},
	}

	leads := engine.FindRelevant(context.Background(), client, []string{"c1", "c2"}, nil)
	if len(leads) != 1 || leads[0].ID != "m1" {
		t.Fatalf("expected only c1's matches, got %+v", leads)
	}
}

func TestFindRelevant_EmojiBudget(t *testing.T) {
	engine, _ := newTestEngine(t)

	client := &fakeClient{
		messages: map[string][]wa.Message{
			"c1": {{ID: "m", Body: "budget 1️⃣2️⃣0️⃣", Timestamp: 1}},
		},
	}

	leads := engine.FindRelevant(context.Background(), client, []string{"c1"},
		&Criteria{BudgetMin: i64(100), BudgetMax: i64(150)})
	if len(leads) != 1 {
		t.Fatalf("emoji-digit budget should match, got %+v", leads)
	}
}

func TestFindReplied_InverseQuery(t *testing.T) {
	engine, store := newTestEngine(t)

	client := &fakeClient{
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "done", Body: "handled lead", Timestamp: 2},
				{ID: "todo", Body: "fresh lead", Timestamp: 1},
			},
		},
	}
	if err := store.Mark("done"); err != nil {
		t.Fatal(err)
	}

	leads := engine.FindReplied(context.Background(), client, []string{"c1"})
	if len(leads) != 1 || leads[0].ID != "done" {
		t.Fatalf("FindReplied should return only flagged messages: %+v", leads)
	}
}
