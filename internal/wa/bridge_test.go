package wa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testFrame mirrors the bridge wire frame with raw params for inspection.
type testFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	Name   string          `json:"name,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// fakeBridge serves one WebSocket connection and answers requests through
// the supplied respond function. A nil response swallows the request.
func fakeBridge(t *testing.T, respond func(op string, params json.RawMessage) *testFrame) (url string, tenants <-chan string) {
	t.Helper()

	tenantCh := make(chan string, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantCh <- r.URL.Query().Get("tenant")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var req testFrame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Type != "request" {
				continue
			}
			resp := respond(req.Op, req.Params)
			if resp == nil {
				continue
			}
			resp.Type = "response"
			resp.ID = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), tenantCh
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestBridgeClient_RequestPairing(t *testing.T) {
	url, tenants := fakeBridge(t, func(op string, _ json.RawMessage) *testFrame {
		if op != "pairing" {
			t.Errorf("op = %q", op)
		}
		return &testFrame{OK: true, Data: mustRaw(t, map[string]string{"qr": "2@abc"})}
	})

	c, err := NewBridgeClient(BridgeConfig{URL: url}, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	if got := <-tenants; got != "tenant-a" {
		t.Errorf("bridge saw tenant %q", got)
	}

	qr, err := c.RequestPairing(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if qr != "2@abc" {
		t.Errorf("qr = %q", qr)
	}
}

func TestBridgeClient_ErrorResponse(t *testing.T) {
	url, _ := fakeBridge(t, func(string, json.RawMessage) *testFrame {
		return &testFrame{OK: false, Error: "client not initialized"}
	})

	c, err := NewBridgeClient(BridgeConfig{URL: url}, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	_, err = c.ListChats(context.Background())
	if err == nil || !strings.Contains(err.Error(), "client not initialized") {
		t.Errorf("err = %v, want bridge error surfaced", err)
	}
}

func TestBridgeClient_CallTimeout(t *testing.T) {
	url, _ := fakeBridge(t, func(string, json.RawMessage) *testFrame {
		return nil // never answer
	})

	c, err := NewBridgeClient(BridgeConfig{URL: url, CallTimeout: 50 * time.Millisecond}, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	start := time.Now()
	_, err = c.ListChats(context.Background())
	if err == nil {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s, want roughly the configured TTL", elapsed)
	}
}

func TestBridgeClient_EventDispatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Events are pushed only after the first request so the test has
		// registered its handlers by then.
		for {
			var req testFrame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Type != "request" {
				continue
			}
			conn.WriteJSON(testFrame{Type: "response", ID: req.ID, OK: true, Data: mustRaw(t, map[string]bool{"ready": true})})
			conn.WriteJSON(testFrame{Type: "event", Name: "ready"})
			conn.WriteJSON(testFrame{Type: "event", Name: "message", Data: mustRaw(t, Message{
				ID: "m1", ChatID: "c1", Body: "hello", Timestamp: 42,
			})})
		}
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	readyCh := make(chan struct{}, 1)
	msgCh := make(chan Message, 1)

	c, err := NewBridgeClient(BridgeConfig{URL: url}, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()
	c.OnReady(func() { readyCh <- struct{}{} })
	c.OnMessage(func(m Message) { msgCh <- m })

	if _, err := c.StoreReady(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ready event never dispatched")
	}
	select {
	case m := <-msgCh:
		if m.ID != "m1" || m.Body != "hello" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message event never dispatched")
	}
}

func TestBridgeClient_ResolveContactAbsent(t *testing.T) {
	url, _ := fakeBridge(t, func(op string, _ json.RawMessage) *testFrame {
		return &testFrame{OK: true, Data: mustRaw(t, map[string]string{"contact": ""})}
	})

	c, err := NewBridgeClient(BridgeConfig{URL: url}, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	_, err = c.ResolveContact(context.Background(), "99@lid")
	if !errors.Is(err, ErrNotResolved) {
		t.Errorf("err = %v, want ErrNotResolved", err)
	}
}

func TestBridgeClient_DestroyFailsInFlightCalls(t *testing.T) {
	url, _ := fakeBridge(t, func(string, json.RawMessage) *testFrame {
		return nil
	})

	c, err := NewBridgeClient(BridgeConfig{URL: url, CallTimeout: 5 * time.Second}, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ListChats(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Destroy()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("in-flight call should fail when the client is destroyed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call never returned after Destroy")
	}
}
