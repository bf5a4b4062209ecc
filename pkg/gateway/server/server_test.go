package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chidolingo/voicelink/pkg/core/practice"
	"github.com/chidolingo/voicelink/pkg/core/quota"
	"github.com/chidolingo/voicelink/pkg/core/realtime"
	"github.com/chidolingo/voicelink/pkg/gateway/config"
	"github.com/chidolingo/voicelink/pkg/gateway/protocol"
)

type fakeTransport struct {
	mu           sync.Mutex
	connects     int
	handlers     []func(realtime.ServerEvent)
	onDisconnect func()
}

func (f *fakeTransport) Connect(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeTransport) Send(any) error { return nil }

func (f *fakeTransport) OnMessage(fn func(realtime.ServerEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

func (f *fakeTransport) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) IsReady() bool { return true }

func (f *fakeTransport) deliver(ev realtime.ServerEvent) {
	f.mu.Lock()
	handlers := make([]func(realtime.ServerEvent), len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func testConfig() config.Config {
	return config.Config{
		Addr:              ":0",
		Budget:            5 * time.Minute,
		TickInterval:      time.Hour,
		PersistEvery:      5,
		LingerDuration:    2 * time.Second,
		FadeDuration:      400 * time.Millisecond,
		WSWriteTimeout:    5 * time.Second,
		WSMaxMessageBytes: 64 << 10,
		Greeting:          "¡Hola! Soy Chip.",
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *quota.Store, *fakeTransport) {
	t.Helper()
	store, err := quota.OpenStore(filepath.Join(t.TempDir(), "usage.db"), nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fake := &fakeTransport{}
	factory := func() *practice.Session {
		return practice.NewSession(practice.Config{
			Transport: fake,
			Store:     store,
			Quota: quota.TrackerConfig{
				Budget:       cfg.Budget,
				TickInterval: cfg.TickInterval,
				PersistEvery: cfg.PersistEvery,
			},
			Greeting: cfg.Greeting,
		})
	}
	return New(cfg, store, factory, nil), store, fake
}

func dialLive(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing live endpoint: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, frameType string) protocol.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame protocol.ServerMessage
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q frame: %v", frameType, err)
		}
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUsageEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t, testConfig())
	if err := store.Save(90 * time.Second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/usage")
	if err != nil {
		t.Fatalf("GET /v1/usage: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		UsedMs      int64  `json:"used_ms"`
		BudgetMs    int64  `json:"budget_ms"`
		RemainingMs int64  `json:"remaining_ms"`
		Remaining   string `json:"remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.UsedMs != 90000 || body.BudgetMs != 300000 || body.RemainingMs != 210000 {
		t.Fatalf("usage = %+v", body)
	}
	if body.Remaining != "3:30" {
		t.Fatalf("remaining = %q, want 3:30", body.Remaining)
	}
}

func TestLiveSessionRoundTrip(t *testing.T) {
	s, _, fake := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialLive(t, srv)

	if err := conn.WriteJSON(map[string]string{"type": "start", "credential": "ek_test"}); err != nil {
		t.Fatalf("sending start: %v", err)
	}

	greeting := readFrame(t, conn, "message")
	if greeting.Message == nil || greeting.Message.Content != "¡Hola! Soy Chip." {
		t.Fatalf("greeting frame = %+v", greeting)
	}

	q := readFrame(t, conn, "quota")
	if q.Remaining != "5:00" {
		t.Fatalf("quota frame = %+v", q)
	}

	fake.deliver(realtime.TranscriptDelta{Delta: "Ho"})
	delta := readFrame(t, conn, "transcript.delta")
	if delta.Text == nil || *delta.Text != "Ho" {
		t.Fatalf("delta frame = %+v", delta)
	}

	fake.deliver(realtime.TranscriptDone{Transcript: "Hola"})
	msg := readFrame(t, conn, "message")
	if msg.Message == nil || msg.Message.Content != "Hola" || msg.Message.Role != "assistant" {
		t.Fatalf("message frame = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("sending stop: %v", err)
	}
	readFrame(t, conn, "disconnected")
}

func TestLiveStartWithoutCredential(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialLive(t, srv)

	if err := conn.WriteJSON(map[string]string{"type": "start"}); err != nil {
		t.Fatalf("sending start: %v", err)
	}

	frame := readFrame(t, conn, "error")
	if frame.Error == nil || frame.Error.Code != protocol.CodeMissingParam {
		t.Fatalf("error frame = %+v", frame)
	}
}

func TestLiveQuotaExhaustedStart(t *testing.T) {
	s, store, _ := newTestServer(t, testConfig())
	if err := store.Save(10 * time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialLive(t, srv)

	if err := conn.WriteJSON(map[string]string{"type": "start", "credential": "ek_test"}); err != nil {
		t.Fatalf("sending start: %v", err)
	}

	frame := readFrame(t, conn, "error")
	if frame.Error == nil || frame.Error.Code != protocol.CodeQuotaExhausted {
		t.Fatalf("error frame = %+v", frame)
	}
}

func TestLiveRejectsSecondCaller(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dialLive(t, srv)

	// The slot is held for the websocket's whole lifetime, so a plain GET
	// observes the refusal without needing a second handshake.
	resp, err := http.Get(srv.URL + "/v1/live")
	if err != nil {
		t.Fatalf("GET /v1/live: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestLiveMalformedMessage(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialLive(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{{{")); err != nil {
		t.Fatalf("sending garbage: %v", err)
	}

	frame := readFrame(t, conn, "error")
	if frame.Error == nil || frame.Error.Code != protocol.CodeInvalidJSON {
		t.Fatalf("error frame = %+v", frame)
	}
}
