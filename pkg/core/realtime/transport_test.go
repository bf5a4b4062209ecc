package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	core "github.com/chidolingo/voicelink/pkg/core"
)

func TestConnectRequiresCredential(t *testing.T) {
	tr := NewTransport(TransportConfig{})

	err := tr.Connect(context.Background(), "", "")
	if err == nil {
		t.Fatal("expected error for empty credential")
	}
	if kind := core.KindOf(err); kind != core.ErrConfiguration {
		t.Fatalf("error kind = %v, want %v", kind, core.ErrConfiguration)
	}
}

func TestExchangeSDP(t *testing.T) {
	var gotAuth, gotContentType, gotModel, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "v=0\r\nanswer")
	}))
	defer srv.Close()

	tr := NewTransport(TransportConfig{BaseURL: srv.URL, Model: "gpt-4o-mini-realtime-preview-2024-12-17"})

	answer, err := tr.exchangeSDP(context.Background(), "secret", "v=0\r\noffer")
	if err != nil {
		t.Fatalf("exchangeSDP: %v", err)
	}
	if answer != "v=0\r\nanswer" {
		t.Fatalf("answer = %q", answer)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotContentType != "application/sdp" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if gotModel != "gpt-4o-mini-realtime-preview-2024-12-17" {
		t.Fatalf("model = %q", gotModel)
	}
	if gotBody != "v=0\r\noffer" {
		t.Fatalf("posted body = %q", gotBody)
	}
}

func TestExchangeSDPRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "invalid credential")
	}))
	defer srv.Close()

	tr := NewTransport(TransportConfig{BaseURL: srv.URL})

	_, err := tr.exchangeSDP(context.Background(), "bad", "v=0\r\noffer")
	if err == nil {
		t.Fatal("expected negotiation error")
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("error type = %T", err)
	}
	if coreErr.Kind != core.ErrNegotiation {
		t.Fatalf("kind = %v, want %v", coreErr.Kind, core.ErrNegotiation)
	}
	if coreErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", coreErr.Status)
	}
	if coreErr.Body != "invalid credential" {
		t.Fatalf("body = %q", coreErr.Body)
	}
}

func TestConnectSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewTransport(TransportConfig{
		BaseURL:    srv.URL,
		ICEServers: []string{}, // host candidates only, no STUN round trip
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := tr.Connect(ctx, "secret", "")
	if err == nil {
		tr.Disconnect()
		t.Fatal("expected negotiation failure")
	}
	if kind := core.KindOf(err); kind != core.ErrNegotiation {
		t.Fatalf("error kind = %v, want %v", kind, core.ErrNegotiation)
	}

	// The failed attempt must not leave a half-open connection behind.
	if tr.IsReady() {
		t.Fatal("transport ready after failed connect")
	}
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	tr := NewTransport(TransportConfig{})

	if err := tr.Send(map[string]string{"type": "response.create"}); err != nil {
		t.Fatalf("send before connect = %v, want nil", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tr := NewTransport(TransportConfig{})

	tr.Disconnect()
	tr.Disconnect()

	if tr.IsReady() {
		t.Fatal("transport ready after disconnect")
	}
}
