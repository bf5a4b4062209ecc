// Package server exposes the gateway's HTTP surface: the live websocket,
// the usage endpoint, health, and metrics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chidolingo/voicelink/internal/metrics"
	"github.com/chidolingo/voicelink/pkg/core/practice"
	"github.com/chidolingo/voicelink/pkg/core/quota"
	"github.com/chidolingo/voicelink/pkg/gateway/config"
	"github.com/chidolingo/voicelink/pkg/gateway/protocol"
)

// SessionFactory builds a fresh practice session for one websocket
// connection, with its transport and store already wired.
type SessionFactory func() *practice.Session

// Server routes gateway traffic. One live session at a time; further
// callers get 503 until the slot frees.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *quota.Store
	newSession SessionFactory
	upgrader   websocket.Upgrader
	busy       chan struct{}
}

// New assembles a server. The store backs the usage endpoint; sessions
// carry their own reference via the factory.
func New(cfg config.Config, store *quota.Store, newSession SessionFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		newSession: newSession,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		busy: make(chan struct{}, 1),
	}
}

// Handler returns the gateway mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/live", s.handleLive)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	used := s.store.Load()
	remaining := s.cfg.Budget - used
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"used_ms":      used.Milliseconds(),
		"budget_ms":    s.cfg.Budget.Milliseconds(),
		"remaining_ms": remaining.Milliseconds(),
		"remaining":    quota.Format(remaining),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	select {
	case s.busy <- struct{}{}:
	default:
		metrics.StartFailures.WithLabelValues("busy").Inc()
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": protocol.ErrorBody{Code: protocol.CodeBusy, Message: "another session is in progress"},
		})
		return
	}
	defer func() { <-s.busy }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.WSMaxMessageBytes)

	s.logger.Info("caller connected", "remote", r.RemoteAddr)
	s.serveSession(r, conn)
	s.logger.Info("caller gone", "remote", r.RemoteAddr)
}

// serveSession runs one websocket connection to completion. A writer
// goroutine owns the socket's write side; the reader loop and the event
// pump both feed it through a channel.
func (s *Server) serveSession(r *http.Request, conn *websocket.Conn) {
	sess := s.newSession()
	out := make(chan protocol.ServerMessage, 64)
	done := make(chan struct{})
	defer close(done)
	defer sess.Stop()

	go func() {
		for {
			select {
			case <-done:
				return
			case ev := <-sess.Events():
				s.observe(ev)
				if frame, ok := toFrame(ev); ok {
					select {
					case out <- frame:
					case <-done:
						return
					}
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			case frame := <-out:
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
				if err := conn.WriteJSON(frame); err != nil {
					s.logger.Debug("writing frame", "error", err)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("reading frame", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) {
				s.send(out, done, protocol.ErrorMessage(decErr.Code, decErr.Message))
			}
			continue
		}

		switch m := msg.(type) {
		case protocol.Start:
			s.startSession(r, sess, m, out, done)
		case protocol.Stop:
			sess.Stop()
		}
	}
}

func (s *Server) startSession(r *http.Request, sess *practice.Session, m protocol.Start, out chan protocol.ServerMessage, done chan struct{}) {
	credential := m.Credential
	if credential == "" {
		credential = s.cfg.AgentCredential
	}
	if credential == "" {
		s.send(out, done, protocol.ErrorMessage(protocol.CodeMissingParam, "no credential supplied or configured"))
		return
	}

	err := sess.Start(r.Context(), credential, m.Instructions)
	switch {
	case err == nil:
		metrics.SessionsActive.Inc()
		metrics.SessionsStarted.Inc()
	case errors.Is(err, practice.ErrQuotaExhausted):
		metrics.StartFailures.WithLabelValues("quota").Inc()
		s.send(out, done, protocol.ErrorMessage(protocol.CodeQuotaExhausted, "daily practice budget exhausted"))
	case errors.Is(err, practice.ErrAlreadyStarted):
		s.send(out, done, protocol.ErrorMessage(protocol.CodeSessionFailed, "session already started"))
	default:
		metrics.StartFailures.WithLabelValues("connect").Inc()
		s.logger.Warn("session start failed", "error", err)
		s.send(out, done, protocol.ErrorMessage(protocol.CodeSessionFailed, err.Error()))
	}
}

// observe updates session metrics from the event stream.
func (s *Server) observe(ev practice.Event) {
	switch ev.Kind {
	case practice.EventDisconnected:
		metrics.SessionsActive.Dec()
	case practice.EventQuota:
		if ev.Remaining <= 0 {
			metrics.QuotaExhaustions.Inc()
		}
	}
}

func (s *Server) send(out chan protocol.ServerMessage, done chan struct{}, frame protocol.ServerMessage) {
	select {
	case out <- frame:
	case <-done:
	}
}

// toFrame translates a session event into its wire frame.
func toFrame(ev practice.Event) (protocol.ServerMessage, bool) {
	switch ev.Kind {
	case practice.EventPhase:
		return protocol.State(ev.Phase), true
	case practice.EventTyping:
		return protocol.Typing(ev.Typing), true
	case practice.EventPartial:
		return protocol.TranscriptDelta(ev.Text), true
	case practice.EventCurrent:
		return protocol.Current(ev.Text), true
	case practice.EventMessage:
		return protocol.Transcript(ev.Message), true
	case practice.EventQuota:
		return protocol.Quota(ev.Remaining, ev.RemainingLabel), true
	case practice.EventDisconnected:
		return protocol.Disconnected(), true
	}
	return protocol.ServerMessage{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("encoding response", "error", err)
	}
}
