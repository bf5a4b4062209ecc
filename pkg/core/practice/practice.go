// Package practice orchestrates one speaking-practice session: it gates
// the connection on the daily budget, wires the agent transport into the
// conversation state machine, and exposes the resulting activity as an
// event stream.
package practice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chidolingo/voicelink/pkg/core/quota"
	"github.com/chidolingo/voicelink/pkg/core/realtime"
)

// ErrQuotaExhausted is returned by Start when today's budget is already
// spent. Nothing is connected and nothing is accrued.
var ErrQuotaExhausted = errors.New("daily practice budget exhausted")

// ErrAlreadyStarted is returned by Start on a session that is running.
var ErrAlreadyStarted = errors.New("session already started")

// AgentTransport is the connection the session drives. Satisfied by
// realtime.Transport; tests substitute fakes.
type AgentTransport interface {
	Connect(ctx context.Context, credential, instructions string) error
	Send(v any) error
	OnMessage(fn func(realtime.ServerEvent))
	OnDisconnect(fn func())
	Disconnect()
	IsReady() bool
}

// EventKind discriminates session events.
type EventKind string

const (
	EventPhase        EventKind = "phase"
	EventTyping       EventKind = "typing"
	EventPartial      EventKind = "transcript.delta"
	EventCurrent      EventKind = "current"
	EventMessage      EventKind = "message"
	EventQuota        EventKind = "quota"
	EventDisconnected EventKind = "disconnected"
)

// Event is one observable change in the session. Only the fields relevant
// to the Kind are set.
type Event struct {
	Kind EventKind

	Phase   realtime.Phase
	Typing  bool
	Text    string
	Message realtime.Message

	Remaining      time.Duration
	RemainingLabel string
}

// Config assembles a Session.
type Config struct {
	Transport AgentTransport
	Store     *quota.Store

	// Quota tunes the budget tracker. OnLimitReached is owned by the
	// session and must be left nil.
	Quota quota.TrackerConfig

	// Conversation tunes the state machine timers.
	Conversation realtime.ConversationConfig

	// Instructions is the agent persona; empty means the package default.
	Instructions string

	// Greeting seeds the transcript after a successful connect.
	Greeting string

	// EventBuffer caps the undelivered event backlog. Default: 64.
	EventBuffer int

	Logger *slog.Logger
}

// Session is one user's live practice session. All methods are safe for
// concurrent use.
type Session struct {
	transport AgentTransport
	tracker   *quota.Tracker
	conv      *realtime.Conversation
	logger    *slog.Logger

	instructions string
	greeting     string

	events chan Event

	mu      sync.Mutex
	started bool
}

// NewSession wires a session together. Nothing connects until Start.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = realtime.DefaultInstructions
	}

	s := &Session{
		transport:    cfg.Transport,
		logger:       logger,
		instructions: instructions,
		greeting:     cfg.Greeting,
		events:       make(chan Event, cfg.EventBuffer),
	}

	quotaCfg := cfg.Quota
	quotaCfg.OnLimitReached = s.onLimitReached
	quotaCfg.OnTick = func(time.Duration) { s.emitQuota() }
	s.tracker = quota.NewTracker(cfg.Store, quotaCfg)

	s.conv = realtime.NewConversation(cfg.Conversation, realtime.Callbacks{
		OnPhaseChange: func(_, to realtime.Phase) {
			s.emit(Event{Kind: EventPhase, Phase: to})
		},
		OnTyping: func(typing bool) {
			s.emit(Event{Kind: EventTyping, Typing: typing})
		},
		OnPartial: func(delta string) {
			s.emit(Event{Kind: EventPartial, Text: delta})
		},
		OnCurrent: func(text string) {
			s.emit(Event{Kind: EventCurrent, Text: text})
		},
		OnMessage: func(msg realtime.Message) {
			s.emit(Event{Kind: EventMessage, Message: msg})
		},
	})

	s.transport.OnMessage(s.conv.Handle)
	s.transport.OnDisconnect(s.onTransportLost)
	return s
}

// Events delivers session activity. Events are dropped, with a warning,
// if the consumer falls behind the buffer.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Tracker exposes the budget tracker for usage queries.
func (s *Session) Tracker() *quota.Tracker {
	return s.tracker
}

// Messages returns the finalized transcript so far.
func (s *Session) Messages() []realtime.Message {
	return s.conv.Messages()
}

// Start checks the budget, connects, and begins accruing time. An empty
// instructions string falls back to the configured persona. With the
// budget already spent it returns ErrQuotaExhausted without touching the
// transport.
func (s *Session) Start(ctx context.Context, credential, instructions string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	if !s.budgetAvailable() {
		return ErrQuotaExhausted
	}

	if instructions == "" {
		instructions = s.instructions
	}
	if err := s.transport.Connect(ctx, credential, instructions); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.tracker.Start()
	if s.greeting != "" {
		s.conv.Greet(s.greeting)
	}
	s.emitQuota()
	s.logger.Info("practice session started", "remaining", s.tracker.FormatRemaining())
	return nil
}

// Stop ends the session: disconnects, persists usage, and resets the
// conversation. Safe to call repeatedly.
func (s *Session) Stop() {
	if !s.endSession() {
		return
	}
	s.transport.Disconnect()
	s.teardown()
	s.logger.Info("practice session stopped", "used", s.tracker.Used())
}

// budgetAvailable consults the persisted record, not tracker state, so a
// freshly created session sees yesterday's reset and today's prior spend.
func (s *Session) budgetAvailable() bool {
	return s.tracker.PersistedUsed() < s.tracker.Budget()
}

// onLimitReached runs from the tracker when the budget hits zero mid-call.
func (s *Session) onLimitReached() {
	if !s.endSession() {
		return
	}
	s.logger.Info("budget exhausted, ending session")
	s.transport.Disconnect()
	s.teardown()
}

// onTransportLost runs when the peer connection fails underneath us.
func (s *Session) onTransportLost() {
	if !s.endSession() {
		return
	}
	s.logger.Warn("transport lost, ending session")
	s.teardown()
}

// endSession flips started off, reporting whether this caller ended it.
func (s *Session) endSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	s.started = false
	return true
}

func (s *Session) teardown() {
	s.tracker.Stop()
	s.conv.Reset()
	s.emitQuota()
	s.emit(Event{Kind: EventDisconnected})
}

func (s *Session) emitQuota() {
	s.emit(Event{
		Kind:           EventQuota,
		Remaining:      s.tracker.Remaining(),
		RemainingLabel: s.tracker.FormatRemaining(),
	})
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("dropping session event, consumer too slow", "kind", ev.Kind)
	}
}
