package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the conversational state visible to the caller.
type Phase int

const (
	// PhaseIdle means nobody holds the floor.
	PhaseIdle Phase = iota
	// PhaseAwaitingResponse means the agent has started composing a reply.
	PhaseAwaitingResponse
	// PhaseAssistantSpeaking means agent audio or transcript is streaming.
	PhaseAssistantSpeaking
	// PhaseUserSpeaking means the remote turn detector heard the user.
	PhaseUserSpeaking
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseAwaitingResponse:
		return "AWAITING_RESPONSE"
	case PhaseAssistantSpeaking:
		return "ASSISTANT_SPEAKING"
	case PhaseUserSpeaking:
		return "USER_SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one finalized utterance in the transcript log. Messages are
// created only from completed transcripts, never from partial deltas.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationConfig tunes the state machine's timers.
type ConversationConfig struct {
	// LingerDelay is how long the assistant keeps "speaking" after its audio
	// finishes sending, so playback can drain. Default: 2s.
	LingerDelay time.Duration

	// FadeDelay is how long after the user stops speaking the displayed
	// assistant utterance is cleared. Default: 400ms.
	FadeDelay time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Callbacks receive conversation changes. All callbacks run outside the
// state machine's lock; nil callbacks are skipped.
type Callbacks struct {
	// OnPhaseChange fires on every phase transition.
	OnPhaseChange func(from, to Phase)

	// OnTyping fires when the transcript-visible sub-state flips.
	OnTyping func(typing bool)

	// OnPartial fires for each incremental transcript fragment.
	OnPartial func(delta string)

	// OnCurrent fires when the displayed utterance changes; "" means it was
	// cleared (faded out or reset).
	OnCurrent func(text string)

	// OnMessage fires when a finalized message is appended to the log.
	OnMessage func(msg Message)
}

// Conversation interprets the inbound event stream into conversational
// state. Each event is handled to completion before the next; cross-event
// state (pending user transcript, timers) lives on the instance so separate
// sessions never interfere.
type Conversation struct {
	cb     Callbacks
	now    func() time.Time
	logger *slog.Logger

	linger *delayTimer
	fade   *delayTimer

	mu          sync.Mutex
	phase       Phase
	typing      bool
	current     string
	pendingUser string
	hasPending  bool
	messages    []Message
}

// NewConversation creates a conversation state machine in the idle phase.
func NewConversation(cfg ConversationConfig, cb Callbacks) *Conversation {
	if cfg.LingerDelay <= 0 {
		cfg.LingerDelay = 2 * time.Second
	}
	if cfg.FadeDelay <= 0 {
		cfg.FadeDelay = 400 * time.Millisecond
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conversation{
		cb:     cb,
		now:    now,
		logger: logger,
		phase:  PhaseIdle,
	}
	c.linger = newDelayTimer(cfg.LingerDelay)
	c.fade = newDelayTimer(cfg.FadeDelay)
	return c
}

// Handle applies one inbound event.
func (c *Conversation) Handle(ev ServerEvent) {
	var effects []func()

	c.mu.Lock()
	switch e := ev.(type) {
	case ResponseStarted:
		c.linger.Cancel()
		c.setPhaseLocked(PhaseAwaitingResponse, &effects)
		c.setTypingLocked(true, &effects)

	case AudioDelta:
		c.linger.Cancel()
		c.setPhaseLocked(PhaseAssistantSpeaking, &effects)

	case TranscriptDelta:
		if e.Delta != "" {
			c.linger.Cancel()
			if c.phase != PhaseAwaitingResponse {
				c.setPhaseLocked(PhaseAssistantSpeaking, &effects)
			}
			c.setTypingLocked(true, &effects)
			if c.cb.OnPartial != nil {
				delta := e.Delta
				effects = append(effects, func() { c.cb.OnPartial(delta) })
			}
		}

	case TranscriptDone:
		if e.Transcript != "" {
			c.flushPendingUserLocked(&effects)
			c.appendLocked(RoleAssistant, e.Transcript, &effects)
			c.setTypingLocked(false, &effects)
			c.fade.Cancel()
			c.setCurrentLocked(e.Transcript, &effects)
		}

	case UserTranscriptDone:
		if e.Transcript != "" {
			if c.hasPending {
				c.logger.Debug("replacing unflushed user transcript",
					"previous", c.pendingUser)
			}
			c.pendingUser = e.Transcript
			c.hasPending = true
		}

	case AudioDone:
		c.setTypingLocked(false, &effects)
		c.linger.Start(c.lingerExpired)

	case ResponseDone:
		if !c.linger.Active() && (c.phase == PhaseAssistantSpeaking || c.phase == PhaseAwaitingResponse) {
			c.setPhaseLocked(PhaseIdle, &effects)
		}
		c.setTypingLocked(false, &effects)

	case SpeechStarted:
		// Barge-in: drop the speaking indicator immediately, no linger.
		c.linger.Cancel()
		c.setPhaseLocked(PhaseUserSpeaking, &effects)

	case SpeechStopped:
		c.setPhaseLocked(PhaseAwaitingResponse, &effects)
		c.setTypingLocked(true, &effects)
		if c.current != "" {
			c.fade.Start(c.fadeExpired)
		}

	case SessionUpdated:
		// Configuration acknowledgment, nothing to do.

	case UnknownEvent:
		c.logger.Debug("ignoring unrecognized event", "type", e.Type)

	default:
		c.logger.Debug("ignoring unrecognized event", "type", ev.EventType())
	}
	c.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// Reset returns the machine to idle: pending transcript discarded, timers
// cancelled, log and displayed utterance cleared. Called on disconnect.
func (c *Conversation) Reset() {
	c.linger.Cancel()
	c.fade.Cancel()

	var effects []func()
	c.mu.Lock()
	c.setPhaseLocked(PhaseIdle, &effects)
	c.setTypingLocked(false, &effects)
	c.setCurrentLocked("", &effects)
	c.pendingUser = ""
	c.hasPending = false
	c.messages = nil
	c.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// Greet seeds the log and the displayed utterance with an assistant message,
// shown right after a successful connect.
func (c *Conversation) Greet(text string) {
	if text == "" {
		return
	}
	var effects []func()
	c.mu.Lock()
	c.appendLocked(RoleAssistant, text, &effects)
	c.setCurrentLocked(text, &effects)
	c.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// Phase returns the current phase.
func (c *Conversation) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Typing reports the transcript-visible sub-state.
func (c *Conversation) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Current returns the displayed assistant utterance, "" when cleared.
func (c *Conversation) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Messages returns a snapshot of the finalized transcript log.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) lingerExpired() {
	var effects []func()
	c.mu.Lock()
	if c.phase == PhaseAssistantSpeaking {
		c.setPhaseLocked(PhaseIdle, &effects)
	}
	c.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

func (c *Conversation) fadeExpired() {
	var effects []func()
	c.mu.Lock()
	c.setCurrentLocked("", &effects)
	c.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// flushPendingUserLocked moves a buffered user transcript into the log. The
// user message always lands before the assistant message that triggered the
// flush.
func (c *Conversation) flushPendingUserLocked(effects *[]func()) {
	if !c.hasPending {
		return
	}
	c.appendLocked(RoleUser, c.pendingUser, effects)
	c.pendingUser = ""
	c.hasPending = false
}

func (c *Conversation) appendLocked(role Role, content string, effects *[]func()) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	if c.cb.OnMessage != nil {
		*effects = append(*effects, func() { c.cb.OnMessage(msg) })
	}
}

func (c *Conversation) setPhaseLocked(to Phase, effects *[]func()) {
	if c.phase == to {
		return
	}
	from := c.phase
	c.phase = to
	if c.cb.OnPhaseChange != nil {
		*effects = append(*effects, func() { c.cb.OnPhaseChange(from, to) })
	}
}

func (c *Conversation) setTypingLocked(typing bool, effects *[]func()) {
	if c.typing == typing {
		return
	}
	c.typing = typing
	if c.cb.OnTyping != nil {
		*effects = append(*effects, func() { c.cb.OnTyping(typing) })
	}
}

func (c *Conversation) setCurrentLocked(text string, effects *[]func()) {
	if c.current == text {
		return
	}
	c.current = text
	if c.cb.OnCurrent != nil {
		*effects = append(*effects, func() { c.cb.OnCurrent(text) })
	}
}
