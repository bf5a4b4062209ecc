// Package protocol defines the JSON messages exchanged with callers over
// the live websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chidolingo/voicelink/pkg/core/realtime"
)

// Error codes carried in decode failures and error frames.
const (
	CodeInvalidJSON    = "invalid_json"
	CodeUnknownType    = "unknown_type"
	CodeMissingParam   = "missing_param"
	CodeQuotaExhausted = "quota_exhausted"
	CodeSessionFailed  = "session_failed"
	CodeBusy           = "busy"
)

// DecodeError describes a caller message the gateway rejected.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Start asks the gateway to open a practice session.
type Start struct {
	Credential   string
	Instructions string
}

// Stop asks the gateway to end the session.
type Stop struct{}

// DecodeClientMessage parses one caller frame into Start or Stop.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type         string `json:"type"`
		Credential   string `json:"credential"`
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Code: CodeInvalidJSON, Message: "message is not valid JSON"}
	}

	switch envelope.Type {
	case "start":
		// An absent credential is legal here; the gateway substitutes its
		// configured one or rejects the start itself.
		return Start{Credential: envelope.Credential, Instructions: envelope.Instructions}, nil
	case "stop":
		return Stop{}, nil
	case "":
		return nil, &DecodeError{Code: CodeMissingParam, Message: "message has no type", Param: "type"}
	default:
		return nil, &DecodeError{
			Code:    CodeUnknownType,
			Message: fmt.Sprintf("unknown message type %q", envelope.Type),
			Param:   "type",
		}
	}
}

// ChatMessage is a finalized transcript entry as sent to callers.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorBody carries an error frame's payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerMessage is the envelope for every gateway-to-caller frame. Only
// the fields relevant to the Type are populated.
type ServerMessage struct {
	Type        string       `json:"type"`
	Phase       string       `json:"phase,omitempty"`
	Typing      *bool        `json:"typing,omitempty"`
	Text        *string      `json:"text,omitempty"`
	Message     *ChatMessage `json:"message,omitempty"`
	RemainingMs int64        `json:"remaining_ms,omitempty"`
	Remaining   string       `json:"remaining,omitempty"`
	Error       *ErrorBody   `json:"error,omitempty"`
}

// State reports a phase transition.
func State(phase realtime.Phase) ServerMessage {
	return ServerMessage{Type: "state", Phase: phase.String()}
}

// Typing reports the typing indicator flipping.
func Typing(typing bool) ServerMessage {
	return ServerMessage{Type: "typing", Typing: &typing}
}

// TranscriptDelta carries an incremental transcript fragment.
func TranscriptDelta(text string) ServerMessage {
	return ServerMessage{Type: "transcript.delta", Text: &text}
}

// Current carries the displayed utterance; an empty string clears it.
func Current(text string) ServerMessage {
	return ServerMessage{Type: "current", Text: &text}
}

// Transcript carries a finalized message.
func Transcript(msg realtime.Message) ServerMessage {
	return ServerMessage{Type: "message", Message: &ChatMessage{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}}
}

// Quota reports the remaining daily budget.
func Quota(remaining time.Duration, label string) ServerMessage {
	return ServerMessage{Type: "quota", RemainingMs: remaining.Milliseconds(), Remaining: label}
}

// Disconnected tells the caller the session ended.
func Disconnected() ServerMessage {
	return ServerMessage{Type: "disconnected"}
}

// ErrorMessage wraps an error frame.
func ErrorMessage(code, message string) ServerMessage {
	return ServerMessage{Type: "error", Error: &ErrorBody{Code: code, Message: message}}
}
