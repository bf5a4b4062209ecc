package realtime

import (
	"encoding/json"
	"strings"

	"github.com/chidolingo/voicelink/pkg/core"
)

// ServerEvent is the interface for all inbound control-channel events.
type ServerEvent interface {
	// EventType returns the wire type string of the event.
	EventType() string
}

// ResponseStarted signals the remote agent began composing a reply.
type ResponseStarted struct{}

func (ResponseStarted) EventType() string { return "response.created" }

// AudioDelta carries a chunk of the agent's synthesized audio.
type AudioDelta struct {
	// Delta is base64 audio payload. The transport does not decode it; the
	// media path over the peer connection carries the playable audio.
	Delta string `json:"delta"`
}

func (AudioDelta) EventType() string { return "response.audio.delta" }

// TranscriptDelta carries an incremental piece of the agent's spoken text.
type TranscriptDelta struct {
	Delta string `json:"delta"`
}

func (TranscriptDelta) EventType() string { return "response.audio_transcript.delta" }

// TranscriptDone carries the agent's completed utterance text.
type TranscriptDone struct {
	Transcript string `json:"transcript"`
}

func (TranscriptDone) EventType() string { return "response.audio_transcript.done" }

// UserTranscriptDone carries the finalized transcription of the user's
// utterance.
type UserTranscriptDone struct {
	Transcript string `json:"transcript"`
}

func (UserTranscriptDone) EventType() string {
	return "conversation.item.input_audio_transcription.completed"
}

// AudioDone signals the agent's audio for the current response is fully sent.
// Playback may still be draining on the client side.
type AudioDone struct{}

func (AudioDone) EventType() string { return "response.audio.done" }

// ResponseDone signals the agent's response is complete.
type ResponseDone struct{}

func (ResponseDone) EventType() string { return "response.done" }

// SpeechStarted signals the remote turn detector heard the user begin
// speaking.
type SpeechStarted struct{}

func (SpeechStarted) EventType() string { return "input_audio_buffer.speech_started" }

// SpeechStopped signals the remote turn detector heard the user stop
// speaking.
type SpeechStopped struct{}

func (SpeechStopped) EventType() string { return "input_audio_buffer.speech_stopped" }

// SessionUpdated acknowledges the session configuration message. Recognized
// and ignored.
type SessionUpdated struct{}

func (SessionUpdated) EventType() string { return "session.updated" }

// UnknownEvent holds an event of a type this client does not recognize.
// Consumers log and drop these, so protocol additions degrade safely.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) EventType() string { return e.Type }

// DecodeServerEvent decodes one control-channel message envelope. A message
// that is not a JSON object with a non-empty "type" is a protocol error; an
// unrecognized type decodes to UnknownEvent, never an error.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, core.NewProtocolError("invalid event frame", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, core.NewProtocolError("event frame missing type", nil)
	}

	switch typ {
	case "response.created":
		return ResponseStarted{}, nil
	case "response.audio.delta":
		var ev AudioDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, core.NewProtocolError("invalid response.audio.delta", err)
		}
		return ev, nil
	case "response.audio_transcript.delta":
		var ev TranscriptDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, core.NewProtocolError("invalid response.audio_transcript.delta", err)
		}
		return ev, nil
	case "response.audio_transcript.done":
		var ev TranscriptDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, core.NewProtocolError("invalid response.audio_transcript.done", err)
		}
		return ev, nil
	case "conversation.item.input_audio_transcription.completed":
		var ev UserTranscriptDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, core.NewProtocolError("invalid input transcription event", err)
		}
		return ev, nil
	case "response.audio.done":
		return AudioDone{}, nil
	case "response.done":
		return ResponseDone{}, nil
	case "input_audio_buffer.speech_started":
		return SpeechStarted{}, nil
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{}, nil
	case "session.updated":
		return SessionUpdated{}, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
