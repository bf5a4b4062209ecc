package realtime

import (
	"errors"
	"testing"

	"github.com/chidolingo/voicelink/pkg/core"
)

func TestDecodeServerEvent_KnownTypes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"response started", `{"type":"response.created"}`, "response.created"},
		{"audio delta", `{"type":"response.audio.delta","delta":"aGk="}`, "response.audio.delta"},
		{"transcript delta", `{"type":"response.audio_transcript.delta","delta":"Ho"}`, "response.audio_transcript.delta"},
		{"transcript done", `{"type":"response.audio_transcript.done","transcript":"Hola"}`, "response.audio_transcript.done"},
		{"user transcript", `{"type":"conversation.item.input_audio_transcription.completed","transcript":"Quiero café"}`, "conversation.item.input_audio_transcription.completed"},
		{"audio done", `{"type":"response.audio.done"}`, "response.audio.done"},
		{"response done", `{"type":"response.done"}`, "response.done"},
		{"speech started", `{"type":"input_audio_buffer.speech_started"}`, "input_audio_buffer.speech_started"},
		{"speech stopped", `{"type":"input_audio_buffer.speech_stopped"}`, "input_audio_buffer.speech_stopped"},
		{"session updated", `{"type":"session.updated"}`, "session.updated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeServerEvent([]byte(tt.data))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.EventType() != tt.want {
				t.Fatalf("EventType = %q, want %q", ev.EventType(), tt.want)
			}
		})
	}
}

func TestDecodeServerEvent_Payloads(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"response.audio_transcript.done","transcript":"¡Claro!"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	done, ok := ev.(TranscriptDone)
	if !ok {
		t.Fatalf("decoded %T, want TranscriptDone", ev)
	}
	if done.Transcript != "¡Claro!" {
		t.Fatalf("transcript = %q", done.Transcript)
	}

	ev, err = DecodeServerEvent([]byte(`{"type":"response.audio_transcript.delta","delta":"Ho"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d := ev.(TranscriptDelta); d.Delta != "Ho" {
		t.Fatalf("delta = %q", d.Delta)
	}
}

func TestDecodeServerEvent_UnknownTypePassesThrough(t *testing.T) {
	raw := `{"type":"rate_limits.updated","rate_limits":[]}`
	ev, err := DecodeServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("unknown type must not error, got %v", err)
	}
	unk, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("decoded %T, want UnknownEvent", ev)
	}
	if unk.Type != "rate_limits.updated" {
		t.Fatalf("type = %q", unk.Type)
	}
	if string(unk.Raw) != raw {
		t.Fatalf("raw = %q", unk.Raw)
	}
}

func TestDecodeServerEvent_Malformed(t *testing.T) {
	for _, data := range []string{"not json", `{"type":""}`, `{}`} {
		_, err := DecodeServerEvent([]byte(data))
		if err == nil {
			t.Fatalf("expected error for %q", data)
		}
		if !errors.Is(err, &core.Error{Kind: core.ErrProtocol}) {
			t.Fatalf("error for %q is %v, want protocol error", data, err)
		}
	}
}
