package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chidolingo/voicelink/pkg/core/realtime"
)

func TestDecodeStart(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"start","credential":"ek_abc","instructions":"be brief"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("decoded %T, want Start", msg)
	}
	if start.Credential != "ek_abc" || start.Instructions != "be brief" {
		t.Fatalf("start = %+v", start)
	}
}

func TestDecodeStop(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"stop"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.(Stop); !ok {
		t.Fatalf("decoded %T, want Stop", msg)
	}
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		wantCode string
	}{
		{"not json", `{{{`, CodeInvalidJSON},
		{"no type", `{"credential":"x"}`, CodeMissingParam},
		{"unknown type", `{"type":"dance"}`, CodeUnknownType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.payload))
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("error = %v, want DecodeError", err)
			}
			if decErr.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", decErr.Code, tc.wantCode)
			}
		})
	}
}

func TestServerMessageShapes(t *testing.T) {
	typing := Typing(true)
	data, err := json.Marshal(typing)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"typing","typing":true}` {
		t.Fatalf("typing frame = %s", data)
	}

	// Clearing the displayed utterance must survive omitempty.
	cleared := Current("")
	data, err = json.Marshal(cleared)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"current","text":""}` {
		t.Fatalf("cleared frame = %s", data)
	}

	q := Quota(65*time.Second, "1:05")
	data, err = json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"quota","remaining_ms":65000,"remaining":"1:05"}` {
		t.Fatalf("quota frame = %s", data)
	}
}

func TestTranscriptFrame(t *testing.T) {
	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	frame := Transcript(realtime.Message{
		ID:        "m1",
		Role:      realtime.RoleUser,
		Content:   "Quiero café",
		Timestamp: ts,
	})
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Type    string      `json:"type"`
		Message ChatMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != "message" || decoded.Message.Role != "user" || decoded.Message.Content != "Quiero café" {
		t.Fatalf("frame = %+v", decoded)
	}
}
