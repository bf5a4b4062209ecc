package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_NegotiationMessage(t *testing.T) {
	err := NewNegotiationError(401, `{"error":"invalid_api_key"}`)

	if err.Kind != ErrNegotiation {
		t.Fatalf("kind = %q, want %q", err.Kind, ErrNegotiation)
	}
	if err.Status != 401 {
		t.Fatalf("status = %d, want 401", err.Status)
	}
	want := "negotiation_error: remote endpoint rejected offer (status 401)"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("connect: %w", NewConfigurationError("credential is required"))

	if !errors.Is(err, &Error{Kind: ErrConfiguration}) {
		t.Fatal("expected errors.Is to match configuration kind")
	}
	if errors.Is(err, &Error{Kind: ErrMediaAccess}) {
		t.Fatal("did not expect a media access match")
	}
}

func TestError_UnwrapPreservesCause(t *testing.T) {
	cause := errors.New("device busy")
	err := NewMediaAccessError("open capture device", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"direct", NewProtocolError("bad frame", nil), ErrProtocol},
		{"wrapped", fmt.Errorf("x: %w", NewTransportFailure("ice failed", nil)), ErrTransport},
		{"foreign", errors.New("plain"), ErrorKind("")},
		{"nil", nil, ErrorKind("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}
