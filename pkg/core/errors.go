package core

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes session errors.
type ErrorKind string

const (
	// ErrConfiguration covers missing or invalid session inputs, such as an
	// empty credential. Connect attempts failing this way are not retried.
	ErrConfiguration ErrorKind = "configuration_error"
	// ErrMediaAccess covers a denied or unavailable local capture device.
	ErrMediaAccess ErrorKind = "media_access_error"
	// ErrNegotiation covers the remote endpoint rejecting the connection
	// offer. Carries the HTTP status and response body.
	ErrNegotiation ErrorKind = "negotiation_error"
	// ErrTransport covers post-connect loss of the underlying connection.
	// Reported through the disconnect callback rather than returned.
	ErrTransport ErrorKind = "transport_failure"
	// ErrProtocol covers a malformed inbound control-channel message. The
	// message is dropped; the session stays up.
	ErrProtocol ErrorKind = "protocol_error"
)

// Error is the error type for session failures.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Status and Body are set for negotiation errors.
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`

	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == ErrNegotiation && e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error { return e.wrapped }

// Is reports kind equality, so errors.Is matches any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Kind: ErrConfiguration, Message: message}
}

// NewMediaAccessError creates a media access error wrapping the device
// failure.
func NewMediaAccessError(message string, cause error) *Error {
	return &Error{Kind: ErrMediaAccess, Message: message, wrapped: cause}
}

// NewNegotiationError creates a negotiation error carrying the remote
// endpoint's HTTP status and response body.
func NewNegotiationError(status int, body string) *Error {
	return &Error{
		Kind:    ErrNegotiation,
		Message: "remote endpoint rejected offer",
		Status:  status,
		Body:    body,
	}
}

// NewTransportFailure creates a transport failure.
func NewTransportFailure(message string, cause error) *Error {
	return &Error{Kind: ErrTransport, Message: message, wrapped: cause}
}

// NewProtocolError creates a protocol error wrapping the decode failure.
func NewProtocolError(message string, cause error) *Error {
	return &Error{Kind: ErrProtocol, Message: message, wrapped: cause}
}

// KindOf returns the kind of err when a *Error is in its chain, or ""
// otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
