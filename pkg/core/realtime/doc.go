// Package realtime connects to a realtime voice agent over WebRTC and
// interprets its event stream.
//
// Transport owns the peer connection: audio in both directions plus an
// ordered data channel carrying JSON events. Conversation turns the decoded
// events into conversational state a caller can render: who holds the
// floor, partial and finalized transcripts, and a log of completed
// utterances.
//
// The two halves are independent. A Transport can feed any number of
// handlers, and a Conversation can be driven from any event source, which
// is how the tests exercise it without a network.
package realtime
