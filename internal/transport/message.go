// ABOUTME: Message, receipt, and connectivity types for the chat transport boundary.
// ABOUTME: The reliability layer only depends on these; the concrete transport lives outside.

package transport

import (
	"context"
	"time"
)

// Message is the outbound content handed to the transport. Exactly one of
// Text or Caption normally carries the message body: plain messages use
// Text, media messages use Caption.
type Message struct {
	Text    string
	Caption string
}

// Body returns the textual content of the message, preferring Text.
func (m Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// Receipt is the transport's acknowledgement of a delivered message.
type Receipt struct {
	ID        string
	Recipient string
	Timestamp time.Time
}

// ConnState is the transport's connectivity state. Only StateOpen is
// sendable; every other value blocks outbound delivery.
type ConnState string

const (
	StateOpen       ConnState = "open"
	StateConnecting ConnState = "connecting"
	StateClosed     ConnState = "close"
)

// Sendable reports whether the state permits outbound sends.
func (s ConnState) Sendable() bool {
	return s == StateOpen
}

// Transport is the external session-based messaging system. Send may fail
// with errors that Classify recognizes as recoverable (session desync,
// timeout); anything else is passed through to the caller.
type Transport interface {
	Send(ctx context.Context, recipientID string, msg Message) (*Receipt, error)
	State() ConnState
}
