// Package chat models a protocol session for one sender. The protocol itself is
// handled by an external bridge; this package only sees connect/send/presence/status.
package chat

import (
	"context"
	"strings"
)

type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

type SessionStatus string

const (
	SessionOpen       SessionStatus = "open"
	SessionConnecting SessionStatus = "connecting"
	SessionClosed     SessionStatus = "close"
)

type EventKind string

const (
	EventStatus EventKind = "status"
	EventQR     EventKind = "qr"
)

// Event is one item of the connect stream: a session status change or a QR challenge.
type Event struct {
	Kind   EventKind
	Status SessionStatus
	QR     string
}

type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

type Connection interface {
	// Connect starts the session. The returned channel is closed when the
	// session reaches a final state or ctx is done.
	Connect(ctx context.Context) (<-chan Event, error)
	Send(ctx context.Context, to, text string) (messageID string, err error)
	UpdatePresence(ctx context.Context, state Presence, to string) error
	Status() ConnState
	Close() error
}

const jidSuffix = "@s.whatsapp.net"

// JID converts a phone number to a protocol address.
func JID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String() + jidSuffix
}

// SendError records which destination a transport failure belongs to.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string { return "send to " + e.To + ": " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }
