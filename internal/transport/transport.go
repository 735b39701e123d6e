// Package transport defines the boundary between the session layer and the
// messaging network.
//
// Ownership boundary:
// - the wire protocol lives behind Transport and Conn
// - the session layer drives Open/Close/Logout and consumes Events
//
// A Transport never reconnects on its own; the session layer decides.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport: connection closed")

// Credentials is the opaque pairing/auth material the transport asks the
// gateway to persist.
type Credentials []byte

// Transport opens connections to the messaging network.
type Transport interface {
	// Open starts a connection attempt. Lifecycle, credential, and inbound
	// events for this attempt are delivered to events, possibly before Open
	// returns. A nil or empty creds starts a pairing flow.
	Open(ctx context.Context, creds Credentials, events Handler) (Conn, error)
}

// Conn is a live connection handle.
type Conn interface {
	Send(ctx context.Context, address, text string) error
	// Close drops the connection without revoking the session.
	Close() error
	// Logout revokes the linked session on the network side.
	Logout(ctx context.Context) error
}

// Handler receives events for one connection attempt.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

type EventKind int

const (
	EventConnecting EventKind = iota
	EventPairing
	EventOpen
	EventClose
	EventCredentials
	EventInbound
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventPairing:
		return "pairing"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventCredentials:
		return "creds-updated"
	case EventInbound:
		return "inbound-batch"
	default:
		return "unknown"
	}
}

// Event is one notification from the transport. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind        EventKind
	Challenge   string
	Cause       Cause
	Err         error
	Credentials Credentials
	Messages    []RawMessage
}

// Cause explains why a connection closed.
type Cause string

const (
	CauseUnknown            Cause = "unknown"
	CauseConnectionLost     Cause = "connection_lost"
	CauseConnectionClosed   Cause = "connection_closed"
	CauseTimedOut           Cause = "timed_out"
	CauseRestartRequired    Cause = "restart_required"
	CauseConnectionReplaced Cause = "connection_replaced"
	CauseStreamError        Cause = "stream_error"
	CauseTemporaryBan       Cause = "temporary_ban"
	CauseLoggedOut          Cause = "logged_out"
)

// RawMessage is an inbound message as the network delivered it.
type RawMessage struct {
	ID           string
	Chat         string
	Sender       string
	FromSelf     bool
	Conversation string
	ExtendedText string
}
