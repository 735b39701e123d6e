package session

import "github.com/danmuck/wagate/internal/transport"

// Class is the reconnect decision for a disconnect cause.
type Class int

const (
	Retryable Class = iota
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Classify maps a close cause to its reconnect class. Only an explicit
// logout is fatal; every other cause is retried with the same credentials.
func Classify(cause transport.Cause) Class {
	if cause == transport.CauseLoggedOut {
		return Fatal
	}
	return Retryable
}
