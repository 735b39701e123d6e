package session

import "errors"

var (
	ErrConnect             = errors.New("session: connect failed")
	ErrFatalDisconnect     = errors.New("session: logged out")
	ErrRetryableDisconnect = errors.New("session: connection closed")
	ErrNotReady            = errors.New("session: not ready")
	ErrStopped             = errors.New("session: manager stopped")
	ErrNotStarted          = errors.New("session: manager not started")
)
