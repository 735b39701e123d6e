package session

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingPairing
	StateReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
