package realtime

// State is the lifecycle of the realtime connection and its interview session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	HandshakePending
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case HandshakePending:
		return "handshake_pending"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// connected reports whether the socket is open, regardless of session state.
func (s State) connected() bool {
	return s >= Connected
}
