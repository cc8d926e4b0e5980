package mqtt

// State is the broker connection state.
//
// Transitions:
//
//	disconnected → connecting → connected
//	connecting   → disconnected   (attempt failed)
//	connected    → disconnected   (connection lost or Close)
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
