package client

// State is the peer's position in the join/reunion lifecycle (§4.5).
// It exists for logging and tests; nothing in the dispatch logic
// switches behavior on it directly except the reunion loop, which
// uses it to suspend hello traffic while ReunionFailed.
type State int

const (
	StateUnregistered State = iota
	StateAwaitingAdvertise
	StateConnected
	StateReunionFailed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateAwaitingAdvertise:
		return "AwaitingAdvertise"
	case StateConnected:
		return "Connected"
	case StateReunionFailed:
		return "ReunionFailed"
	default:
		return "Unknown"
	}
}
