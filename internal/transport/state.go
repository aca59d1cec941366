package transport

// State is the delivery channel state, surfaced to the UI as the connection
// indicator.
type State string

const (
	// StateDisconnected means no delivery channel is active and none is
	// being attempted. Initial state, and the state after teardown.
	StateDisconnected State = "disconnected"

	// StateConnecting means a realtime handshake is in progress or being
	// retried with backoff.
	StateConnecting State = "connecting"

	// StateRealtime means the websocket is open and events arrive push-style.
	StateRealtime State = "realtime"

	// StatePolling means realtime was unavailable and events arrive by
	// periodic pull for the remainder of the session.
	StatePolling State = "polling"

	// StateFailed means the credential was rejected. No further automatic
	// network activity happens until a new session is started with a fresh
	// token.
	StateFailed State = "failed"
)

func (s State) String() string { return string(s) }

// Active reports whether the state has a live delivery channel.
func (s State) Active() bool {
	return s == StateRealtime || s == StatePolling
}
