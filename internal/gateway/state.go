package gateway

// ConnectionState is the lifecycle state of a shard.
type ConnectionState int

const (
	// StateNotConnected means no transport exists and no resume is
	// pending. The initial state, re-entered on fatal close or shutdown.
	StateNotConnected ConnectionState = iota

	// StateConnecting means a dial is in flight or a fresh session
	// handshake has not completed yet.
	StateConnecting

	// StateConnected means a session is established: READY or RESUMED
	// has been observed on the current transport.
	StateConnected

	// StateResuming means the next connection attempt should resume the
	// prior session rather than identify.
	StateResuming
)

// String returns the state name for logs and metrics.
func (s ConnectionState) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateResuming:
		return "resuming"
	default:
		return "unknown"
	}
}
