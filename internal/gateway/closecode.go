package gateway

// Standard WebSocket close codes the shard references directly. 1000 and
// 1001 invalidate the session on the server side, so deliberate self-closes
// that intend to resume must avoid them.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

// Gateway close codes.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSequence      = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// Self-close codes. The shard tears its own transport down with these so
// every reconnect decision funnels through the close policy. Values sit in
// the private 4xxx range to keep the session resumable server-side.
const (
	CloseZombieConnection   = 4900
	CloseReconnectRequested = 4901
)

// isFatalClose reports whether a close code is terminal for the shard:
// reconnecting cannot help because only a configuration change fixes the
// condition.
func isFatalClose(code int) bool {
	switch code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}

// closeText returns a short human label for a close code, for logs.
func closeText(code int) string {
	switch code {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseAbnormalClosure:
		return "abnormal closure"
	case CloseUnknownError:
		return "unknown error"
	case CloseUnknownOpcode:
		return "unknown opcode"
	case CloseDecodeError:
		return "decode error"
	case CloseNotAuthenticated:
		return "not authenticated"
	case CloseAuthenticationFailed:
		return "authentication failed"
	case CloseAlreadyAuthenticated:
		return "already authenticated"
	case CloseInvalidSequence:
		return "invalid resume sequence"
	case CloseRateLimited:
		return "rate limited"
	case CloseSessionTimedOut:
		return "session timed out"
	case CloseInvalidShard:
		return "invalid shard"
	case CloseShardingRequired:
		return "sharding required"
	case CloseInvalidAPIVersion:
		return "invalid api version"
	case CloseInvalidIntents:
		return "invalid intents"
	case CloseDisallowedIntents:
		return "disallowed intents"
	case CloseZombieConnection:
		return "zombie connection"
	case CloseReconnectRequested:
		return "reconnect requested"
	}
	return "unrecognized"
}
