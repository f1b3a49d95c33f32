// Package gateway implements the per-shard protocol engine for the Discord
// gateway.
//
// The Shard:
//   - Owns one logical WebSocket connection (via internal/transport)
//   - Runs the heartbeat cycle with jittered start and ack tracking
//   - Decides identify vs resume at hello time
//   - Applies the close-code policy (fatal stop vs immediate reconnect)
//   - Tracks the session id, resume URL, and dispatch sequence
//   - Forwards every decoded envelope to the consumer channel
//
// Shards are independent: nothing in this package is shared between two
// Shard values, and no global identify rate limiting exists here. Callers
// running many shards coordinate them outside this package.
package gateway
