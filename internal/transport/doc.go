// Package transport provides the WebSocket transport underneath a gateway
// shard.
//
// The transport:
//   - Dials the gateway over gorilla/websocket
//   - Pumps inbound frames into a single tagged event stream
//   - Serializes outbound writes with a write deadline
//   - Reports exactly one terminal close event carrying the close code
//
// It carries bytes only. Protocol concerns (heartbeats, identify/resume,
// reconnection) live in the gateway package.
package transport
