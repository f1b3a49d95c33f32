// Package metrics exports Prometheus metrics for a recorder.
//
// Key metrics:
//   - gateway_shard_connection_state: per-shard lifecycle state
//   - gateway_shard_heartbeat_*: ack state and measured ping
//   - gateway_shard_*_total: event, reconnect, and close counters
//   - gateway_journal_*: insert/conflict/drop counters and buffer fill
//   - gateway_build_info: version and commit labels
//
// The Collector reads Stats snapshots on scrape; the gateway and
// journal packages carry no metrics dependency.
package metrics
