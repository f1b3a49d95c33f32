// Package store provides PostgreSQL persistence for shard sessions.
//
// A recorder saves each shard's resume state (session ID, resume URL,
// last sequence) so a restarted process can resume instead of
// re-identifying. The Checkpointer snapshots live shards on an
// interval; SessionStore handles the SQL.
package store
