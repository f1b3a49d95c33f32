// Package journal batch-inserts gateway dispatch events into PostgreSQL.
//
// Shards hand decoded dispatches to Journal.Offer, which buffers them in
// a growable ring and flushes batches with ON CONFLICT (session_id, seq)
// DO NOTHING. Replays after a resume dedupe against rows already written,
// so the table holds each dispatch exactly once per session.
package journal
