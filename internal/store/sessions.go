package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ShardSession is a persisted resume state for one shard.
type ShardSession struct {
	ShardID    int
	ShardCount int
	SessionID  string
	ResumeURL  string
	Sequence   int64
	UpdatedAt  time.Time
}

// SessionStore reads and writes shard sessions in PostgreSQL.
type SessionStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(db *pgxpool.Pool, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the shard_sessions table if it does not exist.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS shard_sessions (
			shard_id    INTEGER PRIMARY KEY,
			shard_count INTEGER NOT NULL,
			session_id  TEXT NOT NULL,
			resume_url  TEXT NOT NULL,
			sequence    BIGINT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create shard_sessions: %w", err)
	}
	return nil
}

// Save upserts one shard's session.
func (s *SessionStore) Save(ctx context.Context, sess ShardSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO shard_sessions (shard_id, shard_count, session_id, resume_url, sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (shard_id) DO UPDATE SET
			shard_count = EXCLUDED.shard_count,
			session_id  = EXCLUDED.session_id,
			resume_url  = EXCLUDED.resume_url,
			sequence    = EXCLUDED.sequence,
			updated_at  = now()
	`, sess.ShardID, sess.ShardCount, sess.SessionID, sess.ResumeURL, sess.Sequence)
	if err != nil {
		return fmt.Errorf("save session for shard %d: %w", sess.ShardID, err)
	}
	return nil
}

// Load fetches one shard's session. The second return is false when no
// row exists.
func (s *SessionStore) Load(ctx context.Context, shardID int) (ShardSession, bool, error) {
	sess := ShardSession{ShardID: shardID}
	err := s.db.QueryRow(ctx, `
		SELECT shard_count, session_id, resume_url, sequence, updated_at
		FROM shard_sessions
		WHERE shard_id = $1
	`, shardID).Scan(&sess.ShardCount, &sess.SessionID, &sess.ResumeURL, &sess.Sequence, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ShardSession{}, false, nil
	}
	if err != nil {
		return ShardSession{}, false, fmt.Errorf("load session for shard %d: %w", shardID, err)
	}
	return sess, true, nil
}

// LoadAll fetches every stored session keyed by shard ID.
func (s *SessionStore) LoadAll(ctx context.Context) (map[int]ShardSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT shard_id, shard_count, session_id, resume_url, sequence, updated_at
		FROM shard_sessions
	`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[int]ShardSession)
	for rows.Next() {
		var sess ShardSession
		if err := rows.Scan(&sess.ShardID, &sess.ShardCount, &sess.SessionID, &sess.ResumeURL, &sess.Sequence, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions[sess.ShardID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

// Delete removes one shard's session. Deleting a missing row is not an
// error.
func (s *SessionStore) Delete(ctx context.Context, shardID int) error {
	_, err := s.db.Exec(ctx, `DELETE FROM shard_sessions WHERE shard_id = $1`, shardID)
	if err != nil {
		return fmt.Errorf("delete session for shard %d: %w", shardID, err)
	}
	return nil
}
