package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eahart/discord-gateway/internal/gateway"
)

// fakeSaver records saves and can fail on demand.
type fakeSaver struct {
	mu       sync.Mutex
	saved    []ShardSession
	failures int
}

func (f *fakeSaver) Save(ctx context.Context, sess ShardSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("save failed")
	}
	f.saved = append(f.saved, sess)
	return nil
}

func (f *fakeSaver) savedSessions() []ShardSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ShardSession, len(f.saved))
	copy(out, f.saved)
	return out
}

func newTestShard(t *testing.T, id, count int) *gateway.Shard {
	t.Helper()
	return gateway.New(gateway.Config{
		Token:      "test-token",
		ShardID:    id,
		ShardCount: count,
	}, nil)
}

func TestCheckpointer_SavesResumableShards(t *testing.T) {
	withSession := newTestShard(t, 0, 4)
	withSession.RestoreSession("sess-1", "wss://resume.example", 42)
	fresh := newTestShard(t, 1, 4)

	shards := []*gateway.Shard{withSession, fresh}
	saver := &fakeSaver{}

	c := NewCheckpointer(DefaultConfig(), ShardSourceFunc(func() []*gateway.Shard {
		return shards
	}), saver, nil)

	c.checkpointAll(context.Background())

	saved := saver.savedSessions()
	if len(saved) != 1 {
		t.Fatalf("saved %d sessions, want 1", len(saved))
	}
	got := saved[0]
	if got.ShardID != 0 {
		t.Errorf("ShardID = %d, want 0", got.ShardID)
	}
	if got.ShardCount != 4 {
		t.Errorf("ShardCount = %d, want 4", got.ShardCount)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", got.SessionID, "sess-1")
	}
	if got.ResumeURL != "wss://resume.example" {
		t.Errorf("ResumeURL = %q, want %q", got.ResumeURL, "wss://resume.example")
	}
	if got.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", got.Sequence)
	}
}

func TestCheckpointer_SkipsUnchanged(t *testing.T) {
	sh := newTestShard(t, 0, 1)
	sh.RestoreSession("sess-1", "wss://resume.example", 10)
	saver := &fakeSaver{}

	c := NewCheckpointer(DefaultConfig(), ShardSourceFunc(func() []*gateway.Shard {
		return []*gateway.Shard{sh}
	}), saver, nil)

	ctx := context.Background()
	c.checkpointAll(ctx)
	c.checkpointAll(ctx)

	if got := len(saver.savedSessions()); got != 1 {
		t.Fatalf("saved %d sessions after unchanged cycles, want 1", got)
	}

	// Sequence advance makes the shard eligible again.
	sh.RestoreSession("sess-1", "wss://resume.example", 11)
	c.checkpointAll(ctx)

	saved := saver.savedSessions()
	if len(saved) != 2 {
		t.Fatalf("saved %d sessions after advance, want 2", len(saved))
	}
	if saved[1].Sequence != 11 {
		t.Errorf("second save Sequence = %d, want 11", saved[1].Sequence)
	}
}

func TestCheckpointer_RetriesAfterSaveError(t *testing.T) {
	sh := newTestShard(t, 0, 1)
	sh.RestoreSession("sess-1", "wss://resume.example", 10)
	saver := &fakeSaver{failures: 1}

	c := NewCheckpointer(DefaultConfig(), ShardSourceFunc(func() []*gateway.Shard {
		return []*gateway.Shard{sh}
	}), saver, nil)

	ctx := context.Background()
	c.checkpointAll(ctx)

	if got := len(saver.savedSessions()); got != 0 {
		t.Fatalf("saved %d sessions after failed save, want 0", got)
	}

	// Failed saves must not mark the shard as saved.
	c.checkpointAll(ctx)

	if got := len(saver.savedSessions()); got != 1 {
		t.Fatalf("saved %d sessions after retry, want 1", got)
	}
}

func TestCheckpointer_StartStop(t *testing.T) {
	sh := newTestShard(t, 0, 1)
	sh.RestoreSession("sess-1", "wss://resume.example", 7)
	saver := &fakeSaver{}

	cfg := Config{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	}
	c := NewCheckpointer(cfg, ShardSourceFunc(func() []*gateway.Shard {
		return []*gateway.Shard{sh}
	}), saver, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(saver.savedSessions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for checkpoint")
		}
		time.Sleep(2 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestCheckpointer_FinalCheckpointOnStop(t *testing.T) {
	sh := newTestShard(t, 0, 1)
	saver := &fakeSaver{}

	cfg := Config{
		Interval: time.Hour, // Only the final checkpoint can fire.
		Timeout:  time.Second,
	}
	c := NewCheckpointer(cfg, ShardSourceFunc(func() []*gateway.Shard {
		return []*gateway.Shard{sh}
	}), saver, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Session appears after the startup checkpoint already ran.
	sh.RestoreSession("sess-late", "wss://resume.example", 99)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	saved := saver.savedSessions()
	if len(saved) != 1 {
		t.Fatalf("saved %d sessions, want 1 from final checkpoint", len(saved))
	}
	if saved[0].SessionID != "sess-late" {
		t.Errorf("SessionID = %q, want %q", saved[0].SessionID, "sess-late")
	}
}
