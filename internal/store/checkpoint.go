package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eahart/discord-gateway/internal/gateway"
)

// ShardSource provides the shards to checkpoint.
type ShardSource interface {
	Shards() []*gateway.Shard
}

// ShardSourceFunc is a function adapter for ShardSource.
type ShardSourceFunc func() []*gateway.Shard

func (f ShardSourceFunc) Shards() []*gateway.Shard {
	return f()
}

// SessionSaver persists a shard session.
type SessionSaver interface {
	Save(ctx context.Context, sess ShardSession) error
}

// Config holds checkpointer configuration.
type Config struct {
	Interval time.Duration // Checkpoint interval (default: 30s)
	Timeout  time.Duration // Per-save timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Checkpointer periodically persists every shard's resume state.
type Checkpointer struct {
	cfg    Config
	shards ShardSource
	saver  SessionSaver
	logger *slog.Logger

	// Last persisted state per shard, to skip unchanged saves.
	mu        sync.Mutex
	lastSaved map[int]gateway.SessionInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCheckpointer creates a new Checkpointer.
func NewCheckpointer(cfg Config, shards ShardSource, saver SessionSaver, logger *slog.Logger) *Checkpointer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpointer{
		cfg:       cfg,
		shards:    shards,
		saver:     saver,
		logger:    logger,
		lastSaved: make(map[int]gateway.SessionInfo),
	}
}

// Start begins the checkpoint loop.
func (c *Checkpointer) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("session checkpointer started", "interval", c.cfg.Interval)
	return nil
}

// Stop shuts down the loop and takes a final checkpoint.
func (c *Checkpointer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Final checkpoint so a clean shutdown never loses resume state.
	// Uses the caller's context since c.ctx is already cancelled.
	c.checkpointAll(ctx)

	c.logger.Info("session checkpointer stopped")
	return nil
}

// run is the main checkpoint loop.
func (c *Checkpointer) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Checkpoint immediately on start.
	c.checkpointAll(c.ctx)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.checkpointAll(c.ctx)
		}
	}
}

// checkpointAll saves every shard that has a resumable session and has
// advanced since the last save.
func (c *Checkpointer) checkpointAll(ctx context.Context) {
	var saved, errors int

	for _, sh := range c.shards.Shards() {
		info := sh.Session()
		if info.ID == "" || info.Sequence <= 0 {
			continue
		}

		c.mu.Lock()
		unchanged := c.lastSaved[sh.ID()] == info
		c.mu.Unlock()
		if unchanged {
			continue
		}

		if err := c.saveShard(ctx, sh, info); err != nil {
			c.logger.Warn("failed to checkpoint shard",
				"shard", sh.ID(),
				"error", err,
			)
			errors++
			continue
		}

		c.mu.Lock()
		c.lastSaved[sh.ID()] = info
		c.mu.Unlock()
		saved++
	}

	if saved > 0 || errors > 0 {
		c.logger.Debug("checkpoint cycle complete", "saved", saved, "errors", errors)
	}
}

// saveShard persists one shard's session with a bounded timeout.
func (c *Checkpointer) saveShard(ctx context.Context, sh *gateway.Shard, info gateway.SessionInfo) error {
	saveCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	return c.saver.Save(saveCtx, ShardSession{
		ShardID:    sh.ID(),
		ShardCount: sh.ShardCount(),
		SessionID:  info.ID,
		ResumeURL:  info.ResumeURL,
		Sequence:   info.Sequence,
	})
}
