package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one gateway dispatch bound for the gateway_events table.
type Record struct {
	ShardID    int
	SessionID  string
	EventType  string
	Seq        int64
	Payload    []byte // Raw dispatch payload, stored as JSONB
	ReceivedAt time.Time
}

// Config holds journal configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 500)
	FlushInterval time.Duration // Max time between flushes (default: 1s)
	BufferSize    int           // Max buffered records (default: 10000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats holds journal metrics.
type Stats struct {
	Inserts   int64 // Rows written
	Conflicts int64 // Rows skipped as already present
	Flushes   int64
	Errors    int64 // Failed batch inserts
	Dropped   int64 // Records rejected by a full buffer
}

// Journal consumes dispatch records and batch-inserts them into
// PostgreSQL, deduplicating on (session_id, seq).
type Journal struct {
	cfg    Config
	logger *slog.Logger

	// Stamped into recorded_by so rows trace back to a process run.
	runID string

	// Input from shard drain loops
	input *Buffer[Record]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []Record
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Stats
}

// New creates a Journal writing through the given pool.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Journal {
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Start the ring small; it grows toward BufferSize under load.
	initial := cfg.BufferSize / 8
	if initial < 64 {
		initial = 64
	}

	return &Journal{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.New().String(),
		input:  NewBuffer[Record](initial, cfg.BufferSize),
		db:     db,
		batch:  make([]Record, 0, cfg.BatchSize),
	}
}

// RunID identifies this process run in the recorded_by column.
func (j *Journal) RunID() string {
	return j.runID
}

// EnsureSchema creates the gateway_events table and its index.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_events (
			session_id  TEXT        NOT NULL,
			seq         BIGINT      NOT NULL,
			shard_id    INTEGER     NOT NULL,
			event_type  TEXT        NOT NULL,
			payload     JSONB       NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			recorded_by TEXT        NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("create gateway_events: %w", err)
	}

	_, err = j.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS gateway_events_shard_idx
		ON gateway_events (shard_id, received_at)
	`)
	if err != nil {
		return fmt.Errorf("create gateway_events index: %w", err)
	}
	return nil
}

// Offer enqueues a record. It returns false when the buffer is full and
// the record was dropped.
func (j *Journal) Offer(rec Record) bool {
	if j.input.Send(rec) {
		return true
	}
	j.batchMu.Lock()
	j.metrics.Dropped++
	j.batchMu.Unlock()
	return false
}

// Start begins consuming records and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	// Consumer goroutine
	j.wg.Add(1)
	go j.consumeLoop()

	// Flush ticker goroutine
	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("event journal started",
		"run_id", j.runID,
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the loops, drains the buffer, and flushes what
// remains. The context bounds the final database writes.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping event journal")

	if j.cancel != nil {
		j.cancel()
	}

	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("event journal stop timed out")
	}

	// Drain whatever the consumer loop left behind, then flush.
	j.input.Close()
	for {
		rest := j.input.DrainTo(j.cfg.BatchSize)
		if len(rest) == 0 {
			break
		}
		j.batchMu.Lock()
		j.batch = append(j.batch, rest...)
		j.batchMu.Unlock()
		j.flush(ctx)
	}
	j.flush(ctx)

	j.logger.Info("event journal stopped")
	return nil
}

// Stats returns current metrics.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

// BufferStats returns the input ring's statistics.
func (j *Journal) BufferStats() BufferStats {
	return j.input.Stats()
}

// consumeLoop reads from the input buffer and accumulates batches.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		default:
			rec, ok := j.input.TryReceive()
			if !ok {
				// Buffer empty, wait a bit before trying again
				select {
				case <-j.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			j.handleRecord(rec)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

// handleRecord adds a record to the batch, flushing at BatchSize.
func (j *Journal) handleRecord(rec Record) {
	j.batchMu.Lock()
	j.batch = append(j.batch, rec)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(j.ctx)
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]Record, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []Record) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO gateway_events (session_id, seq, shard_id, event_type, payload, received_at, recorded_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, seq) DO NOTHING
		`, r.SessionID, r.Seq, r.ShardID, r.EventType, r.Payload, r.ReceivedAt, j.runID)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
