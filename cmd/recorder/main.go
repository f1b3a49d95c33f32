// recorder connects every configured shard to the Discord gateway,
// journals dispatched events into PostgreSQL, and checkpoints resume
// state so a restart picks up where it left off.
//
// Usage: go run ./cmd/recorder --config configs/recorder.local.yaml
//
// The bot token can live in the config file directly or come from the
// environment via ${DISCORD_TOKEN} expansion. A .env file is honored
// when present.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/eahart/discord-gateway/internal/api"
	"github.com/eahart/discord-gateway/internal/config"
	"github.com/eahart/discord-gateway/internal/gateway"
	"github.com/eahart/discord-gateway/internal/journal"
	"github.com/eahart/discord-gateway/internal/metrics"
	"github.com/eahart/discord-gateway/internal/store"
	"github.com/eahart/discord-gateway/internal/version"
)

func main() {
	// A missing .env is fine; deployments set the environment directly.
	godotenv.Load()

	configPath := flag.String("config", "configs/recorder.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"gateway_url", cfg.Discord.GatewayURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	db, err := store.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("database connected")

	sessions := store.NewSessionStore(db, logger)
	if err := sessions.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure session schema", "error", err)
		os.Exit(1)
	}

	jr := journal.New(journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}, db, logger)
	if err := jr.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure journal schema", "error", err)
		os.Exit(1)
	}

	// Create API client
	apiClient := api.NewClient(
		cfg.Discord.RestURL,
		cfg.Discord.Token,
		api.WithLogger(logger),
		api.WithTimeout(30*time.Second),
		api.WithRetries(3, time.Second),
	)

	// Resolve shard topology; shard_count 0 defers to Discord.
	shardCount := cfg.Discord.ShardCount
	gatewayURL := cfg.Discord.GatewayURL
	if shardCount == 0 {
		gb, err := apiClient.GetGatewayBot(ctx)
		if err != nil {
			logger.Error("failed to get gateway bot info", "error", err)
			os.Exit(1)
		}
		shardCount = gb.Shards
		if gb.URL != "" {
			gatewayURL = gb.URL
		}
		logger.Info("using recommended shard topology",
			"shards", shardCount,
			"session_start_remaining", gb.SessionStartLimit.Remaining,
		)
	}

	shardIDs := cfg.Discord.ShardIDs
	if len(shardIDs) == 0 {
		for id := 0; id < shardCount; id++ {
			shardIDs = append(shardIDs, id)
		}
	}

	shards := buildShards(cfg, shardIDs, shardCount, gatewayURL, logger)

	// Restore persisted sessions so shards resume instead of identify.
	stored, err := sessions.LoadAll(ctx)
	if err != nil {
		logger.Warn("failed to load stored sessions", "error", err)
	}
	for _, sh := range shards {
		sess, ok := stored[sh.ID()]
		if !ok {
			continue
		}
		if sess.ShardCount != shardCount {
			logger.Warn("dropping stored session after topology change",
				"shard", sh.ID(),
				"stored_shard_count", sess.ShardCount,
				"shard_count", shardCount,
			)
			if err := sessions.Delete(ctx, sh.ID()); err != nil {
				logger.Warn("failed to delete stale session", "shard", sh.ID(), "error", err)
			}
			continue
		}
		sh.RestoreSession(sess.SessionID, sess.ResumeURL, sess.Sequence)
		logger.Info("restored session",
			"shard", sh.ID(),
			"session_id", sess.SessionID,
			"sequence", sess.Sequence,
		)
	}

	if err := jr.Start(ctx); err != nil {
		logger.Error("failed to start journal", "error", err)
		os.Exit(1)
	}

	ckpt := store.NewCheckpointer(store.Config{
		Interval: cfg.Checkpoint.Interval,
	}, store.ShardSourceFunc(func() []*gateway.Shard {
		return shards
	}), sessions, logger)
	if err := ckpt.Start(ctx); err != nil {
		logger.Error("failed to start checkpointer", "error", err)
		os.Exit(1)
	}

	// Metrics and health server
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(metrics.ShardListerFunc(func() []*gateway.Shard {
		return shards
	}), jr))
	metrics.RegisterBuildInfo(reg, version.Version, version.Commit)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	addHealthRoutes(mux, db, shards, logger)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Connect shards with a spawn stagger and drain each into the journal.
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		delay := time.Duration(i) * cfg.Discord.SpawnDelay
		g.Go(func() error {
			if delay > 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(delay):
				}
			}
			if err := sh.Connect(gctx); err != nil {
				return fmt.Errorf("connect shard %d: %w", sh.ID(), err)
			}
			drainShard(gctx, sh, jr)
			return nil
		})
	}

	logger.Info("recorder running",
		"instance_id", cfg.Instance.ID,
		"shards", len(shards),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Runs until a signal cancels ctx or a shard fails to start.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shard supervisor exited", "error", err)
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Close with a private code so the sessions stay resumable, then
	// checkpoint the final positions and flush the journal.
	for _, sh := range shards {
		sh.CloseWithCode(gateway.CloseReconnectRequested)
	}
	if err := ckpt.Stop(shutdownCtx); err != nil {
		logger.Warn("checkpointer stop", "error", err)
	}
	if err := jr.Stop(shutdownCtx); err != nil {
		logger.Warn("journal stop", "error", err)
	}
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("recorder stopped")
}

// buildShards constructs one Shard per configured ID.
func buildShards(cfg *config.RecorderConfig, shardIDs []int, shardCount int, gatewayURL string, logger *slog.Logger) []*gateway.Shard {
	properties := gateway.DefaultProperties()
	if cfg.Discord.OS != "" {
		properties.OS = cfg.Discord.OS
	}
	if cfg.Discord.Browser != "" {
		properties.Browser = cfg.Discord.Browser
	}
	if cfg.Discord.Device != "" {
		properties.Device = cfg.Discord.Device
	}

	shards := make([]*gateway.Shard, 0, len(shardIDs))
	for _, id := range shardIDs {
		shards = append(shards, gateway.New(gateway.Config{
			Token:      cfg.Discord.Token,
			ShardID:    id,
			ShardCount: shardCount,
			Intents:    cfg.Discord.Intents,
			Properties: properties,
			GatewayURL: gatewayURL,
			BufferSize: cfg.Events.BufferSize,
		}, logger))
	}
	return shards
}

// drainShard forwards a shard's dispatches to the journal until ctx is
// cancelled, then sweeps what is already buffered.
func drainShard(ctx context.Context, sh *gateway.Shard, jr *journal.Journal) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case env := <-sh.Events():
					journalDispatch(sh, env, jr)
				default:
					return
				}
			}
		case env := <-sh.Events():
			journalDispatch(sh, env, jr)
		}
	}
}

// journalDispatch records one envelope if it is a journalable dispatch:
// a named event with a sequence, on an established session.
func journalDispatch(sh *gateway.Shard, env *gateway.Envelope, jr *journal.Journal) {
	if env.Op != gateway.OpDispatch || env.T == "" || env.S <= 0 {
		return
	}
	if len(env.D) == 0 {
		return
	}
	sess := sh.Session()
	if sess.ID == "" {
		return
	}
	jr.Offer(journal.Record{
		ShardID:    sh.ID(),
		SessionID:  sess.ID,
		EventType:  env.T,
		Seq:        env.S,
		Payload:    env.D,
		ReceivedAt: time.Now(),
	})
}

// addHealthRoutes registers /health, /ready, and /debug/shards.
func addHealthRoutes(mux *http.ServeMux, db *pgxpool.Pool, shards []*gateway.Shard, logger *slog.Logger) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check shards
		connected := 0
		for _, sh := range shards {
			if sh.State() == gateway.StateConnected {
				connected++
			}
		}
		health.Components["shards"] = map[string]int{
			"connected": connected,
			"total":     len(shards),
		}
		if connected < len(shards) && health.Status == "healthy" {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, sh := range shards {
			if sh.State() != gateway.StateConnected {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "shard %d %s\n", sh.ID(), sh.State())
				return
			}
		}
		fmt.Fprintln(w, "ready")
	})

	mux.HandleFunc("/debug/shards", func(w http.ResponseWriter, r *http.Request) {
		type shardDebug struct {
			ID        int                     `json:"id"`
			State     string                  `json:"state"`
			Session   gateway.SessionInfo     `json:"session"`
			Heartbeat gateway.HeartbeatStatus `json:"heartbeat"`
			Stats     gateway.Stats           `json:"stats"`
		}

		out := make([]shardDebug, 0, len(shards))
		for _, sh := range shards {
			out = append(out, shardDebug{
				ID:        sh.ID(),
				State:     sh.State().String(),
				Session:   sh.Session(),
				Heartbeat: sh.Heartbeat(),
				Stats:     sh.Stats(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
}
