// streamtest connects one shard to the Discord gateway and prints the
// decoded event stream to the console.
// Usage: go run ./cmd/streamtest --config configs/recorder.example.yaml --shard 0
//
// The bot token can come from the config file or from the environment
// via ${DISCORD_TOKEN} expansion; a .env file is honored when present.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eahart/discord-gateway/internal/api"
	"github.com/eahart/discord-gateway/internal/config"
	"github.com/eahart/discord-gateway/internal/gateway"
)

func main() {
	godotenv.Load()

	configPath := flag.String("config", "configs/recorder.example.yaml", "path to config file")
	shardID := flag.Int("shard", 0, "shard ID to connect")
	shardCount := flag.Int("shards", 0, "total shard count (0 = use config, then recommended)")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config; streamtest needs no database so skip full validation
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" {
		logger.Error("discord.token is required",
			"hint", "set DISCORD_TOKEN and reference it as ${DISCORD_TOKEN} in the config")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(cfg.Discord.RestURL, cfg.Discord.Token, api.WithLogger(logger))

	// Resolve topology: flag, then config, then Discord's recommendation
	count := *shardCount
	if count == 0 {
		count = cfg.Discord.ShardCount
	}
	gatewayURL := cfg.Discord.GatewayURL
	if count == 0 {
		gb, err := apiClient.GetGatewayBot(ctx)
		if err != nil {
			logger.Error("failed to get gateway bot info", "error", err)
			os.Exit(1)
		}
		count = gb.Shards
		if gb.URL != "" {
			gatewayURL = gb.URL
		}
		logger.Info("using recommended shard topology", "shards", count)
	}

	sh := gateway.New(gateway.Config{
		Token:      cfg.Discord.Token,
		ShardID:    *shardID,
		ShardCount: count,
		Intents:    cfg.Discord.Intents,
		GatewayURL: gatewayURL,
		BufferSize: cfg.Events.BufferSize,
	}, logger)

	logger.Info("connecting shard", "shard", *shardID, "shards", count, "url", gatewayURL)
	if err := sh.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Console printer
	go printEnvelopes(ctx, sh, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := sh.Stats()
				logger.Info("stats",
					"state", sh.State(),
					"sequence", sh.Session().Sequence,
					"ping", sh.Heartbeat().Ping,
					"received", stats.EventsReceived,
					"dropped", stats.EventsDropped,
					"reconnects", stats.Reconnects,
					"zombie_closes", stats.ZombieCloses,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	sh.Close()

	logger.Info("shutdown complete")
}

func printEnvelopes(ctx context.Context, sh *gateway.Shard, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-sh.Events():
			if verbose {
				data, _ := json.MarshalIndent(env, "", "  ")
				fmt.Printf("[ENVELOPE] %s\n", data)
				continue
			}

			switch env.Op {
			case gateway.OpDispatch:
				fmt.Printf("[DISPATCH] type=%s seq=%d bytes=%d\n", env.T, env.S, len(env.D))
			case gateway.OpHello:
				fmt.Printf("[HELLO] %s\n", env.D)
			case gateway.OpHeartbeat:
				fmt.Println("[HEARTBEAT REQUEST]")
			case gateway.OpHeartbeatACK:
				fmt.Println("[ACK]")
			case gateway.OpReconnect:
				fmt.Println("[RECONNECT]")
			case gateway.OpInvalidSession:
				fmt.Printf("[INVALID SESSION] resumable=%s\n", env.D)
			default:
				fmt.Printf("[OP %d] %s\n", env.Op, env.D)
			}
		}
	}
}
