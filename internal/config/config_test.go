package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-recorder
discord:
  token: bot-token-abc
  gateway_url: wss://gateway.discord.gg
  intents: 1539
  shard_count: 4
  shard_ids: [0, 2]
database:
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-recorder" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-recorder")
	}
	if cfg.Discord.Token != "bot-token-abc" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "bot-token-abc")
	}
	if cfg.Discord.GatewayURL != "wss://gateway.discord.gg" {
		t.Errorf("Discord.GatewayURL = %q, want %q", cfg.Discord.GatewayURL, "wss://gateway.discord.gg")
	}
	if cfg.Discord.Intents != 1539 {
		t.Errorf("Discord.Intents = %d, want %d", cfg.Discord.Intents, 1539)
	}
	if cfg.Discord.ShardCount != 4 {
		t.Errorf("Discord.ShardCount = %d, want %d", cfg.Discord.ShardCount, 4)
	}
	if len(cfg.Discord.ShardIDs) != 2 || cfg.Discord.ShardIDs[0] != 0 || cfg.Discord.ShardIDs[1] != 2 {
		t.Errorf("Discord.ShardIDs = %v, want [0 2]", cfg.Discord.ShardIDs)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DISCORD_TOKEN", "secret-bot-token")
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-recorder
discord:
  token: ${TEST_DISCORD_TOKEN}
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Discord.Token != "secret-bot-token" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "secret-bot-token")
	}
	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-recorder
discord:
  token: bot-token-abc
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Discord.RestURL != DefaultRestURL {
		t.Errorf("Discord.RestURL = %q, want default %q", cfg.Discord.RestURL, DefaultRestURL)
	}
	if cfg.Discord.GatewayURL != DefaultGatewayURL {
		t.Errorf("Discord.GatewayURL = %q, want default %q", cfg.Discord.GatewayURL, DefaultGatewayURL)
	}
	if cfg.Discord.SpawnDelay != DefaultSpawnDelay {
		t.Errorf("Discord.SpawnDelay = %v, want default %v", cfg.Discord.SpawnDelay, DefaultSpawnDelay)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want default %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Events.BufferSize != DefaultEventBufferSize {
		t.Errorf("Events.BufferSize = %d, want default %d", cfg.Events.BufferSize, DefaultEventBufferSize)
	}
	if cfg.Journal.BatchSize != DefaultBatchSize {
		t.Errorf("Journal.BatchSize = %d, want default %d", cfg.Journal.BatchSize, DefaultBatchSize)
	}
	if cfg.Journal.FlushInterval != DefaultFlushInterval {
		t.Errorf("Journal.FlushInterval = %v, want default %v", cfg.Journal.FlushInterval, DefaultFlushInterval)
	}
	if cfg.Checkpoint.Interval != DefaultCheckpointInterval {
		t.Errorf("Checkpoint.Interval = %v, want default %v", cfg.Checkpoint.Interval, DefaultCheckpointInterval)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
}

func TestValidate(t *testing.T) {
	valid := func() RecorderConfig {
		return RecorderConfig{
			Instance: InstanceConfig{ID: "test"},
			Discord: DiscordConfig{
				Token:      "bot-token",
				ShardCount: 4,
				ShardIDs:   []int{0, 1},
			},
			Database: DatabaseConfig{
				Postgres: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
			},
			Events:     EventsConfig{BufferSize: 1024},
			Journal:    JournalConfig{BatchSize: 500, FlushInterval: time.Second, BufferSize: 10000},
			Checkpoint: CheckpointConfig{Interval: 30 * time.Second},
			Metrics:    MetricsConfig{Port: 9090},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RecorderConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *RecorderConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *RecorderConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing token",
			mutate:  func(c *RecorderConfig) { c.Discord.Token = "" },
			wantErr: "discord.token is required",
		},
		{
			name:    "negative intents",
			mutate:  func(c *RecorderConfig) { c.Discord.Intents = -1 },
			wantErr: "discord.intents must be >= 0",
		},
		{
			name:    "negative shard id",
			mutate:  func(c *RecorderConfig) { c.Discord.ShardIDs = []int{-1} },
			wantErr: "discord.shard_ids entry -1 must be >= 0",
		},
		{
			name:    "shard id outside count",
			mutate:  func(c *RecorderConfig) { c.Discord.ShardIDs = []int{4} },
			wantErr: "discord.shard_ids entry 4 is outside shard_count 4",
		},
		{
			name:    "missing postgres host",
			mutate:  func(c *RecorderConfig) { c.Database.Postgres.Host = "" },
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "missing postgres password",
			mutate:  func(c *RecorderConfig) { c.Database.Postgres.Password = "" },
			wantErr: "database.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *RecorderConfig) {
				c.Database.Postgres.MaxConns = 5
				c.Database.Postgres.MinConns = 10
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "zero journal batch size",
			mutate:  func(c *RecorderConfig) { c.Journal.BatchSize = 0 },
			wantErr: "journal.batch_size must be >= 1",
		},
		{
			name:    "zero checkpoint interval",
			mutate:  func(c *RecorderConfig) { c.Checkpoint.Interval = 0 },
			wantErr: "checkpoint.interval must be > 0",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *RecorderConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
