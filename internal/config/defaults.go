package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://discord.com/api/v10"
	DefaultGatewayURL         = "wss://gateway.discord.gg"
	DefaultSpawnDelay         = 5 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultEventBufferSize    = 1024
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultJournalBufferSize  = 10000
	DefaultCheckpointInterval = 30 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *RecorderConfig) applyDefaults() {
	// Discord defaults
	if c.Discord.RestURL == "" {
		c.Discord.RestURL = DefaultRestURL
	}
	if c.Discord.GatewayURL == "" {
		c.Discord.GatewayURL = DefaultGatewayURL
	}
	if c.Discord.SpawnDelay == 0 {
		c.Discord.SpawnDelay = DefaultSpawnDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Events defaults
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = DefaultEventBufferSize
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// Checkpoint defaults
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = DefaultCheckpointInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
