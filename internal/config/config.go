package config

import "time"

// RecorderConfig is the root configuration for a recorder instance.
type RecorderConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Discord    DiscordConfig    `yaml:"discord"`
	Database   DatabaseConfig   `yaml:"database"`
	Events     EventsConfig     `yaml:"events"`
	Journal    JournalConfig    `yaml:"journal"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this recorder.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DiscordConfig holds credentials, shard topology, and gateway endpoints.
type DiscordConfig struct {
	Token      string        `yaml:"token"`       // Bot token; ${DISCORD_TOKEN} works here
	RestURL    string        `yaml:"rest_url"`    // REST API root
	GatewayURL string        `yaml:"gateway_url"` // Base gateway URL, no query string
	Intents    int64         `yaml:"intents"`     // Event-subscription bitmask
	ShardCount int           `yaml:"shard_count"` // 0 = use the recommended count
	ShardIDs   []int         `yaml:"shard_ids"`   // Empty = run every shard
	SpawnDelay time.Duration `yaml:"spawn_delay"` // Pause between shard connects
	OS         string        `yaml:"os"`          // Identify properties overrides
	Browser    string        `yaml:"browser"`
	Device     string        `yaml:"device"`
}

// DatabaseConfig holds the PostgreSQL connection for sessions and events.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// EventsConfig holds per-shard consumer channel settings.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// JournalConfig holds batch recorder settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// CheckpointConfig holds session persistence settings.
type CheckpointConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig holds the metrics/health server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
