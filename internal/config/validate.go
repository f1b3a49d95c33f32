package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RecorderConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	if c.Discord.Intents < 0 {
		return errors.New("discord.intents must be >= 0")
	}
	if c.Discord.ShardCount < 0 {
		return errors.New("discord.shard_count must be >= 0")
	}
	for _, id := range c.Discord.ShardIDs {
		if id < 0 {
			return fmt.Errorf("discord.shard_ids entry %d must be >= 0", id)
		}
		if c.Discord.ShardCount > 0 && id >= c.Discord.ShardCount {
			return fmt.Errorf("discord.shard_ids entry %d is outside shard_count %d", id, c.Discord.ShardCount)
		}
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}

	if c.Events.BufferSize < 1 {
		return errors.New("events.buffer_size must be >= 1")
	}

	if c.Journal.BatchSize < 1 {
		return errors.New("journal.batch_size must be >= 1")
	}
	if c.Journal.BufferSize < 1 {
		return errors.New("journal.buffer_size must be >= 1")
	}

	if c.Checkpoint.Interval <= 0 {
		return errors.New("checkpoint.interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
