// Package config handles YAML configuration loading with environment
// variable substitution.
//
// Configuration files support ${VAR} syntax, so secrets like the bot token
// can stay out of the file: `token: ${DISCORD_TOKEN}`.
package config
