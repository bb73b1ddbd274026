// Package config loads runtime settings for the replication demo binary
// using viper: an optional YAML file, with environment variables (prefixed
// PGREPLICATE_) taking precedence over it, following this codebase's existing
// cobra+viper precedence convention (see internal/cli for the
// flag-resolution helpers a cobra command layers on top of this).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime settings for the replication demo binary.
type Config struct {
	Environment string `mapstructure:"environment"`
	Postgres    PostgresConfig
	Replication ReplicationConfig
	Telemetry   TelemetryConfig
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ReplicationConfig struct {
	SlotName             string        `mapstructure:"slot_name"`
	Plugin               string        `mapstructure:"plugin"`
	Publication          string        `mapstructure:"publication"`
	DropSlotOnClose      bool          `mapstructure:"drop_slot_on_close"`
	StatusUpdateInterval time.Duration `mapstructure:"status_update_interval"`
	StreamParams         string        `mapstructure:"stream_params"`
	ForceRDS             bool          `mapstructure:"force_rds"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from an optional YAML file at path (pass "" to
// skip the file) and from environment variables prefixed PGREPLICATE_; a
// set environment variable wins over the same key in the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("pgreplicate")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("environment", "dev")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("replication.slot_name", "pgreplicate")
	v.SetDefault("replication.plugin", "pgoutput")
	v.SetDefault("replication.publication", "pgreplicate_pub")
	v.SetDefault("replication.drop_slot_on_close", false)
	v.SetDefault("replication.status_update_interval", 10*time.Second)
	v.SetDefault("replication.stream_params", "")
	v.SetDefault("replication.force_rds", false)
	v.SetDefault("telemetry.service_name", "pgreplicate")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// bind every key viper would otherwise only discover via a struct tag
	// walk at Unmarshal time, so PGREPLICATE_POSTGRES_DSN etc. resolve even
	// though AutomaticEnv alone only binds keys already known to viper.
	for _, key := range []string{
		"environment",
		"postgres.dsn",
		"replication.slot_name",
		"replication.plugin",
		"replication.publication",
		"replication.drop_slot_on_close",
		"replication.status_update_interval",
		"replication.stream_params",
		"replication.force_rds",
		"telemetry.service_name",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
