// Package config loads runtime configuration from file, environment, and
// defaults. The policy itself lives in separate YAML sources; this covers
// everything around it: listen address, allowed roots, executor limits,
// audit paths, notification endpoints.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Policy   Policy   `mapstructure:"policy"`
	Security Security `mapstructure:"security"`
	Executor Executor `mapstructure:"executor"`
	Audit    Audit    `mapstructure:"audit"`
	Notify   Notify   `mapstructure:"notify"`
	Logging  Logging  `mapstructure:"logging"`
}

// Server configures the HTTP transport.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Policy names the operation definition sources, merged in order.
type Policy struct {
	Sources []string `mapstructure:"sources"`
	Watch   bool     `mapstructure:"watch"`
}

// Security lists the filesystem roots path-like arguments may resolve into.
type Security struct {
	AllowedRoots []string `mapstructure:"allowed_roots"`
}

// Executor bounds subprocess execution.
type Executor struct {
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	Grace          time.Duration `mapstructure:"grace"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
}

// Audit locates the append-only log and the history database.
type Audit struct {
	LogPath   string `mapstructure:"log_path"`
	HistoryDB string `mapstructure:"history_db"`
}

// Notify configures outbound notification sinks.
type Notify struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Logging controls the operational logger.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. An explicit path must exist; with an empty path
// the default locations are searched and a missing file just means defaults.
// Environment variables override file values with the OPGATE_ prefix
// (OPGATE_SERVER_ADDR, OPGATE_AUDIT_LOG_PATH, ...).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OPGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("opgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/opgate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8089")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("policy.sources", []string{"policy.yaml"})
	v.SetDefault("policy.watch", true)
	v.SetDefault("security.allowed_roots", []string{})
	v.SetDefault("executor.max_output_bytes", 1<<20)
	v.SetDefault("executor.grace", "3s")
	v.SetDefault("executor.max_concurrent", 8)
	v.SetDefault("executor.queue_timeout", "5s")
	v.SetDefault("audit.log_path", "audit/opgate.jsonl")
	v.SetDefault("audit.history_db", "audit/history.db")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c Config) validate() error {
	if len(c.Policy.Sources) == 0 {
		return fmt.Errorf("config: policy.sources is empty")
	}
	if c.Executor.MaxOutputBytes <= 0 {
		return fmt.Errorf("config: executor.max_output_bytes must be positive")
	}
	if c.Executor.MaxConcurrent <= 0 {
		return fmt.Errorf("config: executor.max_concurrent must be positive")
	}
	return nil
}
