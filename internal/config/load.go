package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// OPENVOICE_WORKER_COUNT.
const EnvPrefix = "OPENVOICE"

// setDefaults registers every key so environment variables are picked up
// by Unmarshal even without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_long_poll", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "openvoice.db")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.size", 1000)
	v.SetDefault("queue.redis_addr", "")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.redis_key", "openvoice:jobs")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.max_tasks_per_worker", 5)
	v.SetDefault("worker.max_memory_mb", 2048)
	v.SetDefault("worker.job_timeout", time.Hour)
	v.SetDefault("worker.abandon_grace", 30*time.Second)
	v.SetDefault("worker.stuck_job_age", 90*time.Minute)
	v.SetDefault("worker.stuck_check_interval", 5*time.Minute)
	v.SetDefault("worker.enhancer_command", "")
	v.SetDefault("worker.enhancer_args", []string{})
	v.SetDefault("worker.default_attenuation_limit_db", 12.0)
	v.SetDefault("worker.default_output_gain_db", 0.0)

	v.SetDefault("retention.window", 10*time.Minute)
	v.SetDefault("retention.sweep_interval", 5*time.Minute)
	v.SetDefault("retention.max_age", 2*time.Hour)
	v.SetDefault("retention.sweep_batch", 500)

	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.processed_dir", "processed")
	v.SetDefault("storage.max_upload_mb", 50)
	v.SetDefault("storage.allowed_extensions", []string{"mp3", "wav", "ogg", "m4a", "flac", "aac", "wma"})
}

// Load configuration from environment variables and optionally a config
// file (config.yaml in the working directory, or the path in
// OPENVOICE_CONFIG). Environment variables take precedence over values
// from the file. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path falls
// back to OPENVOICE_CONFIG, then ./config.yaml if present.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.AllowedExtensions = normalizeExtensions(cfg.Storage.AllowedExtensions)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags on cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// normalizeExtensions accepts a comma-separated single value from the
// environment as well as a list, and lowercases without leading dots.
func normalizeExtensions(in []string) []string {
	var out []string
	for _, item := range in {
		for _, ext := range strings.Split(item, ",") {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				out = append(out, ext)
			}
		}
	}
	return out
}
