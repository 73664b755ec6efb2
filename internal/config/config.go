package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue"     validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Retention RetentionConfig `mapstructure:"retention" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"   validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error fatal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxLongPoll caps the ?wait= parameter of the status endpoint.
	MaxLongPoll time.Duration `mapstructure:"max_long_poll" validate:"gte=0"`
}

// DatabaseConfig selects and configures the job store.
type DatabaseConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver string `mapstructure:"driver" validate:"required,oneof=memory sqlite postgres"`
	// URL is a postgres URL or a sqlite file path; unused for memory.
	URL string `mapstructure:"url" validate:"required_unless=Driver memory"`
	// MaxOpenConns applies to postgres only; sqlite always uses one connection.
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"gte=0"`
}

// QueueConfig selects and configures the work queue.
type QueueConfig struct {
	// Backend is one of memory, redis.
	Backend string `mapstructure:"backend" validate:"required,oneof=memory redis"`
	// Size bounds the in-memory queue buffer.
	Size          int    `mapstructure:"size"           validate:"gt=0"`
	RedisAddr     string `mapstructure:"redis_addr"     validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"       validate:"gte=0"`
	RedisKey      string `mapstructure:"redis_key"      validate:"required_if=Backend redis"`
}

// WorkerConfig controls the worker pool and its resource budget.
type WorkerConfig struct {
	Count int `mapstructure:"count" validate:"gt=0,lte=64"`
	// MaxTasksPerWorker recycles a slot after this many jobs; 0 disables.
	MaxTasksPerWorker int `mapstructure:"max_tasks_per_worker" validate:"gte=0"`
	// MaxMemoryMB recycles a slot when resident memory exceeds it; 0 disables.
	MaxMemoryMB int `mapstructure:"max_memory_mb" validate:"gte=0"`
	// JobTimeout force-fails a job with kind Timeout; 0 disables.
	JobTimeout time.Duration `mapstructure:"job_timeout" validate:"gte=0"`
	// AbandonGrace is how long a slot waits for a timed out enhancer to return.
	AbandonGrace time.Duration `mapstructure:"abandon_grace" validate:"gte=0"`
	// StuckJobAge force-fails jobs processing longer than this; 0 disables.
	StuckJobAge        time.Duration `mapstructure:"stuck_job_age"        validate:"gte=0"`
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"gt=0"`
	// EnhancerCommand is the external enhancer binary; empty selects passthrough.
	EnhancerCommand string   `mapstructure:"enhancer_command"`
	EnhancerArgs    []string `mapstructure:"enhancer_args"`
	// DefaultAttenuationLimitDB and DefaultOutputGainDB apply when no strength is sent.
	DefaultAttenuationLimitDB float64 `mapstructure:"default_attenuation_limit_db"`
	DefaultOutputGainDB       float64 `mapstructure:"default_output_gain_db"`
}

// RetentionConfig controls artifact lifetime.
type RetentionConfig struct {
	// Window is how long terminal jobs and their artifacts are kept.
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	// MaxAge is the absolute bound for jobs that never reach a terminal state.
	MaxAge time.Duration `mapstructure:"max_age" validate:"gtfield=Window"`
	// SweepBatch limits deletions per sweep.
	SweepBatch int `mapstructure:"sweep_batch" validate:"gt=0"`
}

// StorageConfig configures the local artifact store and upload limits.
type StorageConfig struct {
	UploadDir         string   `mapstructure:"upload_dir"         validate:"required"`
	ProcessedDir      string   `mapstructure:"processed_dir"      validate:"required"`
	MaxUploadMB       int      `mapstructure:"max_upload_mb"      validate:"gt=0"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" validate:"min=1"`
}

// MaxUploadBytes returns the upload limit in bytes.
func (c StorageConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// MaxMemoryBytes returns the recycle threshold in bytes, 0 when disabled.
func (c WorkerConfig) MaxMemoryBytes() uint64 {
	return uint64(c.MaxMemoryMB) * 1024 * 1024
}
