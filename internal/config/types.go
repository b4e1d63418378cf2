package config

import "time"

// Config is the host-process configuration, loaded once at startup.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Runner   RunnerConfig   `mapstructure:"runner" json:"runner"`
	Playlist PlaylistConfig `mapstructure:"playlist" json:"playlist"`
	Archive  ArchiveConfig  `mapstructure:"archive" json:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging" json:"logging"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `mapstructure:"driver" json:"driver"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn" json:"dsn"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path" json:"path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// RunnerConfig carries the command allow-list and plugin declaration source.
// The allow-list is supplied here by the hosting process, never by a
// declaration.
type RunnerConfig struct {
	AllowedCommands []string      `mapstructure:"allowed_commands" json:"allowed_commands"`
	PluginPath      string        `mapstructure:"plugin_path" json:"plugin_path"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule" json:"cleanup_schedule"`
	CleanupMaxAge   time.Duration `mapstructure:"cleanup_max_age" json:"cleanup_max_age"`
	RetentionMaxAge time.Duration `mapstructure:"retention_max_age" json:"retention_max_age"`
}

type PlaylistConfig struct {
	MaxItems  int           `mapstructure:"max_items" json:"max_items"`
	ItemDelay time.Duration `mapstructure:"item_delay" json:"item_delay"`
	// ETASeed is the assumed per-item duration before the first item
	// completes.
	ETASeed time.Duration `mapstructure:"eta_seed" json:"eta_seed"`
}

type ArchiveConfig struct {
	// Type is "local", "s3" or "none".
	Type  string      `mapstructure:"type" json:"type"`
	Local LocalConfig `mapstructure:"local" json:"local"`
	S3    S3Config    `mapstructure:"s3" json:"s3"`
	Retry RetryConfig `mapstructure:"retry" json:"retry"`
}

type LocalConfig struct {
	BasePath string `mapstructure:"base_path" json:"base_path"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket" json:"bucket"`
	Region          string `mapstructure:"region" json:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key"`
}

type RetryConfig struct {
	MaxAttempts        int32   `mapstructure:"max_attempts" json:"max_attempts"`
	InitialIntervalSec float64 `mapstructure:"initial_interval_sec" json:"initial_interval_sec"`
	BackoffCoefficient float64 `mapstructure:"backoff_coefficient" json:"backoff_coefficient"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level" json:"level"`
	Output   string `mapstructure:"output" json:"output"`
	FilePath string `mapstructure:"file_path" json:"file_path"`
}
