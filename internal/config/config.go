package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type ConfigLoader struct {
	logger *zap.Logger
	v      *viper.Viper
}

func NewConfigLoader(logger *zap.Logger) *ConfigLoader {
	v := viper.New()
	v.SetConfigType("yaml")
	return &ConfigLoader{
		logger: logger,
		v:      v,
	}
}

func (cl *ConfigLoader) Load(filePath string) (*Config, error) {
	cl.v.SetConfigFile(filePath)
	if err := cl.v.ReadInConfig(); err != nil {
		cl.logger.Error("Failed to read config file", zap.String("file", filePath), zap.Error(err))
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := cl.v.Unmarshal(&cfg); err != nil {
		cl.logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cl.validate(&cfg); err != nil {
		cl.logger.Error("Config validation failed", zap.Error(err))
		return nil, err
	}

	cl.logger.Info("Config loaded successfully", zap.String("file", filePath))
	return &cfg, nil
}

func (cl *ConfigLoader) validate(cfg *Config) error {
	switch strings.ToLower(cfg.Database.Driver) {
	case "", "postgres":
		cfg.Database.Driver = "postgres"
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn required for postgres")
		}
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path required for sqlite")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", cfg.Database.Driver)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	if len(cfg.Runner.AllowedCommands) == 0 {
		return fmt.Errorf("runner.allowed_commands must not be empty")
	}
	if cfg.Runner.PluginPath == "" {
		return fmt.Errorf("runner.plugin_path required")
	}
	if cfg.Runner.CleanupSchedule == "" {
		cfg.Runner.CleanupSchedule = "@every 1h"
	}
	if cfg.Runner.CleanupMaxAge <= 0 {
		cfg.Runner.CleanupMaxAge = 24 * time.Hour
	}
	if cfg.Runner.RetentionMaxAge <= 0 {
		cfg.Runner.RetentionMaxAge = 90 * 24 * time.Hour
	}

	if cfg.Playlist.MaxItems <= 0 {
		cfg.Playlist.MaxItems = 25
	}
	if cfg.Playlist.ItemDelay < 0 {
		return fmt.Errorf("playlist.item_delay must be non-negative")
	}
	if cfg.Playlist.ItemDelay == 0 {
		cfg.Playlist.ItemDelay = 2 * time.Second
	}
	if cfg.Playlist.ETASeed <= 0 {
		cfg.Playlist.ETASeed = time.Minute
	}

	archive := strings.ToLower(cfg.Archive.Type)
	switch archive {
	case "":
		cfg.Archive.Type = "none"
	case "none":
	case "s3":
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket required")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("s3 region required")
		}
		if cfg.Archive.S3.AccessKeyID == "" || cfg.Archive.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3 access_key and secret_key required")
		}
	case "local":
		if cfg.Archive.Local.BasePath == "" {
			return fmt.Errorf("base_path required for local archive")
		}
	default:
		return fmt.Errorf("invalid archive backend: %s", cfg.Archive.Type)
	}

	if cfg.Archive.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be non-negative")
	}
	if cfg.Archive.Retry.MaxAttempts == 0 {
		cfg.Archive.Retry.MaxAttempts = 3
	}
	if cfg.Archive.Retry.InitialIntervalSec <= 0 {
		cfg.Archive.Retry.InitialIntervalSec = 1.0
	}
	if cfg.Archive.Retry.BackoffCoefficient <= 1 {
		cfg.Archive.Retry.BackoffCoefficient = 2.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if !isValidLogLevel(cfg.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("file_path required for file logging")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	levels := []string{"debug", "info", "warn", "error"}
	for _, l := range levels {
		if strings.ToLower(level) == l {
			return true
		}
	}
	return false
}
