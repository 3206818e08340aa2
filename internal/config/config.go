// Package config loads the service configuration from defaults, an optional
// TOML file, and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultDatabasePath   = "flood_app.db"
	defaultPoolSize       = 4
	defaultAcquireTimeout = 5 * time.Second
	defaultBusyTimeout    = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultLockDuration   = 5 * time.Minute
	defaultSessionTTL     = 30 * time.Minute
	defaultLogLevel       = "info"
	defaultLogMaxSizeMB   = 10
	defaultLogMaxFiles    = 5

	// EncryptionKeyEnv names the variable holding the base64url at-rest
	// encryption key. Its absence disables encryption; it is never read
	// from a config file so the key cannot end up on disk next to the
	// database it protects.
	EncryptionKeyEnv = "DB_ENCRYPTION_KEY"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Session  SessionConfig  `toml:"session"`
	Logging  LoggingConfig  `toml:"logging"`

	// EncryptionKey comes only from the environment.
	EncryptionKey string `toml:"-"`
}

type DatabaseConfig struct {
	Path           string        `toml:"path"`
	PoolSize       int           `toml:"pool_size"`
	AcquireTimeout time.Duration `toml:"acquire_timeout"`
	BusyTimeout    time.Duration `toml:"busy_timeout"`
}

type AuthConfig struct {
	MaxFailedAttempts int           `toml:"max_failed_attempts"`
	LockDuration      time.Duration `toml:"lock_duration"`
}

type SessionConfig struct {
	TTL time.Duration `toml:"ttl"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path:           defaultDatabasePath,
			PoolSize:       defaultPoolSize,
			AcquireTimeout: defaultAcquireTimeout,
			BusyTimeout:    defaultBusyTimeout,
		},
		Auth: AuthConfig{
			MaxFailedAttempts: defaultMaxAttempts,
			LockDuration:      defaultLockDuration,
		},
		Session: SessionConfig{
			TTL: defaultSessionTTL,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	if err := loadFile(opts.ConfigPath, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Database *rawDatabase `toml:"database"`
	Auth     *rawAuth     `toml:"auth"`
	Session  *rawSession  `toml:"session"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawDatabase struct {
	Path           *string `toml:"path"`
	PoolSize       *int    `toml:"pool_size"`
	AcquireTimeout *string `toml:"acquire_timeout"`
	BusyTimeout    *string `toml:"busy_timeout"`
}

type rawAuth struct {
	MaxFailedAttempts *int    `toml:"max_failed_attempts"`
	LockDuration      *string `toml:"lock_duration"`
}

type rawSession struct {
	TTL *string `toml:"ttl"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	if raw.Database != nil {
		setString(raw.Database.Path, &cfg.Database.Path)
		setInt(raw.Database.PoolSize, &cfg.Database.PoolSize)
		if err := setDuration("database.acquire_timeout", raw.Database.AcquireTimeout, &cfg.Database.AcquireTimeout); err != nil {
			return err
		}
		if err := setDuration("database.busy_timeout", raw.Database.BusyTimeout, &cfg.Database.BusyTimeout); err != nil {
			return err
		}
	}
	if raw.Auth != nil {
		setInt(raw.Auth.MaxFailedAttempts, &cfg.Auth.MaxFailedAttempts)
		if err := setDuration("auth.lock_duration", raw.Auth.LockDuration, &cfg.Auth.LockDuration); err != nil {
			return err
		}
	}
	if raw.Session != nil {
		if err := setDuration("session.ttl", raw.Session.TTL, &cfg.Session.TTL); err != nil {
			return err
		}
	}
	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "FLOOD_DB_PATH"); ok {
		cfg.Database.Path = value
	}
	if value, ok := lookupEnv(opts, "FLOOD_DB_POOL_SIZE"); ok {
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse FLOOD_DB_POOL_SIZE: %v", ErrInvalidConfig, err)
		}
		cfg.Database.PoolSize = size
	}
	if value, ok := lookupEnv(opts, "FLOOD_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "FLOOD_LOG_FILE"); ok {
		cfg.Logging.File = value
	}

	// Absence of the key silently disables at-rest encryption; it must
	// never fail startup.
	if value, ok := lookupEnv(opts, EncryptionKeyEnv); ok && value != "" {
		cfg.EncryptionKey = value
	}
	return nil
}

func validate(cfg Config) error {
	switch {
	case cfg.Database.Path == "":
		return fmt.Errorf("%w: database.path must not be empty", ErrInvalidConfig)
	case cfg.Database.PoolSize <= 0:
		return fmt.Errorf("%w: database.pool_size must be > 0", ErrInvalidConfig)
	case cfg.Database.AcquireTimeout <= 0:
		return fmt.Errorf("%w: database.acquire_timeout must be > 0", ErrInvalidConfig)
	case cfg.Database.BusyTimeout <= 0:
		return fmt.Errorf("%w: database.busy_timeout must be > 0", ErrInvalidConfig)
	case cfg.Auth.MaxFailedAttempts <= 0:
		return fmt.Errorf("%w: auth.max_failed_attempts must be > 0", ErrInvalidConfig)
	case cfg.Auth.LockDuration <= 0:
		return fmt.Errorf("%w: auth.lock_duration must be > 0", ErrInvalidConfig)
	case cfg.Session.TTL <= 0:
		return fmt.Errorf("%w: session.ttl must be > 0", ErrInvalidConfig)
	case cfg.Logging.Level != "debug" && cfg.Logging.Level != "info" && cfg.Logging.Level != "warn" && cfg.Logging.Level != "error":
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error", ErrInvalidConfig)
	default:
		return nil
	}
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		value, ok := opts.Env[key]
		return value, ok
	}
	return os.LookupEnv(key)
}

func setString(value *string, target *string) {
	if value != nil {
		*target = *value
	}
}

func setInt(value *int, target *int) {
	if value != nil {
		*target = *value
	}
}

func setDuration(name string, value *string, target *time.Duration) error {
	if value == nil {
		return nil
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, name, err)
	}
	*target = d
	return nil
}
