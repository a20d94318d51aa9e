package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TelemetryExporter selects where logs go when exported through OpenTelemetry.
type TelemetryExporter string

const (
	TelemetryExporterNone     TelemetryExporter = "none"
	TelemetryExporterStdout   TelemetryExporter = "stdout"
	TelemetryExporterOTLPGRPC TelemetryExporter = "otlp-grpc"
	TelemetryExporterOTLPHTTP TelemetryExporter = "otlp-http"
)

// TokenStorageType represents the different storage types supported for the token pair.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	TokenStorageTypeSQLite  TokenStorageType = "sqlite"
	TokenStorageTypeRedis   TokenStorageType = "redis"
	TokenStorageTypeMemory  TokenStorageType = "memory"
)

// keyringService names the keyring entry holding the pair.
const keyringService = "mediadeck-session"

// Default configuration values
const (
	DefaultConfigLogFormat             = LogFormatText
	DefaultConfigTelemetryExporter     = TelemetryExporterNone
	DefaultConfigTelemetryServiceName  = "mediadeck"
	DefaultConfigServerHost            = "127.0.0.1"
	DefaultConfigServerPort            = 4100
	DefaultConfigShutdownTimeout       = 5 * time.Second
	DefaultConfigBackendBaseURL        = "http://127.0.0.1:8000/api"
	DefaultConfigBackendRefreshPath    = session.DefaultRefreshPath
	DefaultConfigBackendObtainPath     = session.DefaultObtainPath
	DefaultConfigBackendTimeout        = 30 * time.Second
	DefaultConfigSessionRefreshTimeout = session.DefaultRefreshTimeout
	DefaultConfigSessionLoginPath      = "/auth/login"
	DefaultConfigAuthStorage           = TokenStorageTypeFile
	DefaultConfigAuthRedisAddr         = "127.0.0.1:6379"
	DefaultConfigAuthRedisPrefix       = "mediadeck:"
)

// TelemetryConfig holds log export configuration.
type TelemetryConfig struct {
	Exporter    TelemetryExporter `json:"exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
	Endpoint    string            `json:"endpoint,omitempty"` // OTLP collector endpoint, exporter default if empty
	ServiceName string            `json:"service_name"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// BackendConfig describes the media API the session belongs to.
type BackendConfig struct {
	BaseURL     string        `json:"base_url" validate:"required,url"`
	RefreshPath string        `json:"refresh_path" validate:"required,startswith=/"`
	ObtainPath  string        `json:"obtain_path" validate:"required,startswith=/"`
	Timeout     time.Duration `json:"timeout" validate:"gte=0"`
}

// SessionConfig tunes token renewal.
type SessionConfig struct {
	// RefreshTimeout bounds one refresh request, independent of caller deadlines.
	RefreshTimeout time.Duration `json:"refresh_timeout" validate:"gt=0"`
	// ExpiryLeeway treats access tokens as expired this long before their exp claim.
	ExpiryLeeway time.Duration `json:"expiry_leeway" validate:"gte=0"`
	// LoginPath is where the dashboard is sent after the session ended.
	LoginPath string `json:"login_path" validate:"required,startswith=/"`
}

// AuthConfig describes where the token pair is persisted.
type AuthConfig struct {
	Storage TokenStorageType `json:"storage" validate:"required,oneof=file keyring sqlite redis memory"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File          string `json:"file,omitempty"`           // For file storage: path to the token file
	KeyringUser   string `json:"keyring_user,omitempty"`   // For keyring storage: user identifier
	SQLitePath    string `json:"sqlite_path,omitempty"`    // For sqlite storage: database file
	RedisAddr     string `json:"redis_addr,omitempty"`     // For redis storage: host:port
	RedisPassword string `json:"redis_password,omitempty"` // For redis storage
	RedisDB       int    `json:"redis_db,omitempty"`       // For redis storage
	RedisPrefix   string `json:"redis_prefix,omitempty"`   // For redis storage: key prefix
}

// NewTokenStore creates the configured Store. The returned close function
// releases any connection the store holds and is never nil.
func (a *AuthConfig) NewTokenStore(ctx context.Context) (tokenstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch a.Storage {
	case TokenStorageTypeFile:
		store, err := tokenstore.NewFileStore(a.File)
		return store, noop, err
	case TokenStorageTypeKeyring:
		store, err := tokenstore.NewKeyringStore(keyringService, a.KeyringUser)
		return store, noop, err
	case TokenStorageTypeSQLite:
		store, err := tokenstore.NewSQLiteStore(ctx, a.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case TokenStorageTypeRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{a.RedisAddr},
			Password: a.RedisPassword,
			DB:       a.RedisDB,
		})
		store, err := tokenstore.NewRedisStore(client, a.RedisPrefix)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, client.Close, nil
	case TokenStorageTypeMemory:
		return tokenstore.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Backend   BackendConfig   `json:"backend"`
	Session   SessionConfig   `json:"session"`
	Auth      AuthConfig      `json:"auth"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultConfigTelemetryServiceName
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultConfigBackendBaseURL
	}
	if c.Backend.RefreshPath == "" {
		c.Backend.RefreshPath = DefaultConfigBackendRefreshPath
	}
	if c.Backend.ObtainPath == "" {
		c.Backend.ObtainPath = DefaultConfigBackendObtainPath
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultConfigBackendTimeout
	}
	if c.Session.RefreshTimeout == 0 {
		c.Session.RefreshTimeout = DefaultConfigSessionRefreshTimeout
	}
	if c.Session.LoginPath == "" {
		c.Session.LoginPath = DefaultConfigSessionLoginPath
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "mediadeck", "session.json")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeSQLite:
		if c.Auth.SQLitePath == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.sqlite_path required (auto-detect failed: %w)", err)
			}
			c.Auth.SQLitePath = filepath.Join(configDir, "mediadeck", "session.db")
		}
	case TokenStorageTypeRedis:
		if c.Auth.RedisAddr == "" {
			c.Auth.RedisAddr = DefaultConfigAuthRedisAddr
		}
		if c.Auth.RedisPrefix == "" {
			c.Auth.RedisPrefix = DefaultConfigAuthRedisPrefix
		}
	case TokenStorageTypeMemory:
		// nothing to configure, the session ends with the process
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case TokenStorageTypeSQLite:
		if c.Auth.SQLitePath == "" {
			return errors.New("sqlite_path required for sqlite storage")
		}
	case TokenStorageTypeRedis:
		if c.Auth.RedisAddr == "" {
			return errors.New("redis_addr required for redis storage")
		}
	}

	if c.Telemetry.Exporter != TelemetryExporterNone && c.Telemetry.ServiceName == "" {
		return errors.New("telemetry.service_name required when exporting")
	}

	return nil
}
