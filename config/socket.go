// Package config loads the relay's configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/orchestra-mcp/chatrelay/src/bridge"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// SocketConfig holds WebSocket server configuration.
type SocketConfig struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"dev"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	JWTSecret        string        `env:"JWT_SECRET"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`

	PingInterval    time.Duration `env:"PING_INTERVAL"     envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"     envDefault:"10s"`
	ReadBufferSize  int           `env:"READ_BUFFER"       envDefault:"1024"`
	WriteBufferSize int           `env:"WRITE_BUFFER"      envDefault:"1024"`
	SendBuffer      int           `env:"SEND_BUFFER"       envDefault:"256"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES" envDefault:"65536"`
	MaxTextLength   int           `env:"MAX_TEXT_LENGTH"   envDefault:"4000"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"chatrelay.db"`
	PGURL       string `env:"PG_URL"`
	PGMaxConns  int32  `env:"PG_MAX_CONN"  envDefault:"10"`

	Redis bridge.RedisConfig
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		AppEnv:           "dev",
		HTTPAddr:         ":8080",
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendBuffer:       256,
		MaxMessageBytes:  64 << 10,
		MaxTextLength:    4000,
		StoreDriver:      StoreMemory,
		SQLitePath:       "chatrelay.db",
		PGMaxConns:       10,
		Redis:            *bridge.DefaultRedisConfig(),
	}
}

// FromEnv parses the environment on top of DefaultConfig and validates the
// result.
func FromEnv() (*SocketConfig, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *SocketConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.PGURL == "" {
			return errors.New("PG_URL is required for the postgres store")
		}
	default:
		return errors.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.New("PING_INTERVAL must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is prod.
func (c *SocketConfig) IsProduction() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

// PongWait is how long a connection may stay silent before it is dropped.
func (c *SocketConfig) PongWait() time.Duration {
	return c.PingInterval * 10 / 9
}
