package config

import (
	"fmt"
	"net/url"
	"time"
)

// BotConfig is the root configuration for a trading bot instance.
type BotConfig struct {
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Trading    TradingConfig    `yaml:"trading"`
	Journal    JournalConfig    `yaml:"journal"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`

	// UnsetEnv lists ${VAR} references that had no value when loaded.
	UnsetEnv []string `yaml:"-"`
}

// APIConfig holds venue API settings.
type APIConfig struct {
	WSURL    string `yaml:"ws_url"`
	AppID    string `yaml:"app_id"`
	Token    string `yaml:"token"` // API token, usually ${DERIV_API_TOKEN}
	Language string `yaml:"language"`
}

// Endpoint returns the WebSocket URL with app_id and language applied.
func (a APIConfig) Endpoint() (string, error) {
	u, err := url.Parse(a.WSURL)
	if err != nil {
		return "", fmt.Errorf("parse api.ws_url: %w", err)
	}
	q := u.Query()
	if a.AppID != "" {
		q.Set("app_id", a.AppID)
	}
	if a.Language != "" {
		q.Set("l", a.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ConnectionConfig holds transport and session settings.
type ConnectionConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	SendRate          float64       `yaml:"send_rate"` // Frames per second, 0 = unlimited
	SendBurst         int           `yaml:"send_burst"`
	MessageBuffer     int           `yaml:"message_buffer"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// ReconnectConfig holds automatic reconnect settings.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	BackoffStep  time.Duration `yaml:"backoff_step"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// TradingConfig holds market data settings.
type TradingConfig struct {
	Symbols  []string `yaml:"symbols"`
	Currency string   `yaml:"currency"`
}

// JournalConfig holds the optional PostgreSQL journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Ticks         bool          `yaml:"ticks"` // Also journal every tick
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	ApplicationName string `yaml:"application_name"`
	MaxConns        int    `yaml:"max_conns"`
	MinConns        int    `yaml:"min_conns"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	Output     string `yaml:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
