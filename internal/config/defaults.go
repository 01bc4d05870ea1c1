package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL             = "wss://ws.derivws.com/websockets/v3"
	DefaultLanguage          = "EN"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultAuthTimeout       = 15 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultSendBurst         = 1
	DefaultMessageBuffer     = 1000
	DefaultEventBuffer       = 256
	DefaultInitialDelay      = 5 * time.Second
	DefaultBackoffStep       = 5 * time.Second
	DefaultMaxAttempts       = 5
	DefaultCurrency          = "USD"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultApplicationName   = "derivbot"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 5 * time.Second
	DefaultBufferSize        = 10000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultLogOutput         = "stdout"
	DefaultLogMaxSizeMB      = 100
	DefaultLogMaxAgeDays     = 14
	DefaultLogMaxBackups     = 5
	DefaultHealthPort        = 8080
)

func (c *BotConfig) applyDefaults() {
	// API defaults
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Language == "" {
		c.API.Language = DefaultLanguage
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.KeepaliveInterval == 0 {
		c.Connection.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Connection.AuthTimeout == 0 {
		c.Connection.AuthTimeout = DefaultAuthTimeout
	}
	if c.Connection.RequestTimeout == 0 {
		c.Connection.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connection.SendBurst == 0 {
		c.Connection.SendBurst = DefaultSendBurst
	}
	if c.Connection.MessageBuffer == 0 {
		c.Connection.MessageBuffer = DefaultMessageBuffer
	}
	if c.Connection.EventBuffer == 0 {
		c.Connection.EventBuffer = DefaultEventBuffer
	}

	// Reconnect defaults
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if c.Reconnect.BackoffStep == 0 {
		c.Reconnect.BackoffStep = DefaultBackoffStep
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}

	// Trading defaults
	if c.Trading.Currency == "" {
		c.Trading.Currency = DefaultCurrency
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.ApplicationName == "" {
		db.ApplicationName = DefaultApplicationName
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
