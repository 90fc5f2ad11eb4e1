package config

import "time"

// ServiceConfig is the root configuration for a feed service instance.
type ServiceConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DatabaseConfig `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Cache    CacheConfig    `yaml:"cache"`
	Candles  CandleConfig   `yaml:"candles"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this service instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// FeedConfig holds upstream feed connection settings.
type FeedConfig struct {
	URL                  string        `yaml:"url"`
	APIKey               string        `yaml:"api_key"`
	AccessToken          string        `yaml:"access_token"`
	SubscribeChunk       int           `yaml:"subscribe_chunk"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	QueueCapacity        int           `yaml:"queue_capacity"`
}

// DatabaseConfig holds the PostgreSQL connection for durable storage.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize int           `yaml:"batch_size"`
	MaxAge    time.Duration `yaml:"max_age"`
	RetryCap  int           `yaml:"retry_cap"`
}

// CacheConfig holds hot cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// CandleConfig holds OHLCV aggregator settings.
type CandleConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	Concurrency   int           `yaml:"concurrency"`
}

// ServerConfig holds the client-facing WebSocket server settings.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	BufferSize  int           `yaml:"buffer_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
