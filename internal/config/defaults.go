package config

import "time"

func (c *ServiceConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "feedd-1"
	}

	if c.Feed.SubscribeChunk <= 0 {
		c.Feed.SubscribeChunk = 500
	}
	if c.Feed.ReconnectBaseDelay <= 0 {
		c.Feed.ReconnectBaseDelay = 1 * time.Second
	}
	if c.Feed.ReconnectMaxDelay <= 0 {
		c.Feed.ReconnectMaxDelay = 60 * time.Second
	}
	if c.Feed.MaxReconnectAttempts <= 0 {
		c.Feed.MaxReconnectAttempts = 10
	}
	if c.Feed.PingInterval <= 0 {
		c.Feed.PingInterval = 10 * time.Second
	}
	if c.Feed.ReadTimeout <= 0 {
		c.Feed.ReadTimeout = 30 * time.Second
	}
	if c.Feed.QueueCapacity <= 0 {
		c.Feed.QueueCapacity = 4096
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "prefer"
	}
	if c.Database.Postgres.MaxConns <= 0 {
		c.Database.Postgres.MaxConns = 10
	}
	if c.Database.Postgres.MinConns <= 0 {
		c.Database.Postgres.MinConns = 2
	}

	if c.Writer.BatchSize <= 0 {
		c.Writer.BatchSize = 1000
	}
	if c.Writer.MaxAge <= 0 {
		c.Writer.MaxAge = 1 * time.Second
	}
	if c.Writer.RetryCap <= 0 {
		c.Writer.RetryCap = 5
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}

	if c.Candles.CheckInterval <= 0 {
		c.Candles.CheckInterval = 60 * time.Second
	}
	if c.Candles.Concurrency <= 0 {
		c.Candles.Concurrency = 8
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.SendTimeout <= 0 {
		c.Server.SendTimeout = 100 * time.Millisecond
	}
	if c.Server.BufferSize <= 0 {
		c.Server.BufferSize = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 14
	}
}
