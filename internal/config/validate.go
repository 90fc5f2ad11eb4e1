package config

import (
	"fmt"
	"slices"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for missing or inconsistent values.
func (c *ServiceConfig) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.APIKey == "" {
		return fmt.Errorf("feed.api_key is required")
	}
	if c.Feed.AccessToken == "" {
		return fmt.Errorf("feed.access_token is required")
	}
	if c.Feed.ReconnectBaseDelay > c.Feed.ReconnectMaxDelay {
		return fmt.Errorf("feed.reconnect_base_delay %v exceeds feed.reconnect_max_delay %v",
			c.Feed.ReconnectBaseDelay, c.Feed.ReconnectMaxDelay)
	}

	db := c.Database.Postgres
	if db.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if db.Name == "" {
		return fmt.Errorf("database.postgres.name is required")
	}
	if db.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("database.postgres.min_conns %d exceeds max_conns %d", db.MinConns, db.MaxConns)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not one of %v", c.Logging.Level, validLogLevels)
	}

	return nil
}
