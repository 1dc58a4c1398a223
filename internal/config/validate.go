package config

import (
	"fmt"
	"net/url"
	"slices"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if err := c.Identity.validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Records.validate(); err != nil {
		return fmt.Errorf("records: %w", err)
	}

	if c.Records.IDScheme == IDSchemeCounter && c.Store.Persistent() {
		return fmt.Errorf("records.id_scheme %q restarts with the process and cannot be used with store.driver %q", IDSchemeCounter, c.Store.Driver)
	}

	if len(c.Sharing.TokenSecret) < 32 {
		return fmt.Errorf("sharing.token_secret must be at least 32 characters (got %d)", len(c.Sharing.TokenSecret))
	}
	if c.Sharing.TokenTTL < 0 {
		return fmt.Errorf("sharing.token_ttl must be >= 0 (got %v)", c.Sharing.TokenTTL)
	}

	if c.RateLimit.Sync < 0 {
		return fmt.Errorf("rate_limit.sync must be >= 0 (got %d)", c.RateLimit.Sync)
	}
	if c.RateLimit.Sync > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be > 0 when rate_limit.sync is set")
	}

	return nil
}

func (c IdentityConfig) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", c.URL)
	}
	return nil
}

func (c StoreConfig) validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverBolt, DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("path is required for driver %q", c.Driver)
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for driver %q", c.Driver)
		}
		if c.MaxConns <= 0 || c.MinConns < 0 || c.MinConns > c.MaxConns {
			return fmt.Errorf("invalid pool size min=%d max=%d", c.MinConns, c.MaxConns)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	return nil
}

func (c RecordsConfig) validate() error {
	if !slices.Contains([]string{IDSchemeCounter, IDSchemeULID}, c.IDScheme) {
		return fmt.Errorf("unknown id_scheme %q", c.IDScheme)
	}
	if c.DefaultPerPage <= 0 {
		return fmt.Errorf("default_per_page must be > 0 (got %d)", c.DefaultPerPage)
	}
	if c.ExpandDepth < 0 {
		return fmt.Errorf("expand_depth must be >= 0 (got %d)", c.ExpandDepth)
	}
	return nil
}
