package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/config"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	Schema            string // optional: restrict the crawl to one schema
	SSLMode           string // "disable", "require", "verify-ca", "verify-full"
	ConnectionTimeout int    // seconds
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromParams builds a Config from public settings and decrypted credentials.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		Host:              jsonutil.String(p.Config, "host", ""),
		Port:              jsonutil.Int(p.Config, "port", DefaultPort()),
		Database:          jsonutil.String(p.Config, "database", jsonutil.String(p.Config, "name", "")),
		Schema:            jsonutil.String(p.Config, "schema", ""),
		SSLMode:           jsonutil.String(p.Config, "ssl_mode", DefaultSSLMode()),
		ConnectionTimeout: jsonutil.Int(p.Config, "connection_timeout", jsonutil.Int(p.Config, "connect_timeout", 30)),
		User:              jsonutil.String(p.Credentials, "username", jsonutil.String(p.Credentials, "user", "")),
		Password:          jsonutil.String(p.Credentials, "password", ""),
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	return cfg, nil
}

// CheckCredentials reports a missing username.
func (c *Config) CheckCredentials() error {
	if c.User == "" {
		return fmt.Errorf("%w: username is empty", datasource.ErrCredentialsMissing)
	}
	return nil
}

// ConnectionString builds a PostgreSQL URL. All user-provided fields are
// escaped so passwords containing @, /, # or ? survive URL parsing.
func (c *Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   config.ResolveHostForDocker(c.Host) + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	if c.ConnectionTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(c.ConnectionTimeout))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
