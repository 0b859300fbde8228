package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/config"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host              string
	Port              int
	Database          string
	SSLEnabled        bool
	ConnectionTimeout int // seconds
	ReadTimeout       int // seconds

	Username string
	Password string
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromParams builds a Config from public settings and decrypted credentials.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		Host:              jsonutil.String(p.Config, "host", "localhost"),
		Port:              jsonutil.Int(p.Config, "port", DefaultPort()),
		Database:          jsonutil.String(p.Config, "database", ""),
		SSLEnabled:        jsonutil.Bool(p.Config, "ssl_enabled", jsonutil.Bool(p.Config, "use_ssl", false)),
		ConnectionTimeout: jsonutil.Int(p.Config, "connection_timeout", jsonutil.Int(p.Config, "connect_timeout", 30)),
		ReadTimeout:       jsonutil.Int(p.Config, "read_timeout", 30),
		Username:          jsonutil.String(p.Credentials, "username", jsonutil.String(p.Credentials, "user", "")),
		Password:          jsonutil.String(p.Credentials, "password", ""),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	return cfg, nil
}

// CheckCredentials reports a missing username.
func (c *Config) CheckCredentials() error {
	if c.Username == "" {
		return fmt.Errorf("%w: username is empty", datasource.ErrCredentialsMissing)
	}
	return nil
}

// DSN renders the go-sql-driver connection string.
func (c *Config) DSN() string {
	dsn := mysql.NewConfig()
	dsn.User = c.Username
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(config.ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
	dsn.DBName = c.Database
	dsn.Timeout = time.Duration(c.ConnectionTimeout) * time.Second
	dsn.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	dsn.ParseTime = true
	if c.SSLEnabled {
		dsn.TLSConfig = "true"
	}
	return dsn.FormatDSN()
}
