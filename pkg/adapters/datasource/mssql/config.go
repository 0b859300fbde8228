package mssql

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/config"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Authentication methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod is "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                string // "true", "false", "disable", "strict"
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// FromParams builds a Config from public settings and decrypted credentials,
// auto-detecting the auth method when none is given.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		Host:                   jsonutil.String(p.Config, "host", ""),
		Port:                   jsonutil.Int(p.Config, "port", DefaultPort()),
		Database:               jsonutil.String(p.Config, "database", jsonutil.String(p.Config, "name", "")),
		Encrypt:                encryptValue(p.Config["encrypt"]),
		TrustServerCertificate: jsonutil.Bool(p.Config, "trust_server_certificate", false),
		ConnectionTimeout:      jsonutil.Int(p.Config, "connection_timeout", 30),
		AuthMethod:             jsonutil.String(p.Config, "auth_method", ""),
		Username:               jsonutil.String(p.Credentials, "username", jsonutil.String(p.Credentials, "user", "")),
		Password:               jsonutil.String(p.Credentials, "password", ""),
		TenantID:               jsonutil.String(p.Config, "tenant_id", ""),
		ClientID:               jsonutil.String(p.Config, "client_id", jsonutil.String(p.Credentials, "client_id", "")),
		ClientSecret:           jsonutil.String(p.Credentials, "client_secret", ""),
	}

	if cfg.AuthMethod == "" {
		cfg.AuthMethod = AuthSQL
		if cfg.ClientID != "" {
			cfg.AuthMethod = AuthServicePrincipal
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// encryptValue accepts the encrypt option as a bool or one of the driver's string values.
func encryptValue(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case string:
		if t != "" {
			return t
		}
	}
	return "true"
}

// Validate checks the fields required by the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL, AuthServicePrincipal:
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", c.AuthMethod)
	}
	return nil
}

// CheckCredentials reports credentials the auth method needs but the data
// source does not carry.
func (c *Config) CheckCredentials() error {
	switch c.AuthMethod {
	case AuthServicePrincipal:
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("%w: tenant_id, client_id and client_secret are required for service principal authentication",
				datasource.ErrCredentialsMissing)
		}
	default:
		if c.Username == "" {
			return fmt.Errorf("%w: username is empty", datasource.ErrCredentialsMissing)
		}
	}
	return nil
}

// DriverName returns the database/sql driver for the auth method.
func (c *Config) DriverName() string {
	if c.AuthMethod == AuthServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// ConnectionString renders a sqlserver:// URL for go-mssqldb.
func (c *Config) ConnectionString() string {
	q := url.Values{}
	q.Set("database", c.Database)
	q.Set("encrypt", c.Encrypt)
	if c.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		q.Set("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}

	u := url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(config.ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
	}
	switch c.AuthMethod {
	case AuthServicePrincipal:
		q.Set("fedauth", "ActiveDirectoryServicePrincipal")
		q.Set("user id", c.ClientID+"@"+c.TenantID)
		q.Set("password", c.ClientSecret)
	default:
		u.User = url.UserPassword(c.Username, c.Password)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
