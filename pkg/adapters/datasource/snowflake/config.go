package snowflake

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake" // registers the "snowflake" driver

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Config contains Snowflake connection options. Either Password or
// PrivateKey (PEM, PKCS#8 or PKCS#1) authenticates the user.
type Config struct {
	Account           string
	User              string
	Password          string
	PrivateKey        string
	Warehouse         string
	Database          string
	Schema            string // optional: restrict the crawl to one schema
	Role              string
	ConnectionTimeout int
}

// FromParams builds a Config from public settings and decrypted credentials.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		Account:           jsonutil.String(p.Config, "account", ""),
		Warehouse:         jsonutil.String(p.Config, "warehouse", ""),
		Database:          jsonutil.String(p.Config, "database", ""),
		Schema:            jsonutil.String(p.Config, "schema", ""),
		Role:              jsonutil.String(p.Config, "role", ""),
		ConnectionTimeout: jsonutil.Int(p.Config, "connection_timeout", 30),
		User:              jsonutil.String(p.Credentials, "username", jsonutil.String(p.Credentials, "user", "")),
		Password:          jsonutil.String(p.Credentials, "password", ""),
		PrivateKey:        jsonutil.String(p.Credentials, "private_key", ""),
	}

	switch {
	case cfg.Account == "":
		return nil, fmt.Errorf("account is required")
	case cfg.Database == "":
		return nil, fmt.Errorf("database is required")
	}
	return cfg, nil
}

// CheckCredentials reports a missing user, or a user with neither password
// nor private key.
func (c *Config) CheckCredentials() error {
	switch {
	case c.User == "":
		return fmt.Errorf("%w: username is empty", datasource.ErrCredentialsMissing)
	case c.Password == "" && c.PrivateKey == "":
		return fmt.Errorf("%w: password or private_key is required", datasource.ErrCredentialsMissing)
	}
	return nil
}

// DriverConfig converts to the gosnowflake configuration.
func (c *Config) DriverConfig() (*sf.Config, error) {
	dc := &sf.Config{
		Account:      c.Account,
		User:         c.User,
		Database:     c.Database,
		Warehouse:    c.Warehouse,
		Role:         c.Role,
		Application:  "ekaya-catalog",
		Schema:       c.Schema,
		LoginTimeout: time.Duration(c.ConnectionTimeout) * time.Second,
	}

	if c.PrivateKey != "" {
		key, err := parsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, err
		}
		dc.Authenticator = sf.AuthTypeJwt
		dc.PrivateKey = key
	} else {
		dc.Password = c.Password
	}
	return dc, nil
}

// DSN renders the driver DSN.
func (c *Config) DSN() (string, error) {
	dc, err := c.DriverConfig()
	if err != nil {
		return "", err
	}
	return sf.DSN(dc)
}

func parsePrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(data)))
	if block == nil {
		return nil, fmt.Errorf("private_key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private_key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private_key must be an RSA key")
	}
	return key, nil
}
