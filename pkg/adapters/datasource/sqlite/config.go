package sqlite

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Config points at a SQLite database file on the worker's filesystem.
type Config struct {
	DatabasePath      string
	ReadOnly          bool
	ConnectionTimeout int
}

// FromParams builds a Config from public settings. SQLite has no secrets.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		DatabasePath:      jsonutil.String(p.Config, "database_path", jsonutil.String(p.Config, "path", "")),
		ReadOnly:          jsonutil.Bool(p.Config, "read_only", true),
		ConnectionTimeout: jsonutil.Int(p.Config, "connection_timeout", 5),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return nil, fmt.Errorf("database_path is required")
	}
	if cfg.DatabasePath == ":memory:" {
		return nil, fmt.Errorf("in-memory databases cannot be cataloged")
	}
	return cfg, nil
}

// Name is the database file name without its extension.
func (c *Config) Name() string {
	base := filepath.Base(c.DatabasePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DSN renders a file: URI for the modernc driver.
func (c *Config) DSN() string {
	q := url.Values{}
	if c.ReadOnly {
		q.Set("mode", "ro")
	}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.ConnectionTimeout*1000))
	return "file:" + c.DatabasePath + "?" + q.Encode()
}
