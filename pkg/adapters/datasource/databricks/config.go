package databricks

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// AllCatalogs crawls every catalog the token can see.
const AllCatalogs = "*"

// Config contains Databricks workspace options.
type Config struct {
	WorkspaceURL      string
	HTTPPath          string // SQL warehouse path, kept for display only
	Catalog           string
	AccessToken       string
	ConnectionTimeout int
}

// FromParams builds a Config from public settings and decrypted credentials.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		WorkspaceURL:      strings.TrimRight(jsonutil.String(p.Config, "workspace_url", jsonutil.String(p.Config, "host", "")), "/"),
		HTTPPath:          jsonutil.String(p.Config, "http_path", ""),
		Catalog:           jsonutil.String(p.Config, "catalog", "main"),
		AccessToken:       jsonutil.String(p.Credentials, "access_token", jsonutil.String(p.Credentials, "token", "")),
		ConnectionTimeout: jsonutil.Int(p.Config, "connection_timeout", 30),
	}

	if cfg.WorkspaceURL == "" {
		return nil, fmt.Errorf("workspace_url is required")
	}
	if !strings.Contains(cfg.WorkspaceURL, "://") {
		cfg.WorkspaceURL = "https://" + cfg.WorkspaceURL
	}
	if _, err := url.Parse(cfg.WorkspaceURL); err != nil {
		return nil, fmt.Errorf("invalid workspace_url: %w", err)
	}
	return cfg, nil
}

// CheckCredentials reports a missing access token.
func (c *Config) CheckCredentials() error {
	if c.AccessToken == "" {
		return fmt.Errorf("%w: access_token is empty", datasource.ErrCredentialsMissing)
	}
	return nil
}

// Host is the workspace host name used in qualified names.
func (c *Config) Host() string {
	u, err := url.Parse(c.WorkspaceURL)
	if err != nil || u.Host == "" {
		return c.WorkspaceURL
	}
	return u.Hostname()
}
