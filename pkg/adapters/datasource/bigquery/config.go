package bigquery

import (
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Config contains BigQuery options. Without ServiceAccountJSON the client
// falls back to application default credentials.
type Config struct {
	ProjectID          string
	DatasetID          string // optional: restrict the crawl to one dataset
	Location           string
	ServiceAccountJSON string
	ConnectionTimeout  int
}

// FromParams builds a Config from public settings and decrypted credentials.
// The service account may arrive as a JSON string or an already-decoded object.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		ProjectID:         jsonutil.String(p.Config, "project_id", ""),
		DatasetID:         jsonutil.String(p.Config, "dataset_id", ""),
		Location:          jsonutil.String(p.Config, "location", ""),
		ConnectionTimeout: jsonutil.Int(p.Config, "connection_timeout", 30),
	}

	switch sa := p.Credentials["service_account_json"].(type) {
	case string:
		cfg.ServiceAccountJSON = sa
	case map[string]any:
		b, err := json.Marshal(sa)
		if err != nil {
			return nil, fmt.Errorf("encode service_account_json: %w", err)
		}
		cfg.ServiceAccountJSON = string(b)
	}

	if cfg.ServiceAccountJSON != "" {
		var key struct {
			Type      string `json:"type"`
			ProjectID string `json:"project_id"`
		}
		if err := json.Unmarshal([]byte(cfg.ServiceAccountJSON), &key); err != nil {
			return nil, fmt.Errorf("service_account_json is not valid JSON: %w", err)
		}
		if cfg.ProjectID == "" {
			cfg.ProjectID = key.ProjectID
		}
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	return cfg, nil
}
