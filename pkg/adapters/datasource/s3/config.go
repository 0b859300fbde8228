package s3

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/jsonutil"
)

// Config contains S3 (or S3-compatible) bucket options. Without static
// keys the default AWS credential chain is used.
type Config struct {
	Region              string
	Bucket              string
	Prefix              string
	Endpoint            string // S3-compatible stores such as MinIO
	UsePathStyle        bool
	MaxObjectsPerPrefix int
	AccessKeyID         string
	SecretAccessKey     string
	SessionToken        string
	ConnectionTimeout   int
}

// FromParams builds a Config from public settings and decrypted credentials.
func FromParams(p datasource.Params) (*Config, error) {
	cfg := &Config{
		Region:              jsonutil.String(p.Config, "region", "us-east-1"),
		Bucket:              jsonutil.String(p.Config, "bucket", ""),
		Prefix:              strings.TrimLeft(jsonutil.String(p.Config, "prefix", ""), "/"),
		Endpoint:            jsonutil.String(p.Config, "endpoint", ""),
		UsePathStyle:        jsonutil.Bool(p.Config, "use_path_style", false),
		MaxObjectsPerPrefix: jsonutil.Int(p.Config, "max_objects_per_prefix", 1000),
		ConnectionTimeout:   jsonutil.Int(p.Config, "connection_timeout", 30),
		AccessKeyID:         jsonutil.String(p.Credentials, "access_key_id", ""),
		SecretAccessKey:     jsonutil.String(p.Credentials, "secret_access_key", ""),
		SessionToken:        jsonutil.String(p.Credentials, "session_token", ""),
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.MaxObjectsPerPrefix <= 0 {
		return nil, fmt.Errorf("max_objects_per_prefix must be positive")
	}
	return cfg, nil
}

// CheckCredentials reports a half-configured static key pair. No keys at all
// means the default AWS credential chain is used.
func (c *Config) CheckCredentials() error {
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%w: access_key_id and secret_access_key must be provided together", datasource.ErrCredentialsMissing)
	}
	return nil
}
