package postgres

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func TestFromParams_ValidConfig(t *testing.T) {
	cfg, err := FromParams(datasource.Params{
		Config:      map[string]any{"host": "db.example.com", "port": float64(5433), "database": "sales", "ssl_mode": "disable", "schema": "public"},
		Credentials: map[string]any{"username": "reader", "password": "secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, "db.example.com", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "sales", cfg.Database)
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, "reader", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
}

func TestFromParams_Defaults(t *testing.T) {
	cfg, err := FromParams(datasource.Params{
		Config:      map[string]any{"host": "h", "name": "legacy"},
		Credentials: map[string]any{"user": "u"},
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, DefaultSSLMode(), cfg.SSLMode)
	assert.Equal(t, "legacy", cfg.Database)
	assert.Equal(t, 30, cfg.ConnectionTimeout)
}

func TestFromParams_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		cfg   map[string]any
		creds map[string]any
		want  string
	}{
		{"missing host", map[string]any{"database": "d"}, map[string]any{"username": "u"}, "host"},
		{"missing database", map[string]any{"host": "h"}, map[string]any{"username": "u"}, "database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromParams(datasource.Params{Config: tt.cfg, Credentials: tt.creds})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromParams_MissingUserDeferredToConnectionTest(t *testing.T) {
	cfg, err := FromParams(datasource.Params{Config: map[string]any{"host": "h", "database": "d"}})
	require.NoError(t, err)

	ext := &Extractor{config: cfg}
	err = ext.TestConnection(context.Background())
	require.ErrorIs(t, err, datasource.ErrCredentialsMissing)
	assert.Contains(t, err.Error(), "authentication credentials not configured")
}

func TestConnectionString_EscapesCredentials(t *testing.T) {
	cfg := &Config{Host: "db.example.com", Port: 5432, User: "app@corp", Password: "p@ss/w#rd?", Database: "sales", SSLMode: "disable", ConnectionTimeout: 10}

	u, err := url.Parse(cfg.ConnectionString())
	require.NoError(t, err)

	assert.Equal(t, "postgresql", u.Scheme)
	assert.Equal(t, "app@corp", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss/w#rd?", pw)
	assert.Equal(t, "db.example.com:5432", u.Host)
	assert.Equal(t, "/sales", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
}
