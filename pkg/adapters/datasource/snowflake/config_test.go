package snowflake

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	sf "github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func TestFromParams(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		cfg, err := FromParams(datasource.Params{
			Config:      map[string]any{"account": "xy12345", "database": "ANALYTICS", "warehouse": "WH"},
			Credentials: map[string]any{"username": "svc", "password": "p"},
		})
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.ConnectionTimeout)

		dc, err := cfg.DriverConfig()
		require.NoError(t, err)
		assert.Equal(t, "p", dc.Password)
		assert.Equal(t, "WH", dc.Warehouse)
		assert.Nil(t, dc.PrivateKey)
	})

	t.Run("missing secret", func(t *testing.T) {
		cfg, err := FromParams(datasource.Params{
			Config:      map[string]any{"account": "xy12345", "database": "ANALYTICS"},
			Credentials: map[string]any{"username": "svc"},
		})
		require.NoError(t, err)
		assert.ErrorIs(t, cfg.CheckCredentials(), datasource.ErrCredentialsMissing)
	})

	t.Run("no credentials at all", func(t *testing.T) {
		cfg, err := FromParams(datasource.Params{
			Config: map[string]any{"account": "xy12345", "database": "ANALYTICS"},
		})
		require.NoError(t, err)

		ext, err := NewExtractor(cfg, nil)
		require.NoError(t, err)
		err = ext.TestConnection(context.Background())
		require.ErrorIs(t, err, datasource.ErrCredentialsMissing)
		assert.Contains(t, err.Error(), "authentication credentials not configured")
		assert.NoError(t, ext.Close())
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := FromParams(datasource.Params{
			Config:      map[string]any{"database": "ANALYTICS"},
			Credentials: map[string]any{"username": "svc", "password": "p"},
		})
		assert.Error(t, err)
	})
}

func TestDriverConfig_KeyPair(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	cfg := &Config{Account: "xy12345", Database: "ANALYTICS", User: "svc", PrivateKey: pemKey, ConnectionTimeout: 10}
	dc, err := cfg.DriverConfig()
	require.NoError(t, err)
	assert.Equal(t, sf.AuthTypeJwt, dc.Authenticator)
	require.NotNil(t, dc.PrivateKey)
	assert.True(t, key.Equal(dc.PrivateKey))

	cfg.PrivateKey = "not a key"
	_, err = cfg.DriverConfig()
	assert.Error(t, err)
}
