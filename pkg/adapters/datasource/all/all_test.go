//go:build all_adapters

package all

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func TestAllConnectorsRegistered(t *testing.T) {
	for _, key := range []string{
		"postgresql", "postgres", "mysql", "mariadb", "sqlserver", "mssql",
		"sqlite", "snowflake", "databricks", "bigquery", "s3",
	} {
		assert.True(t, datasource.IsRegistered(key), key)
	}
}
