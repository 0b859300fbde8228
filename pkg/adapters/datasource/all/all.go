// Package all links every built-in connector into the binary. Connectors
// register themselves only when built with their tag or -tags all_adapters.
package all

import (
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/bigquery"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/databricks"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/s3"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/snowflake"
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/sqlite"
)
