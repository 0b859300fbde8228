package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "sqlserver"

// Extractor reads SQL Server metadata from the sys catalog views of the
// configured database. System schemas are skipped.
type Extractor struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewExtractor opens a lazy connection pool for cfg.
func NewExtractor(cfg *Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.CheckCredentials() != nil {
		// No pool until credentials exist; TestConnection reports them.
		return newExtractorWithDB(cfg, nil, logger), nil
	}
	db, err := sql.Open(cfg.DriverName(), cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.DriverName(), err)
	}
	db.SetMaxOpenConns(1)
	return newExtractorWithDB(cfg, db, logger), nil
}

func newExtractorWithDB(cfg *Config, db *sql.DB, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{config: cfg, db: db, logger: logger}
}

func (e *Extractor) SupportedAssetTypes() []models.AssetType {
	return []models.AssetType{
		models.AssetTypeDatabase,
		models.AssetTypeSchema,
		models.AssetTypeTable,
		models.AssetTypeView,
		models.AssetTypeColumn,
	}
}

// TestConnection verifies the database is reachable with valid credentials.
func (e *Extractor) TestConnection(ctx context.Context) error {
	if err := e.config.CheckCredentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.ConnectionTimeout)*time.Second)
	defer cancel()

	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := e.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType, e.config.Host}, parts...)...)
}

// ExtractMetadata crawls the configured database. Failure to read the
// database or its schemas is fatal; per-table failures are recorded.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	if err := e.config.CheckCredentials(); err != nil {
		return nil, err
	}
	result := &datasource.ExtractionResult{}

	database, err := e.extractDatabase(ctx)
	if err != nil {
		return nil, err
	}
	result.Databases = append(result.Databases, *database)
	dbName := database.Name

	schemas, err := e.extractSchemas(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	result.Schemas = schemas

	tables, err := e.extractTables(ctx, dbName)
	if err != nil {
		result.AddError(fmt.Sprintf("failed to list tables in %s: %v", dbName, err))
		return result.Finalize(), nil
	}
	result.Tables = tables

	foreignKeys, err := e.foreignKeys(ctx)
	if err != nil {
		result.AddWarning(fmt.Sprintf("failed to read foreign keys: %v", err))
		foreignKeys = map[string]string{}
	}

	for _, table := range tables {
		columns, err := e.extractColumns(ctx, table, foreignKeys)
		if err != nil {
			e.logger.Warn("Failed to extract columns",
				zap.String("schema", table.SchemaName),
				zap.String("table", table.Name),
				zap.Error(err))
			result.AddError(fmt.Sprintf("failed to extract columns for table %s.%s: %v", table.SchemaName, table.Name, err))
			continue
		}
		result.Columns = append(result.Columns, columns...)
	}

	e.logger.Info("SQL Server metadata extracted",
		zap.String("database", dbName),
		zap.Int("schemas", len(result.Schemas)),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) extractDatabase(ctx context.Context) (*datasource.DatabaseMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT d.name, d.collation_name, d.compatibility_level, d.create_date
	FROM sys.databases d
	WHERE d.name = DB_NAME()`

	var name string
	var collation sql.NullString
	var compatibility int
	var created time.Time
	if err := e.db.QueryRowContext(ctx, query).Scan(&name, &collation, &compatibility, &created); err != nil {
		return nil, fmt.Errorf("query database info: %w", err)
	}
	name = datasource.SanitizeIdentifier(name)

	return &datasource.DatabaseMetadata{
		Name:          name,
		QualifiedName: e.qualify(name),
		Properties: map[string]any{
			"collation":           collation.String,
			"compatibility_level": compatibility,
			"create_date":         created.UTC().Format(time.RFC3339),
		},
	}, nil
}

func (e *Extractor) extractSchemas(ctx context.Context, dbName string) ([]datasource.SchemaMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT s.name, USER_NAME(s.principal_id)
	FROM sys.schemas s
	WHERE s.schema_id < 16384
	  AND s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest')
	ORDER BY s.name`

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []datasource.SchemaMetadata
	for rows.Next() {
		var name string
		var owner sql.NullString
		if err := rows.Scan(&name, &owner); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)
		schemas = append(schemas, datasource.SchemaMetadata{
			Name:          name,
			QualifiedName: e.qualify(dbName, name),
			DatabaseName:  dbName,
			Properties:    map[string]any{"owner": owner.String},
		})
	}
	return schemas, rows.Err()
}

func (e *Extractor) extractTables(ctx context.Context, dbName string) ([]datasource.TableMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT SCHEMA_NAME(o.schema_id), o.name, o.type,
	       (SELECT SUM(p.rows) FROM sys.partitions p WHERE p.object_id = o.object_id AND p.index_id IN (0, 1)),
	       CAST(ep.value AS NVARCHAR(4000)), o.create_date, o.modify_date
	FROM sys.objects o
	LEFT JOIN sys.extended_properties ep
	       ON ep.major_id = o.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
	WHERE o.type IN ('U', 'V') AND o.is_ms_shipped = 0
	ORDER BY 1, 2`

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var schema, name, objectType string
		var rowCount any
		var comment sql.NullString
		var created, modified time.Time
		if err := rows.Scan(&schema, &name, &objectType, &rowCount, &comment, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		schema = datasource.SanitizeIdentifier(schema)
		name = datasource.SanitizeIdentifier(name)

		kind := datasource.TableTypeTable
		if strings.TrimSpace(objectType) == "V" {
			kind = datasource.TableTypeView
		}
		tables = append(tables, datasource.TableMetadata{
			Name:          name,
			QualifiedName: e.qualify(dbName, schema, name),
			SchemaName:    schema,
			DatabaseName:  dbName,
			TableType:     kind,
			Comment:       datasource.StringPtr(comment.String),
			RowCount:      datasource.Int64Ptr(rowCount),
			Properties: map[string]any{
				"create_date": created.UTC().Format(time.RFC3339),
				"modify_date": modified.UTC().Format(time.RFC3339),
			},
		})
	}
	return tables, rows.Err()
}

// foreignKeys maps "schema.table.column" to the referenced "schema.table.column".
func (e *Extractor) foreignKeys(ctx context.Context) (map[string]string, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT SCHEMA_NAME(fk.schema_id), OBJECT_NAME(fk.parent_object_id),
	       COL_NAME(fkc.parent_object_id, fkc.parent_column_id),
	       SCHEMA_NAME(rt.schema_id), OBJECT_NAME(fk.referenced_object_id),
	       COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id)
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	WHERE fk.is_ms_shipped = 0`

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var schema, table, column, refSchema, refTable, refColumn string
		if err := rows.Scan(&schema, &table, &column, &refSchema, &refTable, &refColumn); err != nil {
			return nil, err
		}
		refs[datasource.BuildQualifiedName(schema, table, column)] = datasource.BuildQualifiedName(refSchema, refTable, refColumn)
	}
	return refs, rows.Err()
}

func (e *Extractor) extractColumns(ctx context.Context, table datasource.TableMetadata, foreignKeys map[string]string) ([]datasource.ColumnMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT c.name, c.column_id, tp.name, c.max_length, c.precision, c.scale, c.is_nullable,
	       c.is_identity, OBJECT_DEFINITION(c.default_object_id),
	       CAST(ep.value AS NVARCHAR(4000)),
	       CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN sys.extended_properties ep
	       ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description'
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@p1) + N'.' + QUOTENAME(@p2))
	ORDER BY c.column_id`

	rows, err := e.db.QueryContext(ctx, query, table.SchemaName, table.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var name, typeName string
		var ordinal, maxLength, precision, scale, isPrimary int
		var nullable, identity bool
		var def, comment sql.NullString
		if err := rows.Scan(&name, &ordinal, &typeName, &maxLength, &precision, &scale, &nullable,
			&identity, &def, &comment, &isPrimary); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)

		col := datasource.ColumnMetadata{
			Name:               name,
			TableQualifiedName: table.QualifiedName,
			OrdinalPosition:    ordinal,
			DataType:           datasource.NormalizeDataType(mapSQLServerType(typeName)),
			IsNullable:         nullable,
			Comment:            datasource.StringPtr(comment.String),
			IsPrimaryKey:       isPrimary == 1,
			Properties: map[string]any{
				"raw_data_type": typeName,
				"max_length":    maxLength,
				"precision":     precision,
				"scale":         scale,
				"is_identity":   identity,
			},
		}
		if def.Valid {
			col.DefaultValue = &def.String
		}
		if ref, ok := foreignKeys[datasource.BuildQualifiedName(table.SchemaName, table.Name, name)]; ok {
			col.IsForeignKey = true
			col.ForeignKeyReference = &ref
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// Close releases the connection pool.
func (e *Extractor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

var _ datasource.Extractor = (*Extractor)(nil)
