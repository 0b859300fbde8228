package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "mysql"

// Extractor reads MySQL and MariaDB metadata from information_schema.
// Only the configured database is crawled; it yields one database asset and
// one schema asset of the same name.
type Extractor struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewExtractor opens a lazy connection pool for cfg. No network I/O happens
// until TestConnection or ExtractMetadata.
func NewExtractor(cfg *Config, logger *zap.Logger) (*Extractor, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
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

// TestConnection verifies the server is reachable with valid credentials.
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

// ExtractMetadata crawls the configured database. A missing or unreadable
// database is fatal; failures reading an individual table are recorded on
// the result and the crawl moves on.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	if e.config.Database == "" {
		return nil, fmt.Errorf("no database specified in configuration")
	}
	dbName := datasource.SanitizeIdentifier(e.config.Database)
	result := &datasource.ExtractionResult{}

	database, err := e.extractDatabase(ctx, dbName)
	if err != nil {
		return nil, err
	}
	if err := e.addDatabaseSize(ctx, database); err != nil {
		result.AddWarning(fmt.Sprintf("failed to compute size of database %s: %v", dbName, err))
	}
	result.Databases = append(result.Databases, *database)

	// MySQL has no schema level below the database; the schema asset gets a
	// fixed suffix so it does not share the database's qualified name.
	schemaQualifiedName := e.qualify(dbName, "schema")
	result.Schemas = append(result.Schemas, datasource.SchemaMetadata{
		Name:          dbName,
		QualifiedName: schemaQualifiedName,
		DatabaseName:  dbName,
		Properties:    map[string]any{"schema_type": "database"},
	})

	tables, err := e.extractTables(ctx, dbName)
	if err != nil {
		result.AddError(fmt.Sprintf("failed to list tables in %s: %v", dbName, err))
		return result.Finalize(), nil
	}
	result.Tables = tables
	for _, table := range tables {
		if table.QualifiedName == schemaQualifiedName {
			result.AddWarning(fmt.Sprintf("table %s.%s shares the qualified name %s with its schema and will not be cataloged", dbName, table.Name, schemaQualifiedName))
		}
	}

	for _, table := range tables {
		columns, err := e.extractColumns(ctx, dbName, table)
		if err != nil {
			e.logger.Warn("Failed to extract columns",
				zap.String("database", dbName),
				zap.String("table", table.Name),
				zap.Error(err))
			result.AddError(fmt.Sprintf("failed to extract columns for table %s.%s: %v", dbName, table.Name, err))
			continue
		}
		result.Columns = append(result.Columns, columns...)
	}

	e.logger.Info("MySQL metadata extracted",
		zap.String("database", dbName),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) extractDatabase(ctx context.Context, dbName string) (*datasource.DatabaseMetadata, error) {
	query := `
		SELECT SCHEMA_NAME, DEFAULT_CHARACTER_SET_NAME, DEFAULT_COLLATION_NAME
		FROM information_schema.SCHEMATA
		WHERE SCHEMA_NAME = ?`

	var name string
	var charset, collation sql.NullString
	err := e.db.QueryRowContext(ctx, query, dbName).Scan(&name, &charset, &collation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database '%s' not found or not accessible", dbName)
	}
	if err != nil {
		return nil, fmt.Errorf("query database info: %w", err)
	}
	name = datasource.SanitizeIdentifier(name)

	return &datasource.DatabaseMetadata{
		Name:          name,
		QualifiedName: e.qualify(name),
		Properties: map[string]any{
			"character_set": charset.String,
			"collation":     collation.String,
		},
	}, nil
}

func (e *Extractor) addDatabaseSize(ctx context.Context, database *datasource.DatabaseMetadata) error {
	query := `
		SELECT COUNT(*), COALESCE(SUM(DATA_LENGTH + INDEX_LENGTH), 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?`

	var tableCount int64
	var size any
	if err := e.db.QueryRowContext(ctx, query, database.Name).Scan(&tableCount, &size); err != nil {
		return err
	}
	database.Properties["table_count"] = tableCount
	database.Properties["size_bytes"] = datasource.ConvertNumeric(size)
	return nil
}

func (e *Extractor) extractTables(ctx context.Context, dbName string) ([]datasource.TableMetadata, error) {
	query := `
		SELECT TABLE_NAME, TABLE_TYPE, ENGINE, TABLE_COLLATION, CREATE_TIME, UPDATE_TIME,
		       TABLE_COMMENT, TABLE_ROWS, DATA_LENGTH + INDEX_LENGTH
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`

	rows, err := e.db.QueryContext(ctx, query, dbName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var name, tableType string
		var engine, collation, comment sql.NullString
		var created, updated, rowCount, size any
		if err := rows.Scan(&name, &tableType, &engine, &collation, &created, &updated, &comment, &rowCount, &size); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)

		kind := datasource.TableTypeTable
		if tableType == "VIEW" || tableType == "SYSTEM VIEW" {
			kind = datasource.TableTypeView
		}

		tables = append(tables, datasource.TableMetadata{
			Name:          name,
			QualifiedName: e.qualify(dbName, name),
			SchemaName:    dbName,
			DatabaseName:  dbName,
			TableType:     kind,
			Comment:       datasource.StringPtr(comment.String),
			RowCount:      datasource.Int64Ptr(rowCount),
			SizeBytes:     datasource.Int64Ptr(size),
			Properties: map[string]any{
				"engine":      engine.String,
				"collation":   collation.String,
				"create_time": propertyValue(created),
				"update_time": propertyValue(updated),
			},
		})
	}
	return tables, rows.Err()
}

func (e *Extractor) extractColumns(ctx context.Context, dbName string, table datasource.TableMetadata) ([]datasource.ColumnMetadata, error) {
	primaryKeys, err := e.primaryKeys(ctx, dbName, table.Name)
	if err != nil {
		return nil, fmt.Errorf("primary keys: %w", err)
	}
	foreignKeys, err := e.foreignKeys(ctx, dbName, table.Name)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}

	query := `
		SELECT COLUMN_NAME, ORDINAL_POSITION, COLUMN_DEFAULT, IS_NULLABLE, DATA_TYPE, COLUMN_TYPE,
		       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, COLUMN_KEY, EXTRA, COLUMN_COMMENT
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	rows, err := e.db.QueryContext(ctx, query, dbName, table.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var name, nullable, dataType, columnType string
		var ordinal int
		var def, columnKey, extra, comment sql.NullString
		var maxLength, precision, scale any
		if err := rows.Scan(&name, &ordinal, &def, &nullable, &dataType, &columnType,
			&maxLength, &precision, &scale, &columnKey, &extra, &comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)

		col := datasource.ColumnMetadata{
			Name:               name,
			TableQualifiedName: table.QualifiedName,
			OrdinalPosition:    ordinal,
			DataType:           datasource.NormalizeDataType(columnType),
			IsNullable:         nullable == "YES",
			Comment:            datasource.StringPtr(comment.String),
			IsPrimaryKey:       primaryKeys[name],
			Properties: map[string]any{
				"raw_data_type":            dataType,
				"column_type":              columnType,
				"character_maximum_length": datasource.ConvertNumeric(propertyValue(maxLength)),
				"numeric_precision":        datasource.ConvertNumeric(propertyValue(precision)),
				"numeric_scale":            datasource.ConvertNumeric(propertyValue(scale)),
				"column_key":               columnKey.String,
				"extra":                    extra.String,
			},
		}
		if def.Valid {
			col.DefaultValue = &def.String
		}
		if ref, ok := foreignKeys[name]; ok {
			col.IsForeignKey = true
			col.ForeignKeyReference = &ref
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (e *Extractor) primaryKeys(ctx context.Context, dbName, tableName string) (map[string]bool, error) {
	query := `
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'`

	rows, err := e.db.QueryContext(ctx, query, dbName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys[datasource.SanitizeIdentifier(name)] = true
	}
	return keys, rows.Err()
}

// foreignKeys maps column name to "schema.table.column" of the referenced column.
func (e *Extractor) foreignKeys(ctx context.Context, dbName, tableName string) (map[string]string, error) {
	query := `
		SELECT COLUMN_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL`

	rows, err := e.db.QueryContext(ctx, query, dbName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var column, refSchema, refTable, refColumn string
		if err := rows.Scan(&column, &refSchema, &refTable, &refColumn); err != nil {
			return nil, err
		}
		refs[datasource.SanitizeIdentifier(column)] = datasource.BuildQualifiedName(refSchema, refTable, refColumn)
	}
	return refs, rows.Err()
}

// propertyValue renders driver values into JSON-friendly forms.
func propertyValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

// Close releases the connection pool.
func (e *Extractor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Ensure Extractor implements datasource.Extractor at compile time.
var _ datasource.Extractor = (*Extractor)(nil)
