package snowflake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "snowflake"

// Extractor reads one Snowflake database through its INFORMATION_SCHEMA.
// Constraints in Snowflake are informational only and are not reported.
type Extractor struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

func NewExtractor(cfg *Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.CheckCredentials() != nil {
		// The driver refuses a DSN without credentials; TestConnection reports them.
		return newExtractorWithDB(cfg, nil, logger), nil
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
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

func (e *Extractor) TestConnection(ctx context.Context) error {
	if err := e.config.CheckCredentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.ConnectionTimeout)*time.Second)
	defer cancel()

	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var version string
	if err := e.db.QueryRowContext(ctx, "SELECT CURRENT_VERSION()").Scan(&version); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType, strings.ToLower(e.config.Account)}, parts...)...)
}

func (e *Extractor) infoSchema(view string) string {
	return quoteIdent(e.config.Database) + ".INFORMATION_SCHEMA." + view
}

// ExtractMetadata crawls the configured database. Schemas are crawled one
// at a time; a failing schema is recorded and skipped.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	if err := e.config.CheckCredentials(); err != nil {
		return nil, err
	}
	result := &datasource.ExtractionResult{}
	dbName := e.config.Database

	database, err := e.extractDatabase(ctx)
	if err != nil {
		return nil, err
	}
	result.Databases = append(result.Databases, *database)

	schemas, err := e.extractSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	result.Schemas = schemas

	for _, schema := range schemas {
		tables, err := e.extractTables(ctx, schema.Name)
		if err != nil {
			result.AddError(fmt.Sprintf("failed to list tables in schema %s: %v", schema.Name, err))
			continue
		}
		result.Tables = append(result.Tables, tables...)

		if len(tables) == 0 {
			continue
		}
		columns, err := e.extractColumns(ctx, schema.Name)
		if err != nil {
			e.logger.Warn("Failed to extract columns", zap.String("schema", schema.Name), zap.Error(err))
			result.AddError(fmt.Sprintf("failed to extract columns for schema %s: %v", schema.Name, err))
			continue
		}
		result.Columns = append(result.Columns, columns...)
	}

	e.logger.Info("Snowflake metadata extracted",
		zap.String("database", dbName),
		zap.Int("schemas", len(result.Schemas)),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) extractDatabase(ctx context.Context) (*datasource.DatabaseMetadata, error) {
	query := `
	SELECT DATABASE_NAME, DATABASE_OWNER, COMMENT, CREATED
	FROM ` + e.infoSchema("DATABASES") + `
	WHERE DATABASE_NAME = ?`

	var name string
	var owner, comment sql.NullString
	var created sql.NullTime
	err := e.db.QueryRowContext(ctx, query, e.config.Database).Scan(&name, &owner, &comment, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database '%s' not found", e.config.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("query database info: %w", err)
	}
	name = datasource.SanitizeIdentifier(name)

	props := map[string]any{"owner": owner.String}
	if e.config.Warehouse != "" {
		props["warehouse"] = e.config.Warehouse
	}
	if created.Valid {
		props["created"] = created.Time.UTC().Format(time.RFC3339)
	}
	return &datasource.DatabaseMetadata{
		Name:          name,
		QualifiedName: e.qualify(name),
		Comment:       datasource.StringPtr(comment.String),
		Properties:    props,
	}, nil
}

func (e *Extractor) extractSchemas(ctx context.Context) ([]datasource.SchemaMetadata, error) {
	query := `
	SELECT SCHEMA_NAME, SCHEMA_OWNER, COMMENT
	FROM ` + e.infoSchema("SCHEMATA") + `
	WHERE SCHEMA_NAME <> 'INFORMATION_SCHEMA'`
	args := []any{}
	if e.config.Schema != "" {
		query += " AND SCHEMA_NAME = ?"
		args = append(args, e.config.Schema)
	}
	query += " ORDER BY SCHEMA_NAME"

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []datasource.SchemaMetadata
	for rows.Next() {
		var name string
		var owner, comment sql.NullString
		if err := rows.Scan(&name, &owner, &comment); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)
		schemas = append(schemas, datasource.SchemaMetadata{
			Name:          name,
			QualifiedName: e.qualify(e.config.Database, name),
			DatabaseName:  e.config.Database,
			Comment:       datasource.StringPtr(comment.String),
			Properties:    map[string]any{"owner": owner.String},
		})
	}
	return schemas, rows.Err()
}

func (e *Extractor) extractTables(ctx context.Context, schema string) ([]datasource.TableMetadata, error) {
	query := `
	SELECT TABLE_NAME, TABLE_TYPE, ROW_COUNT, BYTES, COMMENT, CLUSTERING_KEY, CREATED, LAST_ALTERED
	FROM ` + e.infoSchema("TABLES") + `
	WHERE TABLE_SCHEMA = ?
	ORDER BY TABLE_NAME`

	rows, err := e.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var name, tableType string
		var rowCount, bytes any
		var comment, clustering sql.NullString
		var created, altered sql.NullTime
		if err := rows.Scan(&name, &tableType, &rowCount, &bytes, &comment, &clustering, &created, &altered); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)

		kind := datasource.TableTypeTable
		if strings.Contains(tableType, "VIEW") {
			kind = datasource.TableTypeView
		}
		props := map[string]any{"table_type": tableType}
		if clustering.Valid {
			props["clustering_key"] = clustering.String
		}
		if created.Valid {
			props["created"] = created.Time.UTC().Format(time.RFC3339)
		}
		if altered.Valid {
			props["last_altered"] = altered.Time.UTC().Format(time.RFC3339)
		}
		tables = append(tables, datasource.TableMetadata{
			Name:          name,
			QualifiedName: e.qualify(e.config.Database, schema, name),
			SchemaName:    schema,
			DatabaseName:  e.config.Database,
			TableType:     kind,
			Comment:       datasource.StringPtr(comment.String),
			RowCount:      datasource.Int64Ptr(rowCount),
			SizeBytes:     datasource.Int64Ptr(bytes),
			Properties:    props,
		})
	}
	return tables, rows.Err()
}

func (e *Extractor) extractColumns(ctx context.Context, schema string) ([]datasource.ColumnMetadata, error) {
	query := `
	SELECT TABLE_NAME, COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COMMENT,
	       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE
	FROM ` + e.infoSchema("COLUMNS") + `
	WHERE TABLE_SCHEMA = ?
	ORDER BY TABLE_NAME, ORDINAL_POSITION`

	rows, err := e.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var table, name, dataType, nullable string
		var ordinal int
		var def, comment sql.NullString
		var maxLength, precision, scale any
		if err := rows.Scan(&table, &name, &ordinal, &dataType, &nullable, &def, &comment, &maxLength, &precision, &scale); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		table = datasource.SanitizeIdentifier(table)
		name = datasource.SanitizeIdentifier(name)

		props := map[string]any{"raw_data_type": dataType}
		for k, v := range map[string]any{"character_maximum_length": maxLength, "numeric_precision": precision, "numeric_scale": scale} {
			if v != nil {
				props[k] = datasource.ConvertNumeric(v)
			}
		}
		col := datasource.ColumnMetadata{
			Name:               name,
			TableQualifiedName: e.qualify(e.config.Database, schema, table),
			OrdinalPosition:    ordinal,
			DataType:           datasource.NormalizeDataType(dataType),
			IsNullable:         nullable == "YES",
			Comment:            datasource.StringPtr(comment.String),
			Properties:         props,
		}
		if def.Valid {
			col.DefaultValue = &def.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (e *Extractor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ datasource.Extractor = (*Extractor)(nil)
