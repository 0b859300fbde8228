package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "sqlite"

// Extractor reads a SQLite file through sqlite_master and the table pragmas.
// Every attached database appears as a schema; the file itself is the database.
type Extractor struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewExtractor opens the database file. The file must already exist.
func NewExtractor(cfg *Config, logger *zap.Logger) (*Extractor, error) {
	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("database file: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{config: cfg, db: db, logger: logger}, nil
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
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.ConnectionTimeout)*time.Second)
	defer cancel()

	var count int
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&count); err != nil {
		return fmt.Errorf("read sqlite_master: %w", err)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType, e.config.Name()}, parts...)...)
}

// ExtractMetadata crawls every attached schema of the file.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	result := &datasource.ExtractionResult{}
	dbName := e.config.Name()

	var pageCount, pageSize int64
	if err := e.db.QueryRowContext(ctx, "SELECT page_count, page_size FROM pragma_page_count(), pragma_page_size()").Scan(&pageCount, &pageSize); err != nil {
		return nil, fmt.Errorf("read database size: %w", err)
	}
	result.Databases = append(result.Databases, datasource.DatabaseMetadata{
		Name:          dbName,
		QualifiedName: e.qualify(),
		Properties: map[string]any{
			"path":       e.config.DatabasePath,
			"size_bytes": pageCount * pageSize,
		},
	})

	schemas, err := e.schemaNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}

	for _, schema := range schemas {
		result.Schemas = append(result.Schemas, datasource.SchemaMetadata{
			Name:          schema,
			QualifiedName: e.qualify(schema),
			DatabaseName:  dbName,
		})

		tables, err := e.extractTables(ctx, schema)
		if err != nil {
			result.AddError(fmt.Sprintf("failed to list tables in schema %s: %v", schema, err))
			continue
		}
		for i := range tables {
			columns, err := e.extractColumns(ctx, tables[i])
			if err != nil {
				e.logger.Warn("Failed to extract columns",
					zap.String("schema", schema),
					zap.String("table", tables[i].Name),
					zap.Error(err))
				result.AddError(fmt.Sprintf("failed to extract columns for table %s.%s: %v", schema, tables[i].Name, err))
			} else {
				result.Columns = append(result.Columns, columns...)
			}

			if tables[i].TableType != datasource.TableTypeTable {
				continue
			}
			var rows int64
			query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(schema), quoteIdent(tables[i].Name))
			if err := e.db.QueryRowContext(ctx, query).Scan(&rows); err != nil {
				result.AddWarning(fmt.Sprintf("failed to count rows of %s.%s: %v", schema, tables[i].Name, err))
				continue
			}
			tables[i].RowCount = &rows
		}
		result.Tables = append(result.Tables, tables...)
	}

	e.logger.Info("SQLite metadata extracted",
		zap.String("database", dbName),
		zap.Int("schemas", len(result.Schemas)),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) schemaNames(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, "SELECT name FROM pragma_database_list WHERE name <> 'temp' ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (e *Extractor) extractTables(ctx context.Context, schema string) ([]datasource.TableMetadata, error) {
	query := fmt.Sprintf(`
	SELECT name, type, COALESCE(sql, '')
	FROM %s.sqlite_master
	WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%'
	ORDER BY name`, quoteIdent(schema))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var name, kind, ddl string
		if err := rows.Scan(&name, &kind, &ddl); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)
		tableType := datasource.TableTypeTable
		if kind == "view" {
			tableType = datasource.TableTypeView
		}
		tables = append(tables, datasource.TableMetadata{
			Name:          name,
			QualifiedName: e.qualify(schema, name),
			SchemaName:    schema,
			DatabaseName:  e.config.Name(),
			TableType:     tableType,
			Properties: map[string]any{
				"without_rowid": strings.Contains(strings.ToUpper(ddl), "WITHOUT ROWID"),
				"strict":        strings.HasSuffix(strings.ToUpper(strings.TrimSpace(ddl)), "STRICT"),
			},
		})
	}
	return tables, rows.Err()
}

func (e *Extractor) extractColumns(ctx context.Context, table datasource.TableMetadata) ([]datasource.ColumnMetadata, error) {
	refs, err := e.foreignKeys(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("read foreign keys: %w", err)
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?, ?)`,
		table.Name, table.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var def sql.NullString
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)
		col := datasource.ColumnMetadata{
			Name:               name,
			TableQualifiedName: table.QualifiedName,
			OrdinalPosition:    cid + 1,
			DataType:           datasource.NormalizeDataType(dataType),
			IsNullable:         notNull == 0 && pk == 0,
			IsPrimaryKey:       pk > 0,
			Properties:         map[string]any{"raw_data_type": dataType},
		}
		if pk > 0 {
			col.Properties["primary_key_position"] = pk
		}
		if def.Valid {
			col.DefaultValue = &def.String
		}
		if ref, ok := refs[name]; ok {
			col.IsForeignKey = true
			col.ForeignKeyReference = &ref
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// foreignKeys maps a column name to its "table.column" reference.
func (e *Extractor) foreignKeys(ctx context.Context, table datasource.TableMetadata) (map[string]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT "from", "table", COALESCE("to", '') FROM pragma_foreign_key_list(?, ?)`,
		table.Name, table.SchemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var from, target, to string
		if err := rows.Scan(&from, &target, &to); err != nil {
			return nil, err
		}
		refs[datasource.SanitizeIdentifier(from)] = datasource.BuildQualifiedName(target, to)
	}
	return refs, rows.Err()
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
