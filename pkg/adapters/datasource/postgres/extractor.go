package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "postgresql"

// systemSchemas are never catalogued.
var systemSchemas = []string{"pg_catalog", "information_schema", "pg_toast"}

// Extractor reads PostgreSQL metadata from information_schema and pg_catalog.
// The configured database is the single database asset; every user schema
// beneath it is crawled unless Config.Schema narrows the crawl.
type Extractor struct {
	config *Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewExtractor creates a pool for cfg. pgxpool connects lazily, so no I/O
// happens until the first call.
func NewExtractor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Extractor, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres connection string: %w", err)
	}
	poolConfig.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{config: cfg, pool: pool, logger: logger}, nil
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

// TestConnection checks connectivity, query access and that the server put
// us in the configured database rather than a default one.
func (e *Extractor) TestConnection(ctx context.Context) error {
	if err := e.config.CheckCredentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.ConnectionTimeout)*time.Second)
	defer cancel()

	if err := e.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := e.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if !strings.EqualFold(currentDB, e.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", e.config.Database, currentDB)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType, e.config.Host}, parts...)...)
}

// ExtractMetadata crawls the database. Failure to read the database or its
// schema list is fatal; per-table failures are recorded and skipped.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
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
	if len(schemas) == 0 {
		result.AddWarning(fmt.Sprintf("no user schemas found in database %s", dbName))
		return result.Finalize(), nil
	}

	schemaNames := make([]string, len(schemas))
	for i, s := range schemas {
		schemaNames[i] = s.Name
	}

	tables, err := e.extractTables(ctx, dbName, schemaNames)
	if err != nil {
		result.AddError(fmt.Sprintf("failed to list tables in %s: %v", dbName, err))
		return result.Finalize(), nil
	}
	result.Tables = tables

	foreignKeys, err := e.foreignKeys(ctx, schemaNames)
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

	e.logger.Info("PostgreSQL metadata extracted",
		zap.String("database", dbName),
		zap.Int("schemas", len(result.Schemas)),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) extractDatabase(ctx context.Context) (*datasource.DatabaseMetadata, error) {
	const query = `
		SELECT d.datname, pg_encoding_to_char(d.encoding), d.datcollate,
		       pg_database_size(d.datname), shobj_description(d.oid, 'pg_database')
		FROM pg_database d
		WHERE d.datname = current_database()`

	var name, encoding, collation string
	var size int64
	var comment *string
	if err := e.pool.QueryRow(ctx, query).Scan(&name, &encoding, &collation, &size, &comment); err != nil {
		return nil, fmt.Errorf("query database info: %w", err)
	}
	name = datasource.SanitizeIdentifier(name)

	return &datasource.DatabaseMetadata{
		Name:          name,
		QualifiedName: e.qualify(name),
		Comment:       comment,
		Properties: map[string]any{
			"encoding":   encoding,
			"collation":  collation,
			"size_bytes": size,
		},
	}, nil
}

func (e *Extractor) extractSchemas(ctx context.Context, dbName string) ([]datasource.SchemaMetadata, error) {
	const query = `
		SELECT n.nspname, pg_get_userbyid(n.nspowner), obj_description(n.oid, 'pg_namespace')
		FROM pg_namespace n
		WHERE n.nspname <> ALL($1)
		  AND n.nspname NOT LIKE 'pg_temp_%'
		  AND n.nspname NOT LIKE 'pg_toast_temp_%'
		  AND ($2 = '' OR n.nspname = $2)
		ORDER BY n.nspname`

	rows, err := e.pool.Query(ctx, query, systemSchemas, e.config.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []datasource.SchemaMetadata
	for rows.Next() {
		var name, owner string
		var comment *string
		if err := rows.Scan(&name, &owner, &comment); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)
		schemas = append(schemas, datasource.SchemaMetadata{
			Name:          name,
			QualifiedName: e.qualify(dbName, name),
			DatabaseName:  dbName,
			Comment:       comment,
			Properties:    map[string]any{"owner": owner},
		})
	}
	return schemas, rows.Err()
}

func (e *Extractor) extractTables(ctx context.Context, dbName string, schemas []string) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT t.table_schema, t.table_name, t.table_type,
		       CASE WHEN c.reltuples < 0 THEN NULL ELSE c.reltuples::bigint END,
		       pg_total_relation_size(c.oid),
		       obj_description(c.oid, 'pg_class'),
		       pg_get_userbyid(c.relowner)
		FROM information_schema.tables t
		JOIN pg_namespace n ON n.nspname = t.table_schema
		JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_schema = ANY($1)
		ORDER BY t.table_schema, t.table_name`

	rows, err := e.pool.Query(ctx, query, schemas)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var schema, name, tableType, owner string
		var rowCount, size *int64
		var comment *string
		if err := rows.Scan(&schema, &name, &tableType, &rowCount, &size, &comment, &owner); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		schema = datasource.SanitizeIdentifier(schema)
		name = datasource.SanitizeIdentifier(name)

		kind := datasource.TableTypeTable
		if tableType == "VIEW" {
			kind = datasource.TableTypeView
		}
		tables = append(tables, datasource.TableMetadata{
			Name:          name,
			QualifiedName: e.qualify(dbName, schema, name),
			SchemaName:    schema,
			DatabaseName:  dbName,
			TableType:     kind,
			Comment:       comment,
			RowCount:      rowCount,
			SizeBytes:     size,
			Properties: map[string]any{
				"table_type": tableType,
				"owner":      owner,
			},
		})
	}
	return tables, rows.Err()
}

// foreignKeys maps "schema.table.column" to the referenced "schema.table.column".
func (e *Extractor) foreignKeys(ctx context.Context, schemas []string) (map[string]string, error) {
	const query = `
		SELECT kcu.table_schema, kcu.table_name, kcu.column_name,
		       ccu.table_schema, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = ANY($1)`

	rows, err := e.pool.Query(ctx, query, schemas)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var srcSchema, srcTable, srcColumn, dstSchema, dstTable, dstColumn string
		if err := rows.Scan(&srcSchema, &srcTable, &srcColumn, &dstSchema, &dstTable, &dstColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		refs[datasource.BuildQualifiedName(srcSchema, srcTable, srcColumn)] = datasource.BuildQualifiedName(dstSchema, dstTable, dstColumn)
	}
	return refs, rows.Err()
}

func (e *Extractor) extractColumns(ctx context.Context, table datasource.TableMetadata, foreignKeys map[string]string) ([]datasource.ColumnMetadata, error) {
	// pg_index.indisprimary detects PKs even when they were created as unique indexes.
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.is_nullable = 'YES',
			COALESCE(pk.is_pk, false),
			c.ordinal_position::int,
			c.column_default,
			c.character_maximum_length::int,
			c.numeric_precision::int,
			c.numeric_scale::int,
			col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position::int)
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := e.pool.Query(ctx, query, table.SchemaName, table.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var name, dataType, udtName string
		var nullable, isPK bool
		var ordinal int
		var def, comment *string
		var maxLength, precision, scale *int32
		if err := rows.Scan(&name, &dataType, &udtName, &nullable, &isPK, &ordinal, &def,
			&maxLength, &precision, &scale, &comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		name = datasource.SanitizeIdentifier(name)

		col := datasource.ColumnMetadata{
			Name:               name,
			TableQualifiedName: table.QualifiedName,
			OrdinalPosition:    ordinal,
			DataType:           datasource.NormalizeDataType(dataType),
			IsNullable:         nullable,
			DefaultValue:       def,
			Comment:            comment,
			IsPrimaryKey:       isPK,
			Properties: map[string]any{
				"raw_data_type":            dataType,
				"udt_name":                 udtName,
				"character_maximum_length": int32Value(maxLength),
				"numeric_precision":        int32Value(precision),
				"numeric_scale":            int32Value(scale),
			},
		}
		if ref, ok := foreignKeys[datasource.BuildQualifiedName(table.SchemaName, table.Name, name)]; ok {
			col.IsForeignKey = true
			col.ForeignKeyReference = &ref
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func int32Value(v *int32) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

// Close releases the pool.
func (e *Extractor) Close() error {
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}

// Ensure Extractor implements datasource.Extractor at compile time.
var _ datasource.Extractor = (*Extractor)(nil)

