package databricks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "databricks"

// Extractor crawls Unity Catalog: catalogs become databases, then schemas,
// tables and their columns.
type Extractor struct {
	config *Config
	client *client
	logger *zap.Logger
}

func NewExtractor(cfg *Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{config: cfg, client: newClient(cfg), logger: logger}
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

// TestConnection reads the configured catalog, or the catalog list when
// all catalogs are crawled.
func (e *Extractor) TestConnection(ctx context.Context) error {
	if err := e.config.CheckCredentials(); err != nil {
		return err
	}
	var err error
	if e.config.Catalog == AllCatalogs {
		_, err = e.client.listCatalogs(ctx)
	} else {
		_, err = e.client.getCatalog(ctx, e.config.Catalog)
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("access token rejected: %w", err)
		}
		return fmt.Errorf("unity catalog unreachable: %w", err)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType, e.config.Host()}, parts...)...)
}

func (e *Extractor) catalogs(ctx context.Context) ([]catalogInfo, error) {
	if e.config.Catalog == AllCatalogs {
		return e.client.listCatalogs(ctx)
	}
	c, err := e.client.getCatalog(ctx, e.config.Catalog)
	if err != nil {
		return nil, err
	}
	return []catalogInfo{*c}, nil
}

// ExtractMetadata walks catalogs, schemas and tables. Failing to list
// catalogs is fatal; a failing schema or table listing is recorded.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	result := &datasource.ExtractionResult{}

	catalogs, err := e.catalogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}

	for _, cat := range catalogs {
		result.Databases = append(result.Databases, datasource.DatabaseMetadata{
			Name:          datasource.SanitizeIdentifier(cat.Name),
			QualifiedName: e.qualify(cat.Name),
			Comment:       datasource.StringPtr(cat.Comment),
			Properties:    map[string]any{"owner": cat.Owner, "created_at": millisToRFC3339(cat.CreatedAt)},
		})

		schemas, err := e.client.listSchemas(ctx, cat.Name)
		if err != nil {
			result.AddError(fmt.Sprintf("failed to list schemas in catalog %s: %v", cat.Name, err))
			continue
		}
		for _, s := range schemas {
			if s.Name == "information_schema" {
				continue
			}
			result.Schemas = append(result.Schemas, datasource.SchemaMetadata{
				Name:          datasource.SanitizeIdentifier(s.Name),
				QualifiedName: e.qualify(cat.Name, s.Name),
				DatabaseName:  datasource.SanitizeIdentifier(cat.Name),
				Comment:       datasource.StringPtr(s.Comment),
				Properties:    map[string]any{"owner": s.Owner},
			})

			tables, err := e.client.listTables(ctx, cat.Name, s.Name)
			if err != nil {
				e.logger.Warn("Failed to list tables",
					zap.String("catalog", cat.Name),
					zap.String("schema", s.Name),
					zap.Error(err))
				result.AddError(fmt.Sprintf("failed to list tables in %s.%s: %v", cat.Name, s.Name, err))
				continue
			}
			for _, t := range tables {
				table := e.tableMetadata(cat.Name, s.Name, t)
				result.Tables = append(result.Tables, table)
				result.Columns = append(result.Columns, columnMetadata(table.QualifiedName, t.Columns)...)
			}
		}
	}

	e.logger.Info("Databricks metadata extracted",
		zap.String("workspace", e.config.Host()),
		zap.Int("catalogs", len(result.Databases)),
		zap.Int("schemas", len(result.Schemas)),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) tableMetadata(catalog, schema string, t tableInfo) datasource.TableMetadata {
	kind := datasource.TableTypeTable
	if t.TableType == "VIEW" || t.TableType == "MATERIALIZED_VIEW" {
		kind = datasource.TableTypeView
	}
	props := map[string]any{
		"table_type": t.TableType,
		"owner":      t.Owner,
	}
	if t.DataSourceFormat != "" {
		props["data_source_format"] = t.DataSourceFormat
	}
	if t.StorageLocation != "" {
		props["storage_location"] = t.StorageLocation
	}
	if t.UpdatedAt > 0 {
		props["updated_at"] = millisToRFC3339(t.UpdatedAt)
	}
	return datasource.TableMetadata{
		Name:          datasource.SanitizeIdentifier(t.Name),
		QualifiedName: e.qualify(catalog, schema, t.Name),
		SchemaName:    datasource.SanitizeIdentifier(schema),
		DatabaseName:  datasource.SanitizeIdentifier(catalog),
		TableType:     kind,
		Comment:       datasource.StringPtr(t.Comment),
		Properties:    props,
	}
}

func columnMetadata(tableQN string, cols []columnInfo) []datasource.ColumnMetadata {
	out := make([]datasource.ColumnMetadata, 0, len(cols))
	for i, c := range cols {
		ordinal := i + 1
		if c.Position != nil {
			ordinal = *c.Position + 1
		}
		dataType := c.TypeText
		if dataType == "" {
			dataType = c.TypeName
		}
		out = append(out, datasource.ColumnMetadata{
			Name:               datasource.SanitizeIdentifier(c.Name),
			TableQualifiedName: tableQN,
			OrdinalPosition:    ordinal,
			DataType:           datasource.NormalizeDataType(dataType),
			IsNullable:         c.Nullable == nil || *c.Nullable,
			DefaultValue:       c.Default,
			Comment:            datasource.StringPtr(c.Comment),
			Properties:         map[string]any{"type_name": c.TypeName},
		})
	}
	return out
}

func millisToRFC3339(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Close drops idle HTTP connections.
func (e *Extractor) Close() error {
	e.client.http.CloseIdleConnections()
	return nil
}

var _ datasource.Extractor = (*Extractor)(nil)
