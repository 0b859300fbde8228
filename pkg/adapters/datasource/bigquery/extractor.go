package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "bigquery"

// Extractor maps a GCP project to a database and its datasets to schemas.
// RECORD fields are flattened into dotted column names.
type Extractor struct {
	config *Config
	client bqClient
	logger *zap.Logger
}

// NewExtractor creates the API client. No request is made until used.
func NewExtractor(cfg *Config, logger *zap.Logger) (*Extractor, error) {
	client, err := newGCPClient(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return newExtractorWithClient(cfg, client, logger), nil
}

func newExtractorWithClient(cfg *Config, client bqClient, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{config: cfg, client: client, logger: logger}
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

	if err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("list datasets in %s: %w", e.config.ProjectID, err)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType}, parts...)...)
}

func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	result := &datasource.ExtractionResult{}
	project := datasource.SanitizeIdentifier(e.config.ProjectID)

	datasets, err := e.client.Datasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	result.Databases = append(result.Databases, datasource.DatabaseMetadata{
		Name:          project,
		QualifiedName: e.qualify(project),
		Properties:    map[string]any{"location": e.config.Location},
	})

	for _, ds := range datasets {
		if e.config.DatasetID != "" && ds.ID != e.config.DatasetID {
			continue
		}
		props := map[string]any{"location": ds.Location}
		if len(ds.Labels) > 0 {
			props["labels"] = ds.Labels
		}
		result.Schemas = append(result.Schemas, datasource.SchemaMetadata{
			Name:          datasource.SanitizeIdentifier(ds.ID),
			QualifiedName: e.qualify(project, ds.ID),
			DatabaseName:  project,
			Comment:       datasource.StringPtr(ds.Description),
			Properties:    props,
		})

		tableIDs, err := e.client.TableIDs(ctx, ds.ID)
		if err != nil {
			result.AddError(fmt.Sprintf("failed to list tables in dataset %s: %v", ds.ID, err))
			continue
		}
		for _, id := range tableIDs {
			md, err := e.client.TableMetadata(ctx, ds.ID, id)
			if err != nil {
				e.logger.Warn("Failed to read table metadata",
					zap.String("dataset", ds.ID),
					zap.String("table", id),
					zap.Error(err))
				result.AddError(fmt.Sprintf("failed to read table %s.%s: %v", ds.ID, id, err))
				continue
			}
			table := e.tableMetadata(ds.ID, id, md)
			result.Tables = append(result.Tables, table)
			result.Columns = append(result.Columns, flattenSchema(table.QualifiedName, md.Schema)...)
		}
	}

	e.logger.Info("BigQuery metadata extracted",
		zap.String("project", project),
		zap.Int("datasets", len(result.Schemas)),
		zap.Int("tables", len(result.Tables)),
		zap.Int("columns", len(result.Columns)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

func (e *Extractor) tableMetadata(dataset, id string, md *bq.TableMetadata) datasource.TableMetadata {
	kind := datasource.TableTypeTable
	if md.Type == bq.ViewTable || md.Type == bq.MaterializedView {
		kind = datasource.TableTypeView
	}

	props := map[string]any{"table_type": string(md.Type)}
	if !md.CreationTime.IsZero() {
		props["created"] = md.CreationTime.UTC().Format(time.RFC3339)
	}
	if !md.LastModifiedTime.IsZero() {
		props["last_modified"] = md.LastModifiedTime.UTC().Format(time.RFC3339)
	}
	if md.TimePartitioning != nil {
		props["partition_field"] = md.TimePartitioning.Field
	}
	if md.Clustering != nil && len(md.Clustering.Fields) > 0 {
		props["clustering_fields"] = md.Clustering.Fields
	}

	table := datasource.TableMetadata{
		Name:          datasource.SanitizeIdentifier(id),
		QualifiedName: e.qualify(e.config.ProjectID, dataset, id),
		SchemaName:    datasource.SanitizeIdentifier(dataset),
		DatabaseName:  datasource.SanitizeIdentifier(e.config.ProjectID),
		TableType:     kind,
		Comment:       datasource.StringPtr(md.Description),
		Properties:    props,
	}
	if kind == datasource.TableTypeTable {
		rows := int64(md.NumRows)
		bytes := md.NumBytes
		table.RowCount = &rows
		table.SizeBytes = &bytes
	}
	return table
}

// flattenSchema lists leaf and RECORD fields depth-first with dotted names.
func flattenSchema(tableQN string, schema bq.Schema) []datasource.ColumnMetadata {
	var out []datasource.ColumnMetadata
	var walk func(prefix string, fields bq.Schema)
	walk = func(prefix string, fields bq.Schema) {
		for _, f := range fields {
			name := datasource.SanitizeIdentifier(f.Name)
			if prefix != "" {
				name = prefix + "." + name
			}
			dataType := string(f.Type)
			if f.Repeated {
				dataType = "ARRAY<" + dataType + ">"
			}
			out = append(out, datasource.ColumnMetadata{
				Name:               name,
				TableQualifiedName: tableQN,
				OrdinalPosition:    len(out) + 1,
				DataType:           datasource.NormalizeDataType(dataType),
				IsNullable:         !f.Required,
				Comment:            datasource.StringPtr(f.Description),
				Properties: map[string]any{
					"mode":   fieldMode(f),
					"nested": strings.Contains(name, "."),
				},
			})
			if f.Type == bq.RecordFieldType {
				walk(name, f.Schema)
			}
		}
	}
	walk("", schema)
	return out
}

func fieldMode(f *bq.FieldSchema) string {
	switch {
	case f.Repeated:
		return "REPEATED"
	case f.Required:
		return "REQUIRED"
	}
	return "NULLABLE"
}

func (e *Extractor) Close() error {
	return e.client.Close()
}

var _ datasource.Extractor = (*Extractor)(nil)
