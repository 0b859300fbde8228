package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/metrics"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
)

// MetadataPersistenceService replaces a data source's asset tree with the
// contents of an extraction result.
type MetadataPersistenceService interface {
	// Persist deletes the existing assets and fields of the data source and
	// writes the new tree level by level in one transaction. Rows that cannot
	// be built are skipped and counted in PersistCounts.Errors; a failed level
	// write rolls everything back.
	Persist(ctx context.Context, tenantID, dataSourceID uuid.UUID, connectorKey string, result *datasource.ExtractionResult) (models.PersistCounts, error)
}

type metadataPersistenceService struct {
	assetRepo repositories.AssetRepository
	logger    *zap.Logger
}

// NewMetadataPersistenceService creates a persistence service.
func NewMetadataPersistenceService(assetRepo repositories.AssetRepository, logger *zap.Logger) MetadataPersistenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &metadataPersistenceService{
		assetRepo: assetRepo,
		logger:    logger.Named("metadata-persistence"),
	}
}

var _ MetadataPersistenceService = (*metadataPersistenceService)(nil)

type schemaKey struct {
	database string
	schema   string
}

type columnKey struct {
	table  string
	column string
}

// treeBuilder holds the state of one Persist call: id maps per level and the
// qualified names already claimed.
type treeBuilder struct {
	tenantID     uuid.UUID
	dataSourceID uuid.UUID
	connectorKey string
	now          time.Time
	logger       *zap.Logger

	databaseIDs map[string]uuid.UUID
	schemaIDs   map[schemaKey]uuid.UUID
	tableIDs    map[string]uuid.UUID
	seenNames   map[string]struct{}

	counts models.PersistCounts
}

func (s *metadataPersistenceService) Persist(ctx context.Context, tenantID, dataSourceID uuid.UUID, connectorKey string, result *datasource.ExtractionResult) (models.PersistCounts, error) {
	if result == nil {
		return models.PersistCounts{}, fmt.Errorf("extraction result is required")
	}

	b := &treeBuilder{
		tenantID:     tenantID,
		dataSourceID: dataSourceID,
		connectorKey: connectorKey,
		now:          time.Now(),
		logger:       s.logger.With(zap.String("data_source_id", dataSourceID.String())),
		databaseIDs:  make(map[string]uuid.UUID),
		schemaIDs:    make(map[schemaKey]uuid.UUID),
		tableIDs:     make(map[string]uuid.UUID),
		seenNames:    make(map[string]struct{}),
	}

	err := s.assetRepo.InTx(ctx, func(tx repositories.AssetTx) error {
		if err := tx.LockDataSource(ctx, dataSourceID); err != nil {
			return err
		}
		fieldsDeleted, err := tx.DeleteFieldsByDataSource(ctx, tenantID, dataSourceID)
		if err != nil {
			return err
		}
		assetsDeleted, err := tx.DeleteAssetsByDataSource(ctx, tenantID, dataSourceID)
		if err != nil {
			return err
		}
		b.logger.Debug("Cleared existing catalog",
			zap.Int64("assets_deleted", assetsDeleted),
			zap.Int64("fields_deleted", fieldsDeleted))

		return b.write(ctx, tx, result)
	})
	if err != nil {
		return models.PersistCounts{}, fmt.Errorf("failed to persist metadata: %w", err)
	}

	metrics.RecordPersisted(b.counts.Databases, b.counts.Schemas, b.counts.Tables, b.counts.Columns, b.counts.Errors)

	b.logger.Info("Persisted metadata",
		zap.Int("databases", b.counts.Databases),
		zap.Int("schemas", b.counts.Schemas),
		zap.Int("tables", b.counts.Tables),
		zap.Int("columns", b.counts.Columns),
		zap.Int("row_errors", b.counts.Errors))

	return b.counts, nil
}

// write inserts each level and fills its id map only after the flush succeeded.
func (b *treeBuilder) write(ctx context.Context, tx repositories.AssetTx, result *datasource.ExtractionResult) error {
	databases, dbNames := b.buildDatabases(result.Databases)
	if _, err := tx.InsertAssets(ctx, databases); err != nil {
		return fmt.Errorf("databases: %w", err)
	}
	for i, a := range databases {
		b.databaseIDs[dbNames[i]] = a.ID
	}
	b.counts.Databases = len(databases)

	schemas, schemaKeys := b.buildSchemas(result.Schemas)
	if _, err := tx.InsertAssets(ctx, schemas); err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	for i, a := range schemas {
		b.schemaIDs[schemaKeys[i]] = a.ID
	}
	b.counts.Schemas = len(schemas)

	tables := b.buildTables(result.Tables)
	if _, err := tx.InsertAssets(ctx, tables); err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	for _, a := range tables {
		b.tableIDs[a.QualifiedName] = a.ID
	}
	b.counts.Tables = len(tables)

	fields := b.buildFields(result.Columns)
	if _, err := tx.InsertFields(ctx, fields); err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	b.counts.Columns = len(fields)

	return nil
}

func (b *treeBuilder) rowError(level, name, reason string) {
	b.counts.Errors++
	b.logger.Warn("Skipping metadata row",
		zap.String("level", level),
		zap.String("name", name),
		zap.String("reason", reason))
}

// claimName reserves a qualified name, reporting false if it is taken.
func (b *treeBuilder) claimName(qualifiedName string) bool {
	if _, dup := b.seenNames[qualifiedName]; dup {
		return false
	}
	b.seenNames[qualifiedName] = struct{}{}
	return true
}

func (b *treeBuilder) newAsset(assetType models.AssetType, qualifiedName, name string, parent *uuid.UUID, identity models.NativeIdentity, props models.AssetProperties) *models.Asset {
	return &models.Asset{
		ID:             uuid.New(),
		TenantID:       b.tenantID,
		DataSourceID:   b.dataSourceID,
		Type:           assetType,
		QualifiedName:  qualifiedName,
		DisplayName:    name,
		ParentID:       parent,
		NativeIdentity: identity,
		Properties:     props,
		IsActive:       true,
		CreatedAt:      b.now,
		UpdatedAt:      b.now,
	}
}

func encodable(v any) error {
	_, err := json.Marshal(v)
	return err
}

func (b *treeBuilder) buildDatabases(rows []datasource.DatabaseMetadata) ([]*models.Asset, []string) {
	assets := make([]*models.Asset, 0, len(rows))
	names := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		if row.Name == "" || row.QualifiedName == "" {
			b.rowError(metrics.LevelDatabase, row.QualifiedName, "missing name or qualified name")
			continue
		}
		if _, dup := seen[row.Name]; dup {
			b.rowError(metrics.LevelDatabase, row.QualifiedName, "duplicate database name "+row.Name)
			continue
		}
		assetType := row.AssetType
		if assetType == "" {
			assetType = models.AssetTypeDatabase
		}
		if !assetType.IsValid() {
			b.rowError(metrics.LevelDatabase, row.QualifiedName, "invalid asset type "+string(assetType))
			continue
		}
		props := models.AssetProperties{ConnectorType: b.connectorKey, Comment: row.Comment, Extra: row.Properties}
		if err := encodable(props); err != nil {
			b.rowError(metrics.LevelDatabase, row.QualifiedName, "properties are not JSON encodable: "+err.Error())
			continue
		}
		if !b.claimName(row.QualifiedName) {
			b.rowError(metrics.LevelDatabase, row.QualifiedName, "duplicate qualified name")
			continue
		}

		seen[row.Name] = struct{}{}
		identity := models.NativeIdentity{Name: row.Name, Type: string(assetType)}
		assets = append(assets, b.newAsset(assetType, row.QualifiedName, row.Name, nil, identity, props))
		names = append(names, row.Name)
	}
	return assets, names
}

func (b *treeBuilder) buildSchemas(rows []datasource.SchemaMetadata) ([]*models.Asset, []schemaKey) {
	assets := make([]*models.Asset, 0, len(rows))
	keys := make([]schemaKey, 0, len(rows))
	seen := make(map[schemaKey]struct{}, len(rows))

	for _, row := range rows {
		if row.Name == "" || row.QualifiedName == "" {
			b.rowError(metrics.LevelSchema, row.QualifiedName, "missing name or qualified name")
			continue
		}
		key := schemaKey{database: row.DatabaseName, schema: row.Name}
		if _, dup := seen[key]; dup {
			b.rowError(metrics.LevelSchema, row.QualifiedName, "duplicate schema "+row.DatabaseName+"."+row.Name)
			continue
		}
		assetType := row.AssetType
		if assetType == "" {
			assetType = models.AssetTypeSchema
		}
		if !assetType.IsValid() {
			b.rowError(metrics.LevelSchema, row.QualifiedName, "invalid asset type "+string(assetType))
			continue
		}
		props := models.AssetProperties{ConnectorType: b.connectorKey, Comment: row.Comment, Extra: row.Properties}
		if err := encodable(props); err != nil {
			b.rowError(metrics.LevelSchema, row.QualifiedName, "properties are not JSON encodable: "+err.Error())
			continue
		}
		if !b.claimName(row.QualifiedName) {
			b.rowError(metrics.LevelSchema, row.QualifiedName, "duplicate qualified name")
			continue
		}

		var parent *uuid.UUID
		if id, ok := b.databaseIDs[row.DatabaseName]; ok {
			parent = &id
		}

		seen[key] = struct{}{}
		identity := models.NativeIdentity{Name: row.Name, Type: string(assetType), DatabaseName: row.DatabaseName}
		assets = append(assets, b.newAsset(assetType, row.QualifiedName, row.Name, parent, identity, props))
		keys = append(keys, key)
	}
	return assets, keys
}

func tableAssetType(tableType string) models.AssetType {
	switch tableType {
	case datasource.TableTypeView:
		return models.AssetTypeView
	case datasource.TableTypeObject:
		return models.AssetTypeObject
	default:
		return models.AssetTypeTable
	}
}

func (b *treeBuilder) buildTables(rows []datasource.TableMetadata) []*models.Asset {
	assets := make([]*models.Asset, 0, len(rows))

	for _, row := range rows {
		if row.Name == "" || row.QualifiedName == "" {
			b.rowError(metrics.LevelTable, row.QualifiedName, "missing name or qualified name")
			continue
		}
		assetType := tableAssetType(row.TableType)
		props := models.AssetProperties{
			ConnectorType: b.connectorKey,
			Comment:       row.Comment,
			RowCount:      row.RowCount,
			SizeBytes:     row.SizeBytes,
			Extra:         row.Properties,
		}
		if err := encodable(props); err != nil {
			b.rowError(metrics.LevelTable, row.QualifiedName, "properties are not JSON encodable: "+err.Error())
			continue
		}
		if !b.claimName(row.QualifiedName) {
			b.rowError(metrics.LevelTable, row.QualifiedName, "duplicate qualified name")
			continue
		}

		// Tables hang off their schema, or off the database when the schema is unknown.
		var parent *uuid.UUID
		if id, ok := b.schemaIDs[schemaKey{database: row.DatabaseName, schema: row.SchemaName}]; ok {
			parent = &id
		} else if id, ok := b.databaseIDs[row.DatabaseName]; ok {
			parent = &id
		}

		identity := models.NativeIdentity{
			Name:         row.Name,
			Type:         string(assetType),
			DatabaseName: row.DatabaseName,
			SchemaName:   row.SchemaName,
			TableType:    row.TableType,
		}
		assets = append(assets, b.newAsset(assetType, row.QualifiedName, row.Name, parent, identity, props))
	}
	return assets
}

func (b *treeBuilder) buildFields(rows []datasource.ColumnMetadata) []*models.AssetField {
	fields := make([]*models.AssetField, 0, len(rows))
	seen := make(map[columnKey]struct{}, len(rows))

	for _, row := range rows {
		label := row.TableQualifiedName + "." + row.Name
		if row.Name == "" {
			b.rowError(metrics.LevelColumn, label, "missing column name")
			continue
		}
		assetID, ok := b.tableIDs[row.TableQualifiedName]
		if !ok {
			b.rowError(metrics.LevelColumn, label, "parent table not found")
			continue
		}
		key := columnKey{table: row.TableQualifiedName, column: row.Name}
		if _, dup := seen[key]; dup {
			b.rowError(metrics.LevelColumn, label, "duplicate column")
			continue
		}
		props := models.FieldProperties{
			IsPrimaryKey:        row.IsPrimaryKey,
			IsForeignKey:        row.IsForeignKey,
			ForeignKeyReference: row.ForeignKeyReference,
			Extra:               row.Properties,
		}
		if err := encodable(props); err != nil {
			b.rowError(metrics.LevelColumn, label, "properties are not JSON encodable: "+err.Error())
			continue
		}

		dataType := row.DataType
		if dataType == "" {
			dataType = datasource.NormalizeDataType("")
		}

		seen[key] = struct{}{}
		fields = append(fields, &models.AssetField{
			ID:                uuid.New(),
			TenantID:          b.tenantID,
			AssetID:           assetID,
			Name:              row.Name,
			OrdinalPosition:   row.OrdinalPosition,
			DataType:          dataType,
			IsNullable:        row.IsNullable,
			DefaultExpression: row.DefaultValue,
			Comment:           row.Comment,
			Properties:        props,
			CreatedAt:         b.now,
			UpdatedAt:         b.now,
		})
	}
	return fields
}
