package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetType classifies a catalogued asset.
type AssetType string

const (
	AssetTypeDatabase    AssetType = "database"
	AssetTypeSchema      AssetType = "schema"
	AssetTypeTable       AssetType = "table"
	AssetTypeView        AssetType = "view"
	AssetTypeColumn      AssetType = "column"
	AssetTypeBucket      AssetType = "bucket"
	AssetTypePrefix      AssetType = "prefix"
	AssetTypeObject      AssetType = "object"
	AssetTypeDocumentSet AssetType = "document_set"
	AssetTypeDocument    AssetType = "document"
)

// ValidAssetTypes lists every asset type the catalog accepts.
var ValidAssetTypes = []AssetType{
	AssetTypeDatabase, AssetTypeSchema, AssetTypeTable, AssetTypeView, AssetTypeColumn,
	AssetTypeBucket, AssetTypePrefix, AssetTypeObject, AssetTypeDocumentSet, AssetTypeDocument,
}

// IsValid reports whether t is a known asset type.
func (t AssetType) IsValid() bool {
	for _, v := range ValidAssetTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Asset is one node of a data source's catalogued hierarchy.
// Unique per (tenant_id, data_source_id, qualified_name).
type Asset struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	DataSourceID   uuid.UUID       `json:"data_source_id"`
	Type           AssetType       `json:"type"`
	QualifiedName  string          `json:"qualified_name"`
	DisplayName    string          `json:"display_name"`
	ParentID       *uuid.UUID      `json:"parent_id,omitempty"`
	NativeIdentity NativeIdentity  `json:"native_identity"`
	Properties     AssetProperties `json:"properties"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NativeIdentity locates the asset inside the source system.
type NativeIdentity struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	DatabaseName string `json:"database_name,omitempty"`
	SchemaName   string `json:"schema_name,omitempty"`
	TableType    string `json:"table_type,omitempty"`
}

// AssetProperties holds the common descriptive attributes of an asset.
// Extra carries connector-specific values that have no typed field.
type AssetProperties struct {
	ConnectorType string         `json:"connector_type,omitempty"`
	Comment       *string        `json:"comment,omitempty"`
	RowCount      *int64         `json:"row_count,omitempty"`
	SizeBytes     *int64         `json:"size_bytes,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// AssetField is a column-level child of an asset.
// Unique per (tenant_id, asset_id, name).
type AssetField struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	AssetID           uuid.UUID       `json:"asset_id"`
	Name              string          `json:"name"`
	OrdinalPosition   int             `json:"ordinal_position"`
	DataType          string          `json:"data_type"`
	IsNullable        bool            `json:"is_nullable"`
	DefaultExpression *string         `json:"default_expression,omitempty"`
	Comment           *string         `json:"comment,omitempty"`
	Properties        FieldProperties `json:"properties"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// FieldProperties holds key flags of a field plus connector-specific extras.
type FieldProperties struct {
	IsPrimaryKey        bool           `json:"is_primary_key"`
	IsForeignKey        bool           `json:"is_foreign_key"`
	ForeignKeyReference *string        `json:"foreign_key_reference,omitempty"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// PersistCounts reports how many rows of each level a sync wrote.
// Errors counts rows that were skipped.
type PersistCounts struct {
	Databases int `json:"databases"`
	Schemas   int `json:"schemas"`
	Tables    int `json:"tables"`
	Columns   int `json:"columns"`
	Errors    int `json:"errors"`
}
