package datasource

import "github.com/ekaya-inc/ekaya-catalog/pkg/models"

// ExtractionStatus summarizes how much of a crawl succeeded.
type ExtractionStatus string

const (
	ExtractionStatusSuccess ExtractionStatus = "success"
	ExtractionStatusPartial ExtractionStatus = "partial"
	ExtractionStatusFailed  ExtractionStatus = "failed"
)

// Table types reported on TableMetadata.TableType.
const (
	TableTypeTable  = "TABLE"
	TableTypeView   = "VIEW"
	TableTypeObject = "OBJECT"
)

// DatabaseMetadata is a top-level container: a database, catalog, project or bucket.
type DatabaseMetadata struct {
	Name          string
	QualifiedName string
	AssetType     models.AssetType // defaults to database
	Comment       *string
	Properties    map[string]any
}

// SchemaMetadata is a namespace inside a database (or a prefix inside a bucket).
type SchemaMetadata struct {
	Name          string
	QualifiedName string
	DatabaseName  string
	AssetType     models.AssetType // defaults to schema
	Comment       *string
	Properties    map[string]any
}

// TableMetadata is a table, view or object.
type TableMetadata struct {
	Name          string
	QualifiedName string
	SchemaName    string
	DatabaseName  string
	TableType     string
	Comment       *string
	RowCount      *int64
	SizeBytes     *int64
	Properties    map[string]any
}

// ColumnMetadata describes one column of a table. TableQualifiedName links
// it to its parent TableMetadata.
type ColumnMetadata struct {
	Name                string
	TableQualifiedName  string
	OrdinalPosition     int
	DataType            string
	IsNullable          bool
	DefaultValue        *string
	Comment             *string
	IsPrimaryKey        bool
	IsForeignKey        bool
	ForeignKeyReference *string
	Properties          map[string]any
}

// ExtractionResult is the full output of one crawl.
type ExtractionResult struct {
	Status    ExtractionStatus
	Databases []DatabaseMetadata
	Schemas   []SchemaMetadata
	Tables    []TableMetadata
	Columns   []ColumnMetadata
	Errors    []string
	Warnings  []string
}

// AddError records a non-fatal failure.
func (r *ExtractionResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning records something the caller should know about.
func (r *ExtractionResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// IsEmpty reports whether no metadata of any level was collected.
func (r *ExtractionResult) IsEmpty() bool {
	return len(r.Databases) == 0 && len(r.Schemas) == 0 && len(r.Tables) == 0 && len(r.Columns) == 0
}

// ComputeStatus derives the status from the collected data and errors:
// failed when there are errors and nothing was collected, partial when there
// are errors alongside some data, success otherwise.
func (r *ExtractionResult) ComputeStatus() ExtractionStatus {
	switch {
	case len(r.Errors) == 0:
		return ExtractionStatusSuccess
	case r.IsEmpty():
		return ExtractionStatusFailed
	default:
		return ExtractionStatusPartial
	}
}

// Finalize stores the computed status and returns the result.
func (r *ExtractionResult) Finalize() *ExtractionResult {
	r.Status = r.ComputeStatus()
	return r
}
