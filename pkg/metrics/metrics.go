// Package metrics exposes Prometheus collectors for metadata sync runs.
// Collectors register with the default registry on package load and are
// served by the worker's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Asset levels used as the "level" label.
const (
	LevelDatabase = "database"
	LevelSchema   = "schema"
	LevelTable    = "table"
	LevelColumn   = "column"
)

var (
	// SyncRuns counts finished sync runs by connector and terminal status.
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_runs_total",
			Help: "Metadata sync runs by connector and terminal status",
		},
		[]string{"connector", "status"},
	)

	// SyncDuration observes wall-clock duration of sync runs.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_sync_duration_seconds",
			Help:    "Metadata sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"connector"},
	)

	// AssetsPersisted counts assets and fields written, by level.
	AssetsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_assets_persisted_total",
			Help: "Catalog rows written by metadata syncs, by asset level",
		},
		[]string{"level"},
	)

	// PersistRowErrors counts rows skipped during persistence.
	PersistRowErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_persist_row_errors_total",
			Help: "Extracted rows rejected while persisting the catalog",
		},
	)
)

// RecordPersisted adds one sync's persisted counts to AssetsPersisted and PersistRowErrors.
func RecordPersisted(databases, schemas, tables, columns, rowErrors int) {
	AssetsPersisted.WithLabelValues(LevelDatabase).Add(float64(databases))
	AssetsPersisted.WithLabelValues(LevelSchema).Add(float64(schemas))
	AssetsPersisted.WithLabelValues(LevelTable).Add(float64(tables))
	AssetsPersisted.WithLabelValues(LevelColumn).Add(float64(columns))
	PersistRowErrors.Add(float64(rowErrors))
}
