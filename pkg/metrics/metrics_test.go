package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPersisted(t *testing.T) {
	beforeTables := testutil.ToFloat64(AssetsPersisted.WithLabelValues(LevelTable))
	beforeErrors := testutil.ToFloat64(PersistRowErrors)

	RecordPersisted(1, 2, 3, 4, 5)

	assert.Equal(t, beforeTables+3, testutil.ToFloat64(AssetsPersisted.WithLabelValues(LevelTable)))
	assert.Equal(t, beforeErrors+5, testutil.ToFloat64(PersistRowErrors))
}

func TestSyncRunsLabels(t *testing.T) {
	c := SyncRuns.WithLabelValues("mysql", "succeeded")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
