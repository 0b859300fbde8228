//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestGetTestDB_Connection(t *testing.T) {
	testDB := GetTestDB(t)

	var name string
	if err := testDB.Pool.QueryRow(context.Background(), "SELECT current_database()").Scan(&name); err != nil {
		t.Fatalf("failed to query current database: %v", err)
	}
	if name != TestDBName {
		t.Errorf("expected database %q, got %q", TestDBName, name)
	}
}

func TestGetCatalogDB_MigrationsApplied(t *testing.T) {
	catalogDB := GetCatalogDB(t)

	ctx := context.Background()

	for _, table := range []string{"data_sources", "connector_definitions", "connector_runs", "assets", "asset_fields"} {
		var exists bool
		err := catalogDB.DB.Pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist", table)
		}
	}
}
