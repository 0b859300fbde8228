package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

func assetsByName(assets []*models.Asset) map[string]*models.Asset {
	out := make(map[string]*models.Asset, len(assets))
	for _, a := range assets {
		out[a.QualifiedName] = a
	}
	return out
}

func TestMetadataPersistence_BuildsTree(t *testing.T) {
	repo := &memoryAssetRepo{}
	svc := NewMetadataPersistenceService(repo, nil)
	tenantID, dsID := uuid.New(), uuid.New()

	counts, err := svc.Persist(context.Background(), tenantID, dsID, "mysql", shopResult())
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	want := models.PersistCounts{Databases: 1, Schemas: 1, Tables: 2, Columns: 3}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}

	assets, fields := repo.snapshot()
	byName := assetsByName(assets)
	db := byName["mysql.db1.shop"]
	schema := byName["mysql.db1.shop.schema"]
	orders := byName["mysql.db1.shop.orders"]
	if db == nil || schema == nil || orders == nil {
		t.Fatalf("missing assets: %v", byName)
	}
	if db.ParentID != nil {
		t.Error("database should have no parent")
	}
	if schema.ParentID == nil || *schema.ParentID != db.ID {
		t.Error("schema should hang off the database")
	}
	if orders.ParentID == nil || *orders.ParentID != schema.ID {
		t.Error("table should hang off the schema")
	}
	if orders.Type != models.AssetTypeTable || orders.Properties.ConnectorType != "mysql" || !orders.IsActive {
		t.Errorf("unexpected table asset: %+v", orders)
	}
	if orders.NativeIdentity.SchemaName != "shop" || orders.NativeIdentity.DatabaseName != "shop" {
		t.Errorf("unexpected native identity: %+v", orders.NativeIdentity)
	}

	var ordersFields int
	for _, f := range fields {
		if f.AssetID == orders.ID {
			ordersFields++
			if !f.Properties.IsPrimaryKey {
				t.Error("expected orders.id to be a primary key")
			}
		}
	}
	if ordersFields != 1 {
		t.Errorf("expected 1 field on orders, got %d", ordersFields)
	}
}

func TestMetadataPersistence_ReplacesPreviousTree(t *testing.T) {
	repo := &memoryAssetRepo{}
	svc := NewMetadataPersistenceService(repo, nil)
	tenantID, dsID := uuid.New(), uuid.New()
	ctx := context.Background()

	if _, err := svc.Persist(ctx, tenantID, dsID, "mysql", shopResult()); err != nil {
		t.Fatalf("first Persist failed: %v", err)
	}

	smaller := shopResult()
	smaller.Tables = smaller.Tables[:1]
	smaller.Columns = smaller.Columns[:2]
	counts, err := svc.Persist(ctx, tenantID, dsID, "mysql", smaller)
	if err != nil {
		t.Fatalf("second Persist failed: %v", err)
	}
	if counts.Tables != 1 || counts.Columns != 2 {
		t.Errorf("unexpected counts: %+v", counts)
	}

	assets, fields := repo.snapshot()
	if len(assets) != 3 || len(fields) != 2 {
		t.Errorf("expected the old tree to be replaced, got %d assets and %d fields", len(assets), len(fields))
	}
	if _, stale := assetsByName(assets)["mysql.db1.shop.orders"]; stale {
		t.Error("dropped table is still catalogued")
	}
}

func TestMetadataPersistence_LeavesOtherDataSourcesAlone(t *testing.T) {
	repo := &memoryAssetRepo{}
	svc := NewMetadataPersistenceService(repo, nil)
	tenantID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Persist(ctx, tenantID, uuid.New(), "mysql", shopResult()); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if _, err := svc.Persist(ctx, tenantID, uuid.New(), "mysql", shopResult()); err != nil {
		t.Fatalf("Persist of second data source failed: %v", err)
	}

	assets, _ := repo.snapshot()
	if len(assets) != 8 {
		t.Errorf("expected both trees to coexist, got %d assets", len(assets))
	}
}

func TestMetadataPersistence_FlushFailureRollsBack(t *testing.T) {
	repo := &memoryAssetRepo{}
	svc := NewMetadataPersistenceService(repo, nil)
	tenantID, dsID := uuid.New(), uuid.New()
	ctx := context.Background()

	if _, err := svc.Persist(ctx, tenantID, dsID, "mysql", shopResult()); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	before, beforeFields := repo.snapshot()

	// Third InsertAssets call is the tables level.
	repo.failInsertAt = 3
	counts, err := svc.Persist(ctx, tenantID, dsID, "mysql", shopResult())
	if !errors.Is(err, errInsertFailed) {
		t.Fatalf("expected the flush error, got %v", err)
	}
	if !strings.Contains(err.Error(), "tables:") {
		t.Errorf("expected the failing level in the message, got %v", err)
	}
	if counts != (models.PersistCounts{}) {
		t.Errorf("expected zero counts on failure, got %+v", counts)
	}

	after, afterFields := repo.snapshot()
	if len(after) != len(before) || len(afterFields) != len(beforeFields) {
		t.Errorf("expected previous tree to survive, got %d assets (was %d)", len(after), len(before))
	}
	if assetsByName(after)["mysql.db1.shop.orders"].ID != assetsByName(before)["mysql.db1.shop.orders"].ID {
		t.Error("previous asset ids changed after rollback")
	}
}

func TestMetadataPersistence_RowErrorsAreSkipped(t *testing.T) {
	repo := &memoryAssetRepo{}
	svc := NewMetadataPersistenceService(repo, nil)

	result := shopResult()
	result.Databases = append(result.Databases,
		datasource.DatabaseMetadata{Name: "", QualifiedName: "mysql.db1.blank"},
		datasource.DatabaseMetadata{Name: "shop", QualifiedName: "mysql.db1.shop2"},
		datasource.DatabaseMetadata{Name: "weird", QualifiedName: "mysql.db1.weird", AssetType: "galaxy"},
	)
	result.Tables = append(result.Tables,
		datasource.TableMetadata{Name: "customers", QualifiedName: "mysql.db1.shop.customers", SchemaName: "shop", DatabaseName: "shop"},
		datasource.TableMetadata{Name: "nan", QualifiedName: "mysql.db1.shop.nan", SchemaName: "shop", DatabaseName: "shop",
			Properties: map[string]any{"ratio": math.NaN()}},
	)
	result.Columns = append(result.Columns,
		datasource.ColumnMetadata{Name: "ghost", TableQualifiedName: "mysql.db1.shop.missing"},
		datasource.ColumnMetadata{Name: "id", TableQualifiedName: "mysql.db1.shop.customers"},
		datasource.ColumnMetadata{Name: "", TableQualifiedName: "mysql.db1.shop.customers"},
	)

	counts, err := svc.Persist(context.Background(), uuid.New(), uuid.New(), "mysql", result)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	want := models.PersistCounts{Databases: 1, Schemas: 1, Tables: 2, Columns: 3, Errors: 8}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}
}

func TestMetadataPersistence_ParentFallbacks(t *testing.T) {
	repo := &memoryAssetRepo{}
	svc := NewMetadataPersistenceService(repo, nil)

	result := &datasource.ExtractionResult{
		Databases: []datasource.DatabaseMetadata{{Name: "lake", QualifiedName: "s3.lake", AssetType: models.AssetTypeBucket}},
		Schemas: []datasource.SchemaMetadata{
			{Name: "orphan", QualifiedName: "s3.nowhere.orphan", DatabaseName: "nowhere", AssetType: models.AssetTypePrefix},
		},
		Tables: []datasource.TableMetadata{
			{Name: "a.csv", QualifiedName: "s3.lake.a.csv", DatabaseName: "lake", SchemaName: "", TableType: datasource.TableTypeObject},
		},
		Columns: []datasource.ColumnMetadata{
			{Name: "col", TableQualifiedName: "s3.lake.a.csv"},
		},
	}

	if _, err := svc.Persist(context.Background(), uuid.New(), uuid.New(), "s3", result); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	assets, fields := repo.snapshot()
	byName := assetsByName(assets)
	if byName["s3.nowhere.orphan"].ParentID != nil {
		t.Error("schema with unknown database should have no parent")
	}
	obj := byName["s3.lake.a.csv"]
	if obj.Type != models.AssetTypeObject {
		t.Errorf("expected object type, got %s", obj.Type)
	}
	if obj.ParentID == nil || *obj.ParentID != byName["s3.lake"].ID {
		t.Error("table without schema should hang off its database")
	}
	if len(fields) != 1 || fields[0].DataType != "UNKNOWN" {
		t.Errorf("expected one UNKNOWN-typed field, got %+v", fields)
	}
}

func TestMetadataPersistence_NilResult(t *testing.T) {
	svc := NewMetadataPersistenceService(&memoryAssetRepo{}, nil)
	if _, err := svc.Persist(context.Background(), uuid.New(), uuid.New(), "mysql", nil); err == nil {
		t.Error("expected error for nil result")
	}
}
