package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-catalog/pkg/database"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

// AssetTx is the write surface used while replacing a data source's asset tree.
// All calls share one transaction.
type AssetTx interface {
	// LockDataSource takes a transaction-scoped advisory lock so concurrent
	// replacements of the same data source serialize.
	LockDataSource(ctx context.Context, dataSourceID uuid.UUID) error

	DeleteFieldsByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) (int64, error)
	DeleteAssetsByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) (int64, error)

	// InsertAssets writes one level with a single COPY. IDs must already be set.
	InsertAssets(ctx context.Context, assets []*models.Asset) (int64, error)

	// InsertFields writes asset fields with a single COPY. IDs must already be set.
	InsertFields(ctx context.Context, fields []*models.AssetField) (int64, error)
}

// AssetRepository reads the catalog and opens replacement transactions.
type AssetRepository interface {
	// InTx runs fn in a transaction on the scoped connection. The transaction
	// commits only if fn returns nil.
	InTx(ctx context.Context, fn func(tx AssetTx) error) error

	ListByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) ([]*models.Asset, error)
	ListFields(ctx context.Context, tenantID, assetID uuid.UUID) ([]*models.AssetField, error)
	CountByType(ctx context.Context, tenantID, dataSourceID uuid.UUID) (map[models.AssetType]int, error)
}

type assetRepository struct{}

// NewAssetRepository creates a new asset repository.
func NewAssetRepository() AssetRepository {
	return &assetRepository{}
}

var (
	_ AssetRepository = (*assetRepository)(nil)
	_ AssetTx         = (*assetTx)(nil)
)

var assetCopyColumns = []string{
	"id", "tenant_id", "data_source_id", "asset_type", "qualified_name", "display_name",
	"parent_id", "native_identity", "properties", "is_active", "created_at", "updated_at",
}

var fieldCopyColumns = []string{
	"id", "tenant_id", "asset_id", "name", "ordinal_position", "data_type", "is_nullable",
	"default_expression", "comment", "properties", "created_at", "updated_at",
}

func (r *assetRepository) InTx(ctx context.Context, fn func(tx AssetTx) error) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := fn(&assetTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type assetTx struct {
	tx pgx.Tx
}

func (t *assetTx) LockDataSource(ctx context.Context, dataSourceID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", dataSourceID.String()); err != nil {
		return fmt.Errorf("failed to lock data source: %w", err)
	}
	return nil
}

func (t *assetTx) DeleteFieldsByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM asset_fields
		WHERE tenant_id = $1
		  AND asset_id IN (SELECT id FROM assets WHERE tenant_id = $1 AND data_source_id = $2)`,
		tenantID, dataSourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete asset fields: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *assetTx) DeleteAssetsByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM assets WHERE tenant_id = $1 AND data_source_id = $2`,
		tenantID, dataSourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete assets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *assetTx) InsertAssets(ctx context.Context, assets []*models.Asset) (int64, error) {
	if len(assets) == 0 {
		return 0, nil
	}

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"assets"}, assetCopyColumns,
		pgx.CopyFromSlice(len(assets), func(i int) ([]any, error) {
			a := assets[i]
			identity, err := json.Marshal(a.NativeIdentity)
			if err != nil {
				return nil, fmt.Errorf("native identity of %s: %w", a.QualifiedName, err)
			}
			props, err := json.Marshal(a.Properties)
			if err != nil {
				return nil, fmt.Errorf("properties of %s: %w", a.QualifiedName, err)
			}
			return []any{
				a.ID, a.TenantID, a.DataSourceID, string(a.Type), a.QualifiedName, a.DisplayName,
				a.ParentID, identity, props, a.IsActive, a.CreatedAt, a.UpdatedAt,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to copy assets: %w", err)
	}
	return n, nil
}

func (t *assetTx) InsertFields(ctx context.Context, fields []*models.AssetField) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"asset_fields"}, fieldCopyColumns,
		pgx.CopyFromSlice(len(fields), func(i int) ([]any, error) {
			f := fields[i]
			props, err := json.Marshal(f.Properties)
			if err != nil {
				return nil, fmt.Errorf("properties of field %s: %w", f.Name, err)
			}
			return []any{
				f.ID, f.TenantID, f.AssetID, f.Name, int32(f.OrdinalPosition), f.DataType, f.IsNullable,
				f.DefaultExpression, f.Comment, props, f.CreatedAt, f.UpdatedAt,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to copy asset fields: %w", err)
	}
	return n, nil
}

func (r *assetRepository) ListByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) ([]*models.Asset, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, tenant_id, data_source_id, asset_type, qualified_name, display_name, parent_id,
			native_identity, properties, is_active, created_at, updated_at
		FROM assets
		WHERE tenant_id = $1 AND data_source_id = $2
		ORDER BY qualified_name`, tenantID, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.DataSourceID, &a.Type, &a.QualifiedName, &a.DisplayName, &a.ParentID,
			&a.NativeIdentity, &a.Properties, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

func (r *assetRepository) ListFields(ctx context.Context, tenantID, assetID uuid.UUID) ([]*models.AssetField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, tenant_id, asset_id, name, ordinal_position, data_type, is_nullable,
			default_expression, comment, properties, created_at, updated_at
		FROM asset_fields
		WHERE tenant_id = $1 AND asset_id = $2
		ORDER BY ordinal_position, name`, tenantID, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset fields: %w", err)
	}
	defer rows.Close()

	var fields []*models.AssetField
	for rows.Next() {
		var f models.AssetField
		if err := rows.Scan(
			&f.ID, &f.TenantID, &f.AssetID, &f.Name, &f.OrdinalPosition, &f.DataType, &f.IsNullable,
			&f.DefaultExpression, &f.Comment, &f.Properties, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset field: %w", err)
		}
		fields = append(fields, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset fields: %w", err)
	}
	return fields, nil
}

func (r *assetRepository) CountByType(ctx context.Context, tenantID, dataSourceID uuid.UUID) (map[models.AssetType]int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT asset_type, COUNT(*)
		FROM assets
		WHERE tenant_id = $1 AND data_source_id = $2
		GROUP BY asset_type`, tenantID, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AssetType]int)
	for rows.Next() {
		var assetType models.AssetType
		var n int
		if err := rows.Scan(&assetType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan asset count: %w", err)
		}
		counts[assetType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset counts: %w", err)
	}
	return counts, nil
}
