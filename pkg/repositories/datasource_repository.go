package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/database"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

// DataSourceRepository defines the interface for data source access.
// ConfigJSON is stored with credential values already sealed by the service layer.
type DataSourceRepository interface {
	// Create inserts a new data source. Returns apperrors.ErrConflict if the slug is taken.
	Create(ctx context.Context, ds *models.DataSource) error

	// GetByID retrieves a data source within a tenant. Returns apperrors.ErrNotFound if absent.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.DataSource, error)

	// UpdateConfig replaces the stored config blob.
	UpdateConfig(ctx context.Context, tenantID, id uuid.UUID, configJSON map[string]any) error

	// UpdateConnectionStatus records the outcome of a connection probe.
	UpdateConnectionStatus(ctx context.Context, tenantID, id uuid.UUID, status string, checkedAt time.Time) error
}

type dataSourceRepository struct{}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository() DataSourceRepository {
	return &dataSourceRepository{}
}

var _ DataSourceRepository = (*dataSourceRepository)(nil)

const dataSourceColumns = `id, tenant_id, name, slug, connector_key, connector_version, kind,
	config_json, connection_status, last_health_at, tags, created_by, created_at, updated_at`

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	if ds.ConnectionStatus == "" {
		ds.ConnectionStatus = models.ConnectionStatusUnknown
	}
	if ds.ConfigJSON == nil {
		ds.ConfigJSON = map[string]any{}
	}
	if ds.Tags == nil {
		ds.Tags = []string{}
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	query := `
		INSERT INTO data_sources (id, tenant_id, name, slug, connector_key, connector_version, kind,
			config_json, connection_status, tags, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := scope.Conn.Exec(ctx, query,
		ds.ID,
		ds.TenantID,
		ds.Name,
		ds.Slug,
		ds.ConnectorKey,
		ds.ConnectorVersion,
		ds.Kind,
		ds.ConfigJSON,
		ds.ConnectionStatus,
		ds.Tags,
		ds.CreatedBy,
		ds.CreatedAt,
		ds.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create data source: %w", err)
	}

	return nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.DataSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE tenant_id = $1 AND id = $2`

	var ds models.DataSource
	err := scope.Conn.QueryRow(ctx, query, tenantID, id).Scan(
		&ds.ID,
		&ds.TenantID,
		&ds.Name,
		&ds.Slug,
		&ds.ConnectorKey,
		&ds.ConnectorVersion,
		&ds.Kind,
		&ds.ConfigJSON,
		&ds.ConnectionStatus,
		&ds.LastHealthAt,
		&ds.Tags,
		&ds.CreatedBy,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	return &ds, nil
}

func (r *dataSourceRepository) UpdateConfig(ctx context.Context, tenantID, id uuid.UUID, configJSON map[string]any) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE data_sources SET config_json = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, configJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update data source config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) UpdateConnectionStatus(ctx context.Context, tenantID, id uuid.UUID, status string, checkedAt time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE data_sources SET connection_status = $3, last_health_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, status, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
