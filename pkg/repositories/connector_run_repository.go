package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/database"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

// ConnectorRunRepository persists connector run records. Runs are never deleted here.
type ConnectorRunRepository interface {
	// Create inserts a run. Status defaults to queued.
	Create(ctx context.Context, run *models.ConnectorRun) error

	// GetByID returns apperrors.ErrNotFound if the run does not exist for the tenant.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorRun, error)

	// Update applies a status transition. Nil StartedAt, FinishedAt and Metrics keep the stored values.
	Update(ctx context.Context, tenantID, id uuid.UUID, update models.RunUpdate) error

	// ListByDataSource returns the most recent runs first.
	ListByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID, limit int) ([]*models.ConnectorRun, error)

	// ClaimNextQueued atomically moves the oldest queued run of runType to running
	// and returns it. Returns nil, nil when nothing is queued. Requires an
	// unscoped connection because it looks across tenants.
	ClaimNextQueued(ctx context.Context, runType models.RunType) (*models.ConnectorRun, error)
}

type connectorRunRepository struct{}

// NewConnectorRunRepository creates a new connector run repository.
func NewConnectorRunRepository() ConnectorRunRepository {
	return &connectorRunRepository{}
}

var _ ConnectorRunRepository = (*connectorRunRepository)(nil)

const connectorRunColumns = `id, tenant_id, data_source_id, run_type, trigger, params, status,
	started_at, finished_at, error_message, metrics, created_by, created_at, updated_at`

func scanConnectorRun(row pgx.Row) (*models.ConnectorRun, error) {
	var run models.ConnectorRun
	var startedAt *time.Time
	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.DataSourceID,
		&run.RunType,
		&run.Trigger,
		&run.Params,
		&run.Status,
		&startedAt,
		&run.FinishedAt,
		&run.ErrorMessage,
		&run.Metrics,
		&run.CreatedBy,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt != nil {
		run.StartedAt = *startedAt
	}
	return &run, nil
}

func (r *connectorRunRepository) Create(ctx context.Context, run *models.ConnectorRun) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.RunType == "" {
		run.RunType = models.RunTypeMetadata
	}
	if run.Trigger == "" {
		run.Trigger = models.RunTriggerManual
	}
	if run.Params == nil {
		run.Params = map[string]any{}
	}
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	query := `
		INSERT INTO connector_runs (id, tenant_id, data_source_id, run_type, trigger, params, status,
			metrics, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := scope.Conn.Exec(ctx, query,
		run.ID,
		run.TenantID,
		run.DataSourceID,
		run.RunType,
		run.Trigger,
		run.Params,
		run.Status,
		run.Metrics,
		run.CreatedBy,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connector run: %w", err)
	}
	return nil
}

func (r *connectorRunRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+connectorRunColumns+`
		FROM connector_runs
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	run, err := scanConnectorRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connector run: %w", err)
	}
	return run, nil
}

func (r *connectorRunRepository) Update(ctx context.Context, tenantID, id uuid.UUID, update models.RunUpdate) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE connector_runs SET
			status = $3,
			started_at = COALESCE($4, started_at),
			finished_at = COALESCE($5, finished_at),
			error_message = $6,
			metrics = COALESCE($7, metrics),
			updated_at = $8
		WHERE tenant_id = $1 AND id = $2`

	tag, err := scope.Conn.Exec(ctx, query,
		tenantID,
		id,
		update.Status,
		update.StartedAt,
		update.FinishedAt,
		update.ErrorMessage,
		update.Metrics,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update connector run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectorRunRepository) ListByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID, limit int) ([]*models.ConnectorRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+connectorRunColumns+`
		FROM connector_runs
		WHERE tenant_id = $1 AND data_source_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, dataSourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list connector runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ConnectorRun
	for rows.Next() {
		run, err := scanConnectorRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connector runs: %w", err)
	}
	return runs, nil
}

func (r *connectorRunRepository) ClaimNextQueued(ctx context.Context, runType models.RunType) (*models.ConnectorRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	// SKIP LOCKED lets several workers poll the same table without blocking.
	query := `
		UPDATE connector_runs SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM connector_runs
			WHERE status = 'queued' AND run_type = $1
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + connectorRunColumns

	run, err := scanConnectorRun(scope.Conn.QueryRow(ctx, query, runType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim queued run: %w", err)
	}
	return run, nil
}
