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

// ConnectorDefinitionRepository reads and seeds connector definitions.
// Definitions are global, so any scoped connection can read them.
type ConnectorDefinitionRepository interface {
	// GetByKeyVersion returns apperrors.ErrNotFound if no such definition exists.
	GetByKeyVersion(ctx context.Context, key, version string) (*models.ConnectorDefinition, error)

	// Upsert inserts the definition or replaces the existing one with the same key and version.
	Upsert(ctx context.Context, def *models.ConnectorDefinition) error

	// List returns every definition ordered by key then version.
	List(ctx context.Context) ([]*models.ConnectorDefinition, error)
}

type connectorDefinitionRepository struct{}

// NewConnectorDefinitionRepository creates a new connector definition repository.
func NewConnectorDefinitionRepository() ConnectorDefinitionRepository {
	return &connectorDefinitionRepository{}
}

var _ ConnectorDefinitionRepository = (*connectorDefinitionRepository)(nil)

const connectorDefinitionColumns = `id, key, version, kind, display_name, description, capabilities,
	connection_schema, secret_schema, docs_url, is_enabled, created_at, updated_at`

func scanConnectorDefinition(row pgx.Row) (*models.ConnectorDefinition, error) {
	var def models.ConnectorDefinition
	err := row.Scan(
		&def.ID,
		&def.Key,
		&def.Version,
		&def.Kind,
		&def.DisplayName,
		&def.Description,
		&def.Capabilities,
		&def.ConnectionSchema,
		&def.SecretSchema,
		&def.DocsURL,
		&def.IsEnabled,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *connectorDefinitionRepository) GetByKeyVersion(ctx context.Context, key, version string) (*models.ConnectorDefinition, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+connectorDefinitionColumns+`
		FROM connector_definitions
		WHERE key = $1 AND version = $2`, key, version)

	def, err := scanConnectorDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connector definition: %w", err)
	}
	return def, nil
}

func (r *connectorDefinitionRepository) Upsert(ctx context.Context, def *models.ConnectorDefinition) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	for _, m := range []*map[string]any{&def.Capabilities, &def.ConnectionSchema, &def.SecretSchema} {
		if *m == nil {
			*m = map[string]any{}
		}
	}
	now := time.Now()

	query := `
		INSERT INTO connector_definitions (id, key, version, kind, display_name, description, capabilities,
			connection_schema, secret_schema, docs_url, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (key, version) DO UPDATE SET
			kind = EXCLUDED.kind,
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			capabilities = EXCLUDED.capabilities,
			connection_schema = EXCLUDED.connection_schema,
			secret_schema = EXCLUDED.secret_schema,
			docs_url = EXCLUDED.docs_url,
			is_enabled = EXCLUDED.is_enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		def.ID,
		def.Key,
		def.Version,
		def.Kind,
		def.DisplayName,
		def.Description,
		def.Capabilities,
		def.ConnectionSchema,
		def.SecretSchema,
		def.DocsURL,
		def.IsEnabled,
		now,
	).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connector definition %s: %w", def.Ref(), err)
	}
	return nil
}

func (r *connectorDefinitionRepository) List(ctx context.Context) ([]*models.ConnectorDefinition, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+connectorDefinitionColumns+`
		FROM connector_definitions
		ORDER BY key, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connector definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.ConnectorDefinition
	for rows.Next() {
		def, err := scanConnectorDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connector definitions: %w", err)
	}
	return defs, nil
}
