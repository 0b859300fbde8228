package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-catalog/pkg/database"
)

// TenantContextFunc acquires a tenant-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantContextFunc func(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error)

// SystemContextFunc acquires a connection without tenant context, for work
// that spans tenants such as claiming queued runs or seeding connectors.
type SystemContextFunc func(ctx context.Context) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc that uses the given database.
func NewTenantContextFunc(db *database.DB) TenantContextFunc {
	return func(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
		scope, err := db.WithTenant(ctx, tenantID)
		if err != nil {
			return nil, nil, err
		}
		tenantCtx := database.SetTenantScope(ctx, scope)
		return tenantCtx, func() { scope.Close() }, nil
	}
}

// NewSystemContextFunc creates a SystemContextFunc that uses the given database.
func NewSystemContextFunc(db *database.DB) SystemContextFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		scope, err := db.WithoutTenant(ctx)
		if err != nil {
			return nil, nil, err
		}
		return database.SetTenantScope(ctx, scope), func() { scope.Close() }, nil
	}
}
