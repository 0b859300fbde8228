package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	// Connectors register themselves when built with -tags all_adapters or their own tag.
	_ "github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource/all"
	"github.com/ekaya-inc/ekaya-catalog/pkg/config"
	"github.com/ekaya-inc/ekaya-catalog/pkg/crypto"
	"github.com/ekaya-inc/ekaya-catalog/pkg/database"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
	"github.com/ekaya-inc/ekaya-catalog/pkg/runlock"
	"github.com/ekaya-inc/ekaya-catalog/pkg/services"
)

// app holds the process-wide dependencies shared by commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client

	tenantCtx   services.TenantContextFunc
	systemCtx   services.SystemContextFunc
	definitions services.ConnectorDefinitionService
	dataSources services.DataSourceService
	syncer      services.MetadataSyncService
	trigger     services.SyncTrigger
	worker      *services.RunWorker
	runs        repositories.ConnectorRunRepository
}

// newApp connects to the catalog store and wires the services.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	var locker runlock.Locker = runlock.NewMemoryLocker()
	a.redis, err = database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.redis != nil {
		redisLocker, err := runlock.NewRedisLocker(a.redis)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create redis run lock: %w", err)
		}
		locker = redisLocker
		logger.Info("Using Redis run locks", zap.String("host", cfg.Redis.Host))
	} else {
		logger.Info("Redis not configured, using in-process run locks")
	}

	if cfg.ProjectCredentialsKey == "" {
		a.close()
		return nil, fmt.Errorf("PROJECT_CREDENTIALS_KEY is required")
	}
	encryptor, err := crypto.NewCredentialEncryptor(cfg.ProjectCredentialsKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("invalid PROJECT_CREDENTIALS_KEY: %w", err)
	}

	connectionTimeout := time.Duration(cfg.Sync.ConnectionTimeoutSeconds) * time.Second
	dsRepo := repositories.NewDataSourceRepository()
	defRepo := repositories.NewConnectorDefinitionRepository()
	a.runs = repositories.NewConnectorRunRepository()
	factory := datasource.NewExtractorFactory(logger)

	a.tenantCtx = services.NewTenantContextFunc(db)
	a.systemCtx = services.NewSystemContextFunc(db)
	a.definitions = services.NewConnectorDefinitionService(a.systemCtx, defRepo, logger)
	a.dataSources = services.NewDataSourceService(dsRepo, defRepo, encryptor, factory, connectionTimeout, logger)
	a.syncer = services.NewMetadataSyncService(services.MetadataSyncDeps{
		TenantContext:     a.tenantCtx,
		SystemContext:     a.systemCtx,
		DataSources:       dsRepo,
		Definitions:       defRepo,
		Runs:              a.runs,
		Separator:         a.dataSources,
		Factory:           factory,
		Persistence:       services.NewMetadataPersistenceService(repositories.NewAssetRepository(), logger),
		ConnectionTimeout: connectionTimeout,
	}, logger)
	a.trigger = services.NewSyncTrigger(a.tenantCtx, a.runs, a.syncer, locker, cfg.Sync.RunLockTTL, logger)
	a.worker = services.NewRunWorker(a.systemCtx, a.runs, a.trigger, cfg.Sync.WorkerPollInterval, logger)
	return a, nil
}

// inTenant runs fn with a tenant-scoped context.
func (a *app) inTenant(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) error) error {
	scoped, cleanup, err := a.tenantCtx(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("acquire tenant scope: %w", err)
	}
	defer cleanup()
	return fn(scoped)
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
