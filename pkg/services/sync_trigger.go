package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/logging"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
	"github.com/ekaya-inc/ekaya-catalog/pkg/runlock"
)

// TriggerOptions controls how a sync is started.
type TriggerOptions struct {
	Trigger   string // manual, scheduled or api; defaults to manual
	Wait      bool   // run synchronously and return the sync error
	CreatedBy *uuid.UUID
	Params    map[string]any
}

// SyncTrigger starts metadata syncs, allowing at most one active run per data source.
type SyncTrigger interface {
	// Trigger creates a queued run and starts the sync. Returns
	// apperrors.ErrRunInProgress, without creating a run, when the data source
	// already has an active run.
	Trigger(ctx context.Context, tenantID, dataSourceID uuid.UUID, opts TriggerOptions) (*models.ConnectorRun, error)

	// RunClaimed drives a run that a worker already claimed from the queue.
	RunClaimed(ctx context.Context, run *models.ConnectorRun) error
}

type syncTrigger struct {
	tenantCtx TenantContextFunc
	runRepo   repositories.ConnectorRunRepository
	syncer    MetadataSyncService
	locker    runlock.Locker
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewSyncTrigger creates a SyncTrigger. lockTTL bounds how long a crashed
// process can block new runs of a data source.
func NewSyncTrigger(
	tenantCtx TenantContextFunc,
	runRepo repositories.ConnectorRunRepository,
	syncer MetadataSyncService,
	locker runlock.Locker,
	lockTTL time.Duration,
	logger *zap.Logger,
) SyncTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &syncTrigger{
		tenantCtx: tenantCtx,
		runRepo:   runRepo,
		syncer:    syncer,
		locker:    locker,
		lockTTL:   lockTTL,
		logger:    logger.Named("sync-trigger"),
	}
}

var _ SyncTrigger = (*syncTrigger)(nil)

func (t *syncTrigger) acquire(ctx context.Context, dataSourceID uuid.UUID) (runlock.Release, error) {
	release, err := t.locker.Acquire(ctx, runlock.Key(dataSourceID.String()), t.lockTTL)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return nil, apperrors.ErrRunInProgress
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return release, nil
}

func (t *syncTrigger) release(release runlock.Release, dataSourceID uuid.UUID) {
	if err := release(context.Background()); err != nil {
		t.logger.Warn("Failed to release run lock",
			zap.String("data_source_id", dataSourceID.String()),
			zap.Error(err))
	}
}

func (t *syncTrigger) Trigger(ctx context.Context, tenantID, dataSourceID uuid.UUID, opts TriggerOptions) (*models.ConnectorRun, error) {
	release, err := t.acquire(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}

	run, err := t.createRun(ctx, tenantID, dataSourceID, opts)
	if err != nil {
		t.release(release, dataSourceID)
		return nil, err
	}

	t.logger.Info("Triggered metadata sync",
		zap.String("tenant_id", tenantID.String()),
		zap.String("data_source_id", dataSourceID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("trigger", run.Trigger),
		zap.Bool("wait", opts.Wait))

	if opts.Wait {
		defer t.release(release, dataSourceID)
		return run, t.syncer.Sync(ctx, tenantID, dataSourceID, &run.ID)
	}

	// The sync outlives the request that started it.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer t.release(release, dataSourceID)
		if err := t.syncer.Sync(bg, tenantID, dataSourceID, &run.ID); err != nil {
			t.logger.Error("Background metadata sync failed",
				zap.String("data_source_id", dataSourceID.String()),
				zap.String("run_id", run.ID.String()),
				zap.String("error", logging.SanitizeError(err)))
		}
	}()

	return run, nil
}

func (t *syncTrigger) createRun(ctx context.Context, tenantID, dataSourceID uuid.UUID, opts TriggerOptions) (*models.ConnectorRun, error) {
	tenantCtx, cleanup, err := t.tenantCtx(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	trigger := opts.Trigger
	if trigger == "" {
		trigger = models.RunTriggerManual
	}

	run := &models.ConnectorRun{
		TenantID:     tenantID,
		DataSourceID: dataSourceID,
		RunType:      models.RunTypeMetadata,
		Trigger:      trigger,
		Params:       opts.Params,
		Status:       models.RunStatusQueued,
		CreatedBy:    opts.CreatedBy,
	}
	if err := t.runRepo.Create(tenantCtx, run); err != nil {
		return nil, fmt.Errorf("failed to create connector run: %w", err)
	}
	return run, nil
}

func (t *syncTrigger) RunClaimed(ctx context.Context, run *models.ConnectorRun) error {
	release, err := t.acquire(ctx, run.DataSourceID)
	if err != nil {
		// The worker already moved the run to running.
		t.failRun(ctx, run, logging.SanitizeError(err))
		return err
	}
	defer t.release(release, run.DataSourceID)

	return t.syncer.Sync(ctx, run.TenantID, run.DataSourceID, &run.ID)
}

// failRun closes a claimed run that could not start.
func (t *syncTrigger) failRun(ctx context.Context, run *models.ConnectorRun, message string) {
	ctx = context.WithoutCancel(ctx)
	tenantCtx, cleanup, err := t.tenantCtx(ctx, run.TenantID)
	if err != nil {
		t.logger.Error("Failed to acquire tenant scope", zap.String("run_id", run.ID.String()), zap.Error(err))
		return
	}
	defer cleanup()

	finished := time.Now()
	if err := t.runRepo.Update(tenantCtx, run.TenantID, run.ID, models.RunUpdate{
		Status:       models.RunStatusFailed,
		FinishedAt:   &finished,
		ErrorMessage: &message,
	}); err != nil {
		t.logger.Error("Failed to mark run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}
