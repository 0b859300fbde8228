package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/logging"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
)

// RunWorker drives metadata runs that other components queued.
type RunWorker struct {
	systemCtx    SystemContextFunc
	runRepo      repositories.ConnectorRunRepository
	trigger      SyncTrigger
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewRunWorker creates a worker that polls for queued runs every pollInterval.
func NewRunWorker(
	systemCtx SystemContextFunc,
	runRepo repositories.ConnectorRunRepository,
	trigger SyncTrigger,
	pollInterval time.Duration,
	logger *zap.Logger,
) *RunWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &RunWorker{
		systemCtx:    systemCtx,
		runRepo:      runRepo,
		trigger:      trigger,
		pollInterval: pollInterval,
		logger:       logger.Named("run-worker"),
	}
}

// Run polls until ctx is cancelled. Each tick drains the queue one run at a time.
func (w *RunWorker) Run(ctx context.Context) error {
	w.logger.Info("Run worker started", zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		for {
			processed, err := w.ProcessNext(ctx)
			if err != nil {
				w.logger.Error("Failed to process queued run", zap.String("error", logging.SanitizeError(err)))
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Run worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and runs one queued metadata run. It reports whether a
// run was claimed; the error is the sync outcome of that run.
func (w *RunWorker) ProcessNext(ctx context.Context) (bool, error) {
	run, err := w.claim(ctx)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}

	w.logger.Info("Claimed queued run",
		zap.String("run_id", run.ID.String()),
		zap.String("tenant_id", run.TenantID.String()),
		zap.String("data_source_id", run.DataSourceID.String()))

	if err := w.trigger.RunClaimed(ctx, run); err != nil {
		if errors.Is(err, apperrors.ErrRunInProgress) {
			w.logger.Warn("Data source already has an active run", zap.String("run_id", run.ID.String()))
		}
		return true, err
	}
	return true, nil
}

func (w *RunWorker) claim(ctx context.Context) (*models.ConnectorRun, error) {
	sysCtx, cleanup, err := w.systemCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer cleanup()

	return w.runRepo.ClaimNextQueued(sysCtx, models.RunTypeMetadata)
}
