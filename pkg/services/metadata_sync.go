package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/logging"
	"github.com/ekaya-inc/ekaya-catalog/pkg/metrics"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
	"github.com/ekaya-inc/ekaya-catalog/pkg/retry"
)

// MetadataSyncService runs one metadata sync of a data source end to end.
type MetadataSyncService interface {
	// Sync resolves the data source and its connector, probes the connection,
	// extracts metadata and replaces the catalog. When runID is set the run
	// moves to running and always ends in a terminal status, even on panic.
	Sync(ctx context.Context, tenantID, dataSourceID uuid.UUID, runID *uuid.UUID) error
}

type metadataSyncService struct {
	tenantCtx         TenantContextFunc
	systemCtx         SystemContextFunc
	dsRepo            repositories.DataSourceRepository
	defRepo           repositories.ConnectorDefinitionRepository
	runRepo           repositories.ConnectorRunRepository
	separator         ConfigSeparator
	factory           datasource.ExtractorFactory
	persistence       MetadataPersistenceService
	connectionTimeout time.Duration
	abandonRetry      *retry.Config
	logger            *zap.Logger
}

// MetadataSyncDeps holds the collaborators of the sync service.
type MetadataSyncDeps struct {
	TenantContext     TenantContextFunc
	// SystemContext is the fallback scope for failing a run when the tenant
	// scope cannot be acquired. Optional.
	SystemContext     SystemContextFunc
	DataSources       repositories.DataSourceRepository
	Definitions       repositories.ConnectorDefinitionRepository
	Runs              repositories.ConnectorRunRepository
	Separator         ConfigSeparator
	Factory           datasource.ExtractorFactory
	Persistence       MetadataPersistenceService
	ConnectionTimeout time.Duration
}

// NewMetadataSyncService creates the sync orchestrator.
func NewMetadataSyncService(deps MetadataSyncDeps, logger *zap.Logger) MetadataSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.ConnectionTimeout <= 0 {
		deps.ConnectionTimeout = 30 * time.Second
	}
	return &metadataSyncService{
		tenantCtx:         deps.TenantContext,
		systemCtx:         deps.SystemContext,
		dsRepo:            deps.DataSources,
		defRepo:           deps.Definitions,
		runRepo:           deps.Runs,
		separator:         deps.Separator,
		factory:           deps.Factory,
		persistence:       deps.Persistence,
		connectionTimeout: deps.ConnectionTimeout,
		abandonRetry:      abandonRetryConfig(),
		logger:            logger.Named("metadata-sync"),
	}
}

var _ MetadataSyncService = (*metadataSyncService)(nil)

// syncOutcome accumulates what the terminal run update needs.
type syncOutcome struct {
	connector        string
	counts           *models.PersistCounts
	extractedAt      *time.Time
	warnings         int
	extractionErrors []string
}

func (s *metadataSyncService) Sync(ctx context.Context, tenantID, dataSourceID uuid.UUID, runID *uuid.UUID) (err error) {
	logger := s.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("data_source_id", dataSourceID.String()))
	if runID != nil {
		logger = logger.With(zap.String("run_id", runID.String()))
	}

	tenantCtx, cleanup, err := s.tenantCtx(ctx, tenantID)
	if err != nil {
		err = fmt.Errorf("failed to acquire tenant scope: %w", err)
		s.abandonRun(ctx, tenantID, runID, err, logger)
		return err
	}
	defer cleanup()

	started := time.Now()
	outcome := &syncOutcome{connector: "unknown"}

	if runID != nil {
		if err := s.runRepo.Update(tenantCtx, tenantID, *runID, models.RunUpdate{
			Status:    models.RunStatusRunning,
			StartedAt: &started,
		}); err != nil {
			err = fmt.Errorf("failed to mark run %s running: %w", runID, err)
			s.abandonRun(ctx, tenantID, runID, err, logger)
			return err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Metadata sync panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("metadata sync panicked: %v", r)
		}
		err = s.finish(tenantCtx, tenantID, runID, started, outcome, err, logger)
	}()

	return s.run(tenantCtx, tenantID, dataSourceID, outcome, logger)
}

// run performs the sync steps. Any error it returns is fatal for the run and
// leaves the stored catalog untouched.
func (s *metadataSyncService) run(ctx context.Context, tenantID, dataSourceID uuid.UUID, outcome *syncOutcome, logger *zap.Logger) error {
	ds, err := s.dsRepo.GetByID(ctx, tenantID, dataSourceID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("data source %s not found", dataSourceID)
		}
		return fmt.Errorf("failed to load data source %s: %w", dataSourceID, err)
	}
	outcome.connector = ds.ConnectorKey

	def, err := s.defRepo.GetByKeyVersion(ctx, ds.ConnectorKey, ds.ConnectorVersion)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("connector definition %s@%s not found", ds.ConnectorKey, ds.ConnectorVersion)
		}
		return fmt.Errorf("failed to load connector definition %s@%s: %w", ds.ConnectorKey, ds.ConnectorVersion, err)
	}

	public, credentials, err := s.separator.SeparateConfigAndCredentials(ds.ConfigJSON, def)
	if err != nil {
		return fmt.Errorf("failed to read data source credentials: %w", err)
	}
	public = withConnectionTimeout(public, s.connectionTimeout)

	ext := s.factory.CreateExtractor(ctx, ds.ConnectorKey, ds.ID, tenantID, public, credentials)
	if ext == nil {
		return fmt.Errorf("no metadata extractor available for connector %q; supported connectors: %s",
			ds.ConnectorKey, strings.Join(s.factory.SupportedConnectors(), ", "))
	}
	defer func() {
		if err := ext.Close(); err != nil {
			logger.Warn("Failed to close extractor", zap.Error(err))
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	probeErr := ext.TestConnection(probeCtx)
	cancel()
	if probeErr != nil {
		return fmt.Errorf("connection test failed: %w", probeErr)
	}

	logger.Info("Extracting metadata", zap.String("connector", def.Ref()))

	result, err := ext.ExtractMetadata(ctx)
	if err != nil {
		return fmt.Errorf("metadata extraction failed: %w", err)
	}
	if result == nil {
		return fmt.Errorf("metadata extraction returned no result")
	}
	if result.Status == "" {
		result.Finalize()
	}

	extractedAt := time.Now()
	outcome.extractedAt = &extractedAt
	outcome.warnings = len(result.Warnings)
	outcome.extractionErrors = result.Errors

	// A crawl that produced nothing but errors must not wipe the catalog.
	if result.Status == datasource.ExtractionStatusFailed {
		return fmt.Errorf("metadata extraction failed: %s", strings.Join(result.Errors, "; "))
	}

	counts, err := s.persistence.Persist(ctx, tenantID, dataSourceID, ds.ConnectorKey, result)
	if err != nil {
		return err
	}
	outcome.counts = &counts

	return nil
}

// finish writes the terminal state of the run and returns the error the
// caller of Sync sees.
func (s *metadataSyncService) finish(ctx context.Context, tenantID uuid.UUID, runID *uuid.UUID, started time.Time, outcome *syncOutcome, runErr error, logger *zap.Logger) error {
	status := models.RunStatusSucceeded
	var message string

	switch {
	case runErr != nil:
		status = models.RunStatusFailed
		message = logging.SanitizeError(runErr)
	case len(outcome.extractionErrors) > 0:
		message = logging.SanitizeMessage(strings.Join(outcome.extractionErrors, "; "))
		if outcome.counts != nil && (outcome.counts.Databases > 0 || outcome.counts.Tables > 0) {
			status = models.RunStatusPartial
		} else {
			status = models.RunStatusFailed
			runErr = fmt.Errorf("metadata sync failed: %s", message)
		}
	}

	metrics.SyncRuns.WithLabelValues(outcome.connector, string(status)).Inc()
	metrics.SyncDuration.WithLabelValues(outcome.connector).Observe(time.Since(started).Seconds())

	fields := []zap.Field{zap.String("status", string(status)), zap.Duration("duration", time.Since(started))}
	if outcome.counts != nil {
		fields = append(fields,
			zap.Int("databases", outcome.counts.Databases),
			zap.Int("tables", outcome.counts.Tables),
			zap.Int("columns", outcome.counts.Columns))
	}
	if status == models.RunStatusFailed {
		logger.Error("Metadata sync failed", append(fields, zap.String("error", message))...)
	} else {
		logger.Info("Metadata sync finished", fields...)
	}

	if runID == nil {
		return runErr
	}

	finished := time.Now()
	update := models.RunUpdate{
		Status:     status,
		FinishedAt: &finished,
		Metrics: &models.RunMetrics{
			MetadataCounts:      outcome.counts,
			ExtractionTimestamp: outcome.extractedAt,
			Warnings:            outcome.warnings,
		},
	}
	if message != "" {
		truncated := logging.TruncateString(message, logging.MaxMessageLength)
		update.ErrorMessage = &truncated
	}

	// The run record must reach a terminal state even if the caller gave up.
	if err := s.runRepo.Update(context.WithoutCancel(ctx), tenantID, *runID, update); err != nil {
		logger.Error("Failed to record run outcome", zap.Error(err))
		if runErr == nil {
			return fmt.Errorf("failed to record run outcome: %w", err)
		}
	}

	return runErr
}

func abandonRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// abandonRun marks a run failed when Sync could not get far enough to use the
// normal finish path. It retries on a fresh scope, falling back to the system
// scope, so a claimed run does not stay running.
func (s *metadataSyncService) abandonRun(ctx context.Context, tenantID uuid.UUID, runID *uuid.UUID, cause error, logger *zap.Logger) {
	if runID == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	message := logging.TruncateString(logging.SanitizeError(cause), logging.MaxMessageLength)
	finished := time.Now()
	update := models.RunUpdate{
		Status:       models.RunStatusFailed,
		FinishedAt:   &finished,
		ErrorMessage: &message,
	}

	metrics.SyncRuns.WithLabelValues("unknown", string(models.RunStatusFailed)).Inc()

	err := retry.Do(ctx, s.abandonRetry, func() error {
		scoped, cleanup, err := s.runScope(ctx, tenantID)
		if err != nil {
			return err
		}
		defer cleanup()
		return s.runRepo.Update(scoped, tenantID, *runID, update)
	})
	if err != nil {
		logger.Error("Failed to mark run failed", zap.String("cause", message), zap.Error(err))
	}
}

func (s *metadataSyncService) runScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
	scoped, cleanup, err := s.tenantCtx(ctx, tenantID)
	if err == nil || s.systemCtx == nil {
		return scoped, cleanup, err
	}
	return s.systemCtx(ctx)
}
