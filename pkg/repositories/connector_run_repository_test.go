//go:build integration

package repositories

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

func TestConnectorRunRepository_Lifecycle(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, done := tc.createTestContext()
	defer done()

	ds := tc.createDataSource(ctx, "runs")
	repo := NewConnectorRunRepository()

	run := &models.ConnectorRun{TenantID: tc.tenantID, DataSourceID: ds.ID}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.Status != models.RunStatusQueued || run.RunType != models.RunTypeMetadata {
		t.Fatalf("unexpected defaults: %+v", run)
	}

	started := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.Update(ctx, tc.tenantID, run.ID, models.RunUpdate{Status: models.RunStatusRunning, StartedAt: &started}); err != nil {
		t.Fatalf("Update(running) failed: %v", err)
	}

	finished := started.Add(time.Second)
	msg := "Failed to get columns for orders"
	counts := &models.PersistCounts{Databases: 1, Schemas: 1, Tables: 2, Columns: 7}
	err := repo.Update(ctx, tc.tenantID, run.ID, models.RunUpdate{
		Status:       models.RunStatusPartial,
		FinishedAt:   &finished,
		ErrorMessage: &msg,
		Metrics:      &models.RunMetrics{MetadataCounts: counts, ExtractionTimestamp: &started, Warnings: 1},
	})
	if err != nil {
		t.Fatalf("Update(partial) failed: %v", err)
	}

	got, err := repo.GetByID(ctx, tc.tenantID, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.RunStatusPartial {
		t.Errorf("expected partial, got %s", got.Status)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v kept, got %v", started, got.StartedAt)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("expected finished_at %v, got %v", finished, got.FinishedAt)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Errorf("expected error message %q, got %v", msg, got.ErrorMessage)
	}
	if got.Metrics.MetadataCounts == nil || *got.Metrics.MetadataCounts != *counts {
		t.Errorf("expected counts %+v, got %+v", counts, got.Metrics.MetadataCounts)
	}

	runs, err := repo.ListByDataSource(ctx, tc.tenantID, ds.ID, 10)
	if err != nil {
		t.Fatalf("ListByDataSource failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("expected the single run, got %d runs", len(runs))
	}

	if err := repo.Update(ctx, tc.tenantID, uuid.New(), models.RunUpdate{Status: models.RunStatusFailed}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestConnectorRunRepository_ClaimNextQueued(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, done := tc.createTestContext()
	ds := tc.createDataSource(ctx, "claims")
	repo := NewConnectorRunRepository()

	first := &models.ConnectorRun{TenantID: tc.tenantID, DataSourceID: ds.ID}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	done()

	workerCtx, workerDone := tc.createUnscopedContext()
	defer workerDone()

	// Drain anything other tests left queued, remembering whether ours was claimed.
	var claimed *models.ConnectorRun
	for {
		run, err := repo.ClaimNextQueued(workerCtx, models.RunTypeMetadata)
		if err != nil {
			t.Fatalf("ClaimNextQueued failed: %v", err)
		}
		if run == nil {
			break
		}
		if run.ID == first.ID {
			claimed = run
		}
	}

	if claimed == nil {
		t.Fatal("expected the queued run to be claimed")
	}
	if claimed.Status != models.RunStatusRunning {
		t.Errorf("expected claimed run to be running, got %s", claimed.Status)
	}
	if claimed.TenantID != tc.tenantID {
		t.Errorf("expected tenant %s, got %s", tc.tenantID, claimed.TenantID)
	}
}
