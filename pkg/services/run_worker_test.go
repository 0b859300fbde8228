package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/runlock"
)

func queueRun(t *testing.T, repo *mockRunRepo) *models.ConnectorRun {
	t.Helper()
	run := &models.ConnectorRun{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		DataSourceID: uuid.New(),
		RunType:      models.RunTypeMetadata,
		Status:       models.RunStatusQueued,
	}
	repo.queue = append(repo.queue, run)
	return run
}

func TestRunWorker_ProcessNext_Empty(t *testing.T) {
	runRepo := newMockRunRepo()
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, newMockSyncer(), runlock.NewMemoryLocker()), time.Second, nil)

	processed, err := worker.ProcessNext(context.Background())
	if err != nil || processed {
		t.Errorf("expected nothing to process, got processed=%v err=%v", processed, err)
	}
}

func TestRunWorker_ProcessNext_DrivesClaimedRun(t *testing.T) {
	runRepo := newMockRunRepo()
	syncer := newMockSyncer()
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, syncer, runlock.NewMemoryLocker()), time.Second, nil)
	run := queueRun(t, runRepo)

	processed, err := worker.ProcessNext(context.Background())
	if err != nil || !processed {
		t.Fatalf("expected a processed run, got processed=%v err=%v", processed, err)
	}
	if syncer.callCount() != 1 || syncer.calls[0] != run.ID {
		t.Errorf("expected sync of run %s, got %v", run.ID, syncer.calls)
	}
}

func TestRunWorker_ProcessNext_SyncErrorIsReturned(t *testing.T) {
	runRepo := newMockRunRepo()
	syncer := newMockSyncer()
	syncer.err = errors.New("connection test failed: timeout")
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, syncer, runlock.NewMemoryLocker()), time.Second, nil)
	queueRun(t, runRepo)

	processed, err := worker.ProcessNext(context.Background())
	if !processed || err == nil {
		t.Errorf("expected processed run with error, got processed=%v err=%v", processed, err)
	}
}

func TestRunWorker_ProcessNext_ClaimError(t *testing.T) {
	runRepo := newMockRunRepo()
	runRepo.claimErr = errors.New("connection refused")
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, newMockSyncer(), runlock.NewMemoryLocker()), time.Second, nil)

	processed, err := worker.ProcessNext(context.Background())
	if processed || err == nil {
		t.Errorf("expected claim error, got processed=%v err=%v", processed, err)
	}
}

func TestRunWorker_RunDrainsQueueAndStops(t *testing.T) {
	runRepo := newMockRunRepo()
	syncer := newMockSyncer()
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, syncer, runlock.NewMemoryLocker()), 10*time.Millisecond, nil)
	queueRun(t, runRepo)
	queueRun(t, runRepo)
	queueRun(t, runRepo)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	for i := 0; i < 3; i++ {
		waitDone(t, syncer.done)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	if syncer.callCount() != 3 {
		t.Errorf("expected 3 syncs, got %d", syncer.callCount())
	}
}

func TestRunWorker_ProcessNext_LockErrorFailsRun(t *testing.T) {
	runRepo := newMockRunRepo()
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, newMockSyncer(), brokenLocker{}), time.Second, nil)
	run := queueRun(t, runRepo)

	processed, err := worker.ProcessNext(context.Background())
	if !processed || err == nil {
		t.Fatalf("expected processed run with error, got processed=%v err=%v", processed, err)
	}
	if status := runRepo.get(run.ID).Status; status != models.RunStatusFailed {
		t.Errorf("expected failed, got %s", status)
	}
}

func TestRunWorker_ProcessNext_TenantScopeFailureFailsRun(t *testing.T) {
	runRepo := newMockRunRepo()
	syncer := NewMetadataSyncService(MetadataSyncDeps{
		TenantContext: func(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
			return nil, nil, errors.New("too many connections")
		},
		SystemContext: noopSystemContext,
		Runs:          runRepo,
	}, nil)
	worker := NewRunWorker(noopSystemContext, runRepo, newTestTrigger(runRepo, syncer, runlock.NewMemoryLocker()), time.Second, nil)
	run := queueRun(t, runRepo)

	processed, err := worker.ProcessNext(context.Background())
	if !processed || err == nil {
		t.Fatalf("expected processed run with error, got processed=%v err=%v", processed, err)
	}
	stored := runRepo.get(run.ID)
	if stored.Status != models.RunStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if stored.ErrorMessage == nil || !strings.Contains(*stored.ErrorMessage, "too many connections") {
		t.Errorf("expected scope message, got %v", stored.ErrorMessage)
	}
}
