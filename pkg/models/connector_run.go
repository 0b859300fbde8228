package models

import (
	"time"

	"github.com/google/uuid"
)

// RunType identifies what a connector run does.
type RunType string

const (
	RunTypeMetadata RunType = "metadata"
	RunTypeProfile  RunType = "profile"
	RunTypeSample   RunType = "sample"
	RunTypeLineage  RunType = "lineage"
	RunTypeSync     RunType = "sync"
)

// RunStatus is the lifecycle state of a connector run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions happen from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run triggers recorded on ConnectorRun.Trigger.
const (
	RunTriggerManual    = "manual"
	RunTriggerScheduled = "scheduled"
	RunTriggerAPI       = "api"
)

// ConnectorRun records one execution of a connector job against a data source.
type ConnectorRun struct {
	ID           uuid.UUID      `json:"id"`
	TenantID     uuid.UUID      `json:"tenant_id"`
	DataSourceID uuid.UUID      `json:"data_source_id"`
	RunType      RunType        `json:"run_type"`
	Trigger      string         `json:"trigger"`
	Params       map[string]any `json:"params,omitempty"`
	Status       RunStatus      `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Metrics      RunMetrics     `json:"metrics"`
	CreatedBy    *uuid.UUID     `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RunMetrics is the summary stored on a finished metadata run.
type RunMetrics struct {
	MetadataCounts      *PersistCounts `json:"metadata_counts,omitempty"`
	ExtractionTimestamp *time.Time     `json:"extraction_timestamp,omitempty"`
	Warnings            int            `json:"warnings,omitempty"`
}

// RunUpdate is the set of fields written on a status transition.
type RunUpdate struct {
	Status       RunStatus
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
	Metrics      *RunMetrics
}
