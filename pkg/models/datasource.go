package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectorKind groups connectors by the shape of the system they talk to.
type ConnectorKind string

const (
	ConnectorKindJDBC         ConnectorKind = "jdbc"
	ConnectorKindWarehouse    ConnectorKind = "warehouse"
	ConnectorKindObjectStore  ConnectorKind = "object_store"
	ConnectorKindUnstructured ConnectorKind = "unstructured"
	ConnectorKindAPI          ConnectorKind = "api"
	ConnectorKindFile         ConnectorKind = "file"
)

// Connection health values stored on DataSource.ConnectionStatus.
const (
	ConnectionStatusUnknown = "unknown"
	ConnectionStatusActive  = "active"
	ConnectionStatusError   = "error"
)

// DataSource is a configured connection to an external system.
// ConfigJSON is the stored blob: public settings in clear, credential
// values encrypted in place by the service layer.
type DataSource struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	Name             string         `json:"name"`
	Slug             string         `json:"slug"`
	ConnectorKey     string         `json:"connector_key"`
	ConnectorVersion string         `json:"connector_version"`
	Kind             ConnectorKind  `json:"kind"`
	ConfigJSON       map[string]any `json:"config_json"`
	ConnectionStatus string         `json:"connection_status"`
	LastHealthAt     *time.Time     `json:"last_health_at,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CreatedBy        *uuid.UUID     `json:"created_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
