package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectorDefinition describes one version of a connector type, including
// the JSON schemas that say which config keys are credentials.
// Unique per (key, version).
type ConnectorDefinition struct {
	ID               uuid.UUID      `json:"id" yaml:"-"`
	Key              string         `json:"key" yaml:"key"`
	Version          string         `json:"version" yaml:"version"`
	Kind             ConnectorKind  `json:"kind" yaml:"kind"`
	DisplayName      string         `json:"display_name" yaml:"display_name"`
	Description      string         `json:"description,omitempty" yaml:"description"`
	Capabilities     map[string]any `json:"capabilities" yaml:"capabilities"`
	ConnectionSchema map[string]any `json:"connection_schema" yaml:"connection_schema"`
	SecretSchema     map[string]any `json:"secret_schema" yaml:"secret_schema"`
	DocsURL          string         `json:"docs_url,omitempty" yaml:"docs_url"`
	IsEnabled        bool           `json:"is_enabled" yaml:"is_enabled"`
	CreatedAt        time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"-"`
}

// Ref renders the definition as key@version for messages.
func (d *ConnectorDefinition) Ref() string {
	return d.Key + "@" + d.Version
}
