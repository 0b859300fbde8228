package datasource

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

// Extractor reads the structural metadata of one external data source.
// Each implementation owns its connection and must be closed when done.
type Extractor interface {
	// SupportedAssetTypes lists the asset types this connector can produce.
	SupportedAssetTypes() []models.AssetType

	// TestConnection verifies the source is reachable with valid credentials.
	// Returns nil if the connection is healthy. It never mutates the source.
	TestConnection(ctx context.Context) error

	// ExtractMetadata crawls the source hierarchy. Failures below the top
	// level are recorded on the result and the crawl continues; an error is
	// returned only when nothing can be read at all.
	ExtractMetadata(ctx context.Context) (*ExtractionResult, error)

	// Close releases the source connection.
	Close() error
}

// Params carries everything a connector constructor receives.
// Config holds public settings and Credentials the decrypted secrets.
type Params struct {
	ConnectorKey string
	DataSourceID string
	TenantID     string
	Config       map[string]any
	Credentials  map[string]any
	Logger       *zap.Logger // never nil when built by the factory
}

// Value returns key from Credentials, falling back to Config.
func (p Params) Value(key string) (any, bool) {
	if v, ok := p.Credentials[key]; ok {
		return v, true
	}
	v, ok := p.Config[key]
	return v, ok
}
