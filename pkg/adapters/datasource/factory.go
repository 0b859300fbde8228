package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExtractorFactory builds extractors from the registry.
type ExtractorFactory interface {
	// CreateExtractor returns nil when the connector is unknown or cannot be
	// constructed; the reason is logged together with the supported keys.
	CreateExtractor(ctx context.Context, connectorKey string, dataSourceID, tenantID uuid.UUID, config, credentials map[string]any) Extractor

	// SupportedConnectors returns every registered connector key.
	SupportedConnectors() []string
}

type registryFactory struct {
	logger *zap.Logger
}

// NewExtractorFactory returns a factory that uses the global registry.
func NewExtractorFactory(logger *zap.Logger) ExtractorFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger.Named("extractor-factory")}
}

func (f *registryFactory) CreateExtractor(ctx context.Context, connectorKey string, dataSourceID, tenantID uuid.UUID, config, credentials map[string]any) Extractor {
	reg, ok := lookup(connectorKey)
	if !ok {
		f.logger.Warn("No metadata extractor registered",
			zap.String("connector_key", connectorKey),
			zap.Strings("supported_connectors", SupportedConnectors()))
		return nil
	}

	params := Params{
		ConnectorKey: normalizeKey(connectorKey),
		DataSourceID: dataSourceID.String(),
		TenantID:     tenantID.String(),
		Config:       config,
		Credentials:  credentials,
		Logger:       f.logger.Named(normalizeKey(connectorKey)),
	}
	if params.Config == nil {
		params.Config = map[string]any{}
	}
	if params.Credentials == nil {
		params.Credentials = map[string]any{}
	}

	ext, err := construct(reg.New, params)
	if err != nil {
		level := zap.ErrorLevel
		if errors.Is(err, ErrDependencyMissing) {
			level = zap.WarnLevel
		}
		f.logger.Log(level, "Failed to create metadata extractor",
			zap.String("connector_key", connectorKey),
			zap.String("data_source_id", dataSourceID.String()),
			zap.Strings("supported_connectors", SupportedConnectors()),
			zap.Error(err))
		return nil
	}
	return ext
}

// construct shields the caller from constructors that panic.
func construct(ctor Constructor, params Params) (ext Extractor, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	ext, err = ctor(params)
	if err == nil && ext == nil {
		err = fmt.Errorf("constructor returned no extractor")
	}
	return ext, err
}

func (f *registryFactory) SupportedConnectors() []string {
	return SupportedConnectors()
}

// Ensure registryFactory implements ExtractorFactory at compile time.
var _ ExtractorFactory = (*registryFactory)(nil)
