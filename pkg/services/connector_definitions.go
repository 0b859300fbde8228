package services

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
)

//go:embed connectors.yaml
var builtinConnectorsYAML []byte

// BuiltinConnectorDefinitions returns the connector definitions shipped with
// the binary, in catalogue order.
func BuiltinConnectorDefinitions() ([]*models.ConnectorDefinition, error) {
	return parseConnectorDefinitions(builtinConnectorsYAML)
}

func parseConnectorDefinitions(data []byte) ([]*models.ConnectorDefinition, error) {
	var defs []*models.ConnectorDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse connector definitions: %w", err)
	}

	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		if def.Key == "" || def.Version == "" {
			return nil, fmt.Errorf("connector definition %d: key and version are required", i)
		}
		if seen[def.Ref()] {
			return nil, fmt.Errorf("duplicate connector definition %s", def.Ref())
		}
		seen[def.Ref()] = true
		if def.Kind == "" {
			def.Kind = models.ConnectorKindJDBC
		}
	}
	return defs, nil
}

// ConnectorDefinitionService seeds and lists connector definitions.
// Definitions are global, so it works on system connections.
type ConnectorDefinitionService interface {
	// Seed upserts every built-in definition and returns how many were written.
	Seed(ctx context.Context) (int, error)

	// List returns the stored definitions.
	List(ctx context.Context) ([]*models.ConnectorDefinition, error)
}

type connectorDefinitionService struct {
	systemCtx SystemContextFunc
	repo      repositories.ConnectorDefinitionRepository
	builtins  func() ([]*models.ConnectorDefinition, error)
	logger    *zap.Logger
}

// NewConnectorDefinitionService creates a connector definition service.
func NewConnectorDefinitionService(
	systemCtx SystemContextFunc,
	repo repositories.ConnectorDefinitionRepository,
	logger *zap.Logger,
) ConnectorDefinitionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &connectorDefinitionService{
		systemCtx: systemCtx,
		repo:      repo,
		builtins:  BuiltinConnectorDefinitions,
		logger:    logger.Named("connector-definitions"),
	}
}

var _ ConnectorDefinitionService = (*connectorDefinitionService)(nil)

func (s *connectorDefinitionService) Seed(ctx context.Context) (int, error) {
	defs, err := s.builtins()
	if err != nil {
		return 0, err
	}

	ctx, cleanup, err := s.systemCtx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	for _, def := range defs {
		if err := s.repo.Upsert(ctx, def); err != nil {
			return 0, err
		}
		s.logger.Debug("Seeded connector definition", zap.String("connector", def.Ref()))
	}

	s.logger.Info("Connector definitions seeded", zap.Int("count", len(defs)))
	return len(defs), nil
}

func (s *connectorDefinitionService) List(ctx context.Context) ([]*models.ConnectorDefinition, error) {
	ctx, cleanup, err := s.systemCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()

	return s.repo.List(ctx)
}
