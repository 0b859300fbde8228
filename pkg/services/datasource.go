package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/crypto"
	"github.com/ekaya-inc/ekaya-catalog/pkg/logging"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
)

// DefaultConnectorVersion is used when a request names no connector version.
const DefaultConnectorVersion = "1.0.0"

// connectionTimeoutKey is the config key extractors read their per-call timeout from.
const connectionTimeoutKey = "connection_timeout"

// ConfigSeparator splits a stored config blob into public settings and
// decrypted credentials, and joins them back.
type ConfigSeparator interface {
	SeparateConfigAndCredentials(configJSON map[string]any, def *models.ConnectorDefinition) (public, credentials map[string]any, err error)
	MergeConfigAndCredentials(config, credentials map[string]any, def *models.ConnectorDefinition) (map[string]any, error)
}

// CreateDataSourceRequest carries a new data source. Config holds public and
// credential values together, in plain text.
type CreateDataSourceRequest struct {
	Name             string
	Slug             string
	ConnectorKey     string
	ConnectorVersion string
	Config           map[string]any
	Tags             []string
	CreatedBy        *uuid.UUID
}

// DataSourceService manages data sources and their sealed credentials.
// All methods expect a tenant-scoped context.
type DataSourceService interface {
	ConfigSeparator

	// Create stores a data source with its credential fields encrypted.
	Create(ctx context.Context, tenantID uuid.UUID, req CreateDataSourceRequest) (*models.DataSource, error)

	// Get returns the stored data source. Credential values stay sealed.
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.DataSource, error)

	// UpdateCredentials replaces credential values, leaving public settings untouched.
	UpdateCredentials(ctx context.Context, tenantID, id uuid.UUID, credentials map[string]any) error

	// TestConnection probes the data source and records the outcome on it.
	TestConnection(ctx context.Context, tenantID, id uuid.UUID) error
}

type dataSourceService struct {
	repo              repositories.DataSourceRepository
	defRepo           repositories.ConnectorDefinitionRepository
	encryptor         *crypto.CredentialEncryptor
	factory           datasource.ExtractorFactory
	connectionTimeout time.Duration
	logger            *zap.Logger
}

// NewDataSourceService creates a data source service. connectionTimeout is
// applied to data sources whose config has no connection_timeout.
func NewDataSourceService(
	repo repositories.DataSourceRepository,
	defRepo repositories.ConnectorDefinitionRepository,
	encryptor *crypto.CredentialEncryptor,
	factory datasource.ExtractorFactory,
	connectionTimeout time.Duration,
	logger *zap.Logger,
) DataSourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if connectionTimeout <= 0 {
		connectionTimeout = 30 * time.Second
	}
	return &dataSourceService{
		repo:              repo,
		defRepo:           defRepo,
		encryptor:         encryptor,
		factory:           factory,
		connectionTimeout: connectionTimeout,
		logger:            logger.Named("datasource"),
	}
}

var _ DataSourceService = (*dataSourceService)(nil)

// CredentialFields returns the config keys that def marks as credentials: the
// properties of its secret schema (or the schema's own keys when it has no
// properties) plus connection schema properties flagged credential: true.
func CredentialFields(def *models.ConnectorDefinition) map[string]struct{} {
	fields := make(map[string]struct{})
	if def == nil {
		return fields
	}

	if len(def.SecretSchema) > 0 {
		if props, ok := def.SecretSchema["properties"].(map[string]any); ok {
			for k := range props {
				fields[k] = struct{}{}
			}
		} else {
			for k := range def.SecretSchema {
				fields[k] = struct{}{}
			}
		}
	}

	if props, ok := def.ConnectionSchema["properties"].(map[string]any); ok {
		for k, v := range props {
			prop, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if flag, _ := prop["credential"].(bool); flag {
				fields[k] = struct{}{}
			}
		}
	}

	return fields
}

func (s *dataSourceService) SeparateConfigAndCredentials(configJSON map[string]any, def *models.ConnectorDefinition) (map[string]any, map[string]any, error) {
	fields := CredentialFields(def)
	decrypted, err := crypto.DecryptConfigCredentials(s.encryptor, configJSON, fields)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
	}

	public := make(map[string]any, len(decrypted))
	credentials := make(map[string]any, len(fields))
	for k, v := range decrypted {
		if _, secret := fields[k]; secret {
			credentials[k] = v
		} else {
			public[k] = v
		}
	}
	return public, credentials, nil
}

func (s *dataSourceService) MergeConfigAndCredentials(config, credentials map[string]any, def *models.ConnectorDefinition) (map[string]any, error) {
	merged := make(map[string]any, len(config)+len(credentials))
	for k, v := range config {
		merged[k] = v
	}
	for k, v := range credentials {
		merged[k] = v
	}
	sealed, err := crypto.EncryptConfigCredentials(s.encryptor, merged, CredentialFields(def))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return sealed, nil
}

func (s *dataSourceService) Create(ctx context.Context, tenantID uuid.UUID, req CreateDataSourceRequest) (*models.DataSource, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("data source name is required")
	}
	if strings.TrimSpace(req.ConnectorKey) == "" {
		return nil, fmt.Errorf("connector key is required")
	}
	if req.ConnectorVersion == "" {
		req.ConnectorVersion = DefaultConnectorVersion
	}
	if req.Slug == "" {
		req.Slug = slugify(req.Name)
	}

	def, err := s.lookupDefinition(ctx, req.ConnectorKey, req.ConnectorVersion)
	if err != nil {
		return nil, err
	}
	if !def.IsEnabled {
		return nil, fmt.Errorf("connector %s is disabled", def.Ref())
	}

	sealed, err := s.MergeConfigAndCredentials(req.Config, nil, def)
	if err != nil {
		return nil, err
	}

	ds := &models.DataSource{
		TenantID:         tenantID,
		Name:             req.Name,
		Slug:             req.Slug,
		ConnectorKey:     def.Key,
		ConnectorVersion: def.Version,
		Kind:             def.Kind,
		ConfigJSON:       sealed,
		ConnectionStatus: models.ConnectionStatusUnknown,
		Tags:             req.Tags,
		CreatedBy:        req.CreatedBy,
	}
	if err := s.repo.Create(ctx, ds); err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}

	s.logger.Info("Created data source",
		zap.String("tenant_id", tenantID.String()),
		zap.String("data_source_id", ds.ID.String()),
		zap.String("connector", def.Ref()),
		zap.Strings("credential_fields", sortedKeys(CredentialFields(def))))

	return ds, nil
}

func (s *dataSourceService) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.DataSource, error) {
	ds, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("data source %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	return ds, nil
}

func (s *dataSourceService) UpdateCredentials(ctx context.Context, tenantID, id uuid.UUID, credentials map[string]any) error {
	ds, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	def, err := s.lookupDefinition(ctx, ds.ConnectorKey, ds.ConnectorVersion)
	if err != nil {
		return err
	}

	fields := CredentialFields(def)
	for k := range credentials {
		if _, ok := fields[k]; !ok {
			return fmt.Errorf("%q is not a credential field of %s", k, def.Ref())
		}
	}

	public, existing, err := s.SeparateConfigAndCredentials(ds.ConfigJSON, def)
	if err != nil {
		return err
	}
	for k, v := range credentials {
		existing[k] = v
	}

	sealed, err := s.MergeConfigAndCredentials(public, existing, def)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateConfig(ctx, tenantID, id, sealed); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (s *dataSourceService) TestConnection(ctx context.Context, tenantID, id uuid.UUID) error {
	ds, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	def, err := s.lookupDefinition(ctx, ds.ConnectorKey, ds.ConnectorVersion)
	if err != nil {
		return err
	}
	public, credentials, err := s.SeparateConfigAndCredentials(ds.ConfigJSON, def)
	if err != nil {
		return err
	}
	public = withConnectionTimeout(public, s.connectionTimeout)

	ext := s.factory.CreateExtractor(ctx, ds.ConnectorKey, ds.ID, tenantID, public, credentials)
	if ext == nil {
		return fmt.Errorf("%w for connector %q; supported connectors: %s",
			apperrors.ErrConnectorNotFound, ds.ConnectorKey, strings.Join(s.factory.SupportedConnectors(), ", "))
	}
	defer func() {
		if err := ext.Close(); err != nil {
			s.logger.Warn("Failed to close extractor", zap.String("data_source_id", id.String()), zap.Error(err))
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()
	probeErr := ext.TestConnection(probeCtx)

	status := models.ConnectionStatusActive
	if probeErr != nil {
		status = models.ConnectionStatusError
	}
	if err := s.repo.UpdateConnectionStatus(ctx, tenantID, id, status, time.Now()); err != nil {
		s.logger.Error("Failed to record connection status",
			zap.String("data_source_id", id.String()),
			zap.Error(err))
	}

	if probeErr != nil {
		s.logger.Warn("Connection test failed",
			zap.String("data_source_id", id.String()),
			zap.String("error", logging.SanitizeError(probeErr)))
		return fmt.Errorf("%w: %s", apperrors.ErrConnectionFailed, logging.SanitizeError(probeErr))
	}
	return nil
}

func (s *dataSourceService) lookupDefinition(ctx context.Context, key, version string) (*models.ConnectorDefinition, error) {
	def, err := s.defRepo.GetByKeyVersion(ctx, key, version)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("connector definition %s@%s not found: %w", key, version, err)
		}
		return nil, fmt.Errorf("failed to get connector definition: %w", err)
	}
	return def, nil
}

// withConnectionTimeout returns cfg with connection_timeout set to the
// default when absent. cfg itself is not modified.
func withConnectionTimeout(cfg map[string]any, timeout time.Duration) map[string]any {
	if _, ok := cfg[connectionTimeoutKey]; ok {
		return cfg
	}
	out := make(map[string]any, len(cfg)+1)
	for k, v := range cfg {
		out[k] = v
	}
	out[connectionTimeoutKey] = int(timeout / time.Second)
	return out
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "datasource-" + uuid.NewString()[:8]
	}
	return slug
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
