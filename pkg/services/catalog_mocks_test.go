package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/repositories"
)

// noopTenantContext hands back the caller's context unchanged.
func noopTenantContext(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func noopSystemContext(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// mockDataSourceRepo is an in-memory DataSourceRepository.
type mockDataSourceRepo struct {
	mu          sync.Mutex
	sources     map[uuid.UUID]*models.DataSource
	createErr   error
	getErr      error
	statusCalls []string
}

func newMockDataSourceRepo(sources ...*models.DataSource) *mockDataSourceRepo {
	m := &mockDataSourceRepo{sources: make(map[uuid.UUID]*models.DataSource)}
	for _, ds := range sources {
		m.sources[ds.ID] = ds
	}
	return m
}

func (m *mockDataSourceRepo) Create(ctx context.Context, ds *models.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	ds.ID = uuid.New()
	m.sources[ds.ID] = ds
	return nil
}

func (m *mockDataSourceRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	ds, ok := m.sources[id]
	if !ok || ds.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	return ds, nil
}

func (m *mockDataSourceRepo) UpdateConfig(ctx context.Context, tenantID, id uuid.UUID, configJSON map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sources[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.ConfigJSON = configJSON
	return nil
}

func (m *mockDataSourceRepo) UpdateConnectionStatus(ctx context.Context, tenantID, id uuid.UUID, status string, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sources[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.ConnectionStatus = status
	ds.LastHealthAt = &checkedAt
	m.statusCalls = append(m.statusCalls, status)
	return nil
}

// mockDefinitionRepo is an in-memory ConnectorDefinitionRepository.
type mockDefinitionRepo struct {
	mu        sync.Mutex
	defs      map[string]*models.ConnectorDefinition
	upsertErr error
	upserts   int
}

func newMockDefinitionRepo(defs ...*models.ConnectorDefinition) *mockDefinitionRepo {
	m := &mockDefinitionRepo{defs: make(map[string]*models.ConnectorDefinition)}
	for _, d := range defs {
		m.defs[d.Ref()] = d
	}
	return m
}

func (m *mockDefinitionRepo) GetByKeyVersion(ctx context.Context, key, version string) (*models.ConnectorDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[key+"@"+version]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return def, nil
}

func (m *mockDefinitionRepo) Upsert(ctx context.Context, def *models.ConnectorDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	if existing, ok := m.defs[def.Ref()]; ok {
		def.ID = existing.ID
	} else if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	m.defs[def.Ref()] = def
	return nil
}

func (m *mockDefinitionRepo) List(ctx context.Context) ([]*models.ConnectorDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ConnectorDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref() < out[j].Ref() })
	return out, nil
}

// mockRunRepo is an in-memory ConnectorRunRepository that records every update.
type mockRunRepo struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*models.ConnectorRun
	updates   []models.RunUpdate
	queue     []*models.ConnectorRun
	createErr error
	claimErr  error

	// failUpdates makes the next n Update calls fail.
	failUpdates int
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[uuid.UUID]*models.ConnectorRun)}
}

func (m *mockRunRepo) Create(ctx context.Context, run *models.ConnectorRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockRunRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (m *mockRunRepo) Update(ctx context.Context, tenantID, id uuid.UUID, update models.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates > 0 {
		m.failUpdates--
		return errors.New("connection reset by peer")
	}
	run, ok := m.runs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	m.updates = append(m.updates, update)
	run.Status = update.Status
	if update.StartedAt != nil {
		run.StartedAt = *update.StartedAt
	}
	if update.FinishedAt != nil {
		run.FinishedAt = update.FinishedAt
	}
	run.ErrorMessage = update.ErrorMessage
	if update.Metrics != nil {
		run.Metrics = *update.Metrics
	}
	return nil
}

func (m *mockRunRepo) ListByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID, limit int) ([]*models.ConnectorRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConnectorRun
	for _, r := range m.runs {
		if r.DataSourceID == dataSourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRunRepo) ClaimNextQueued(ctx context.Context, runType models.RunType) (*models.ConnectorRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	if len(m.queue) == 0 {
		return nil, nil
	}
	run := m.queue[0]
	m.queue = m.queue[1:]
	run.Status = models.RunStatusRunning
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockRunRepo) get(id uuid.UUID) *models.ConnectorRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

// memoryAssetRepo keeps a committed asset tree and stages writes per
// transaction, dropping them when the callback fails.
type memoryAssetRepo struct {
	mu     sync.Mutex
	assets []*models.Asset
	fields []*models.AssetField

	// failInsertAt makes the n-th InsertAssets call of a transaction fail (1-based).
	failInsertAt  int
	failFields    bool
	deleteCalls   int
	insertedTotal int
}

type memoryAssetTx struct {
	repo         *memoryAssetRepo
	assets       []*models.Asset
	fields       []*models.AssetField
	insertCalls  int
	deleteCalled bool
}

func (r *memoryAssetRepo) InTx(ctx context.Context, fn func(tx repositories.AssetTx) error) error {
	r.mu.Lock()
	tx := &memoryAssetTx{
		repo:   r,
		assets: append([]*models.Asset(nil), r.assets...),
		fields: append([]*models.AssetField(nil), r.fields...),
	}
	r.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = tx.assets
	r.fields = tx.fields
	if tx.deleteCalled {
		r.deleteCalls++
	}
	return nil
}

func (r *memoryAssetRepo) ListByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) ([]*models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Asset
	for _, a := range r.assets {
		if a.TenantID == tenantID && a.DataSourceID == dataSourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryAssetRepo) ListFields(ctx context.Context, tenantID, assetID uuid.UUID) ([]*models.AssetField, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AssetField
	for _, f := range r.fields {
		if f.AssetID == assetID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memoryAssetRepo) CountByType(ctx context.Context, tenantID, dataSourceID uuid.UUID) (map[models.AssetType]int, error) {
	assets, _ := r.ListByDataSource(ctx, tenantID, dataSourceID)
	counts := make(map[models.AssetType]int)
	for _, a := range assets {
		counts[a.Type]++
	}
	return counts, nil
}

func (r *memoryAssetRepo) snapshot() ([]*models.Asset, []*models.AssetField) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Asset(nil), r.assets...), append([]*models.AssetField(nil), r.fields...)
}

func (t *memoryAssetTx) LockDataSource(ctx context.Context, dataSourceID uuid.UUID) error {
	return nil
}

func (t *memoryAssetTx) DeleteFieldsByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) (int64, error) {
	owned := make(map[uuid.UUID]bool)
	for _, a := range t.assets {
		if a.DataSourceID == dataSourceID {
			owned[a.ID] = true
		}
	}
	kept := t.fields[:0:0]
	var deleted int64
	for _, f := range t.fields {
		if owned[f.AssetID] {
			deleted++
			continue
		}
		kept = append(kept, f)
	}
	t.fields = kept
	t.deleteCalled = true
	return deleted, nil
}

func (t *memoryAssetTx) DeleteAssetsByDataSource(ctx context.Context, tenantID, dataSourceID uuid.UUID) (int64, error) {
	kept := t.assets[:0:0]
	var deleted int64
	for _, a := range t.assets {
		if a.TenantID == tenantID && a.DataSourceID == dataSourceID {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	t.assets = kept
	return deleted, nil
}

var errInsertFailed = errors.New("copy failed: connection reset")

func (t *memoryAssetTx) InsertAssets(ctx context.Context, assets []*models.Asset) (int64, error) {
	t.insertCalls++
	if t.repo.failInsertAt == t.insertCalls {
		return 0, errInsertFailed
	}
	names := make(map[string]bool, len(t.assets))
	for _, a := range t.assets {
		names[a.DataSourceID.String()+a.QualifiedName] = true
	}
	for _, a := range assets {
		if names[a.DataSourceID.String()+a.QualifiedName] {
			return 0, apperrors.ErrConflict
		}
		names[a.DataSourceID.String()+a.QualifiedName] = true
	}
	t.assets = append(t.assets, assets...)
	return int64(len(assets)), nil
}

func (t *memoryAssetTx) InsertFields(ctx context.Context, fields []*models.AssetField) (int64, error) {
	if t.repo.failFields {
		return 0, errInsertFailed
	}
	t.fields = append(t.fields, fields...)
	return int64(len(fields)), nil
}

// mockExtractor returns a canned result and records its calls.
type mockExtractor struct {
	testErr    error
	extractErr error
	result     *datasource.ExtractionResult
	panicOn    string

	testCalls    int
	extractCalls int
	closed       bool
}

func (e *mockExtractor) SupportedAssetTypes() []models.AssetType {
	return []models.AssetType{models.AssetTypeDatabase, models.AssetTypeTable, models.AssetTypeColumn}
}

func (e *mockExtractor) TestConnection(ctx context.Context) error {
	e.testCalls++
	if e.panicOn == "test" {
		panic("driver exploded")
	}
	return e.testErr
}

func (e *mockExtractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	e.extractCalls++
	if e.panicOn == "extract" {
		panic("driver exploded")
	}
	if e.extractErr != nil {
		return nil, e.extractErr
	}
	return e.result, nil
}

func (e *mockExtractor) Close() error {
	e.closed = true
	return nil
}

// mockFactory returns the same extractor for every supported key.
type mockFactory struct {
	extractor *mockExtractor
	supported []string

	capturedKey         string
	capturedConfig      map[string]any
	capturedCredentials map[string]any
}

func (f *mockFactory) CreateExtractor(ctx context.Context, connectorKey string, dataSourceID, tenantID uuid.UUID, config, credentials map[string]any) datasource.Extractor {
	f.capturedKey = connectorKey
	f.capturedConfig = config
	f.capturedCredentials = credentials
	for _, k := range f.supported {
		if k == connectorKey && f.extractor != nil {
			return f.extractor
		}
	}
	return nil
}

func (f *mockFactory) SupportedConnectors() []string {
	return f.supported
}

// mysqlDefinition mirrors the built-in MySQL definition.
func mysqlDefinition() *models.ConnectorDefinition {
	return &models.ConnectorDefinition{
		ID:        uuid.New(),
		Key:       "mysql",
		Version:   "1.0.0",
		Kind:      models.ConnectorKindJDBC,
		IsEnabled: true,
		ConnectionSchema: map[string]any{
			"properties": map[string]any{
				"host":     map[string]any{"type": "string"},
				"port":     map[string]any{"type": "integer"},
				"database": map[string]any{"type": "string"},
			},
		},
		SecretSchema: map[string]any{
			"properties": map[string]any{
				"username": map[string]any{"type": "string"},
				"password": map[string]any{"type": "string"},
			},
		},
	}
}

// shopResult is one database with two tables and their columns.
func shopResult() *datasource.ExtractionResult {
	r := &datasource.ExtractionResult{
		Databases: []datasource.DatabaseMetadata{{Name: "shop", QualifiedName: "mysql.db1.shop"}},
		Schemas: []datasource.SchemaMetadata{
			{Name: "shop", QualifiedName: "mysql.db1.shop.schema", DatabaseName: "shop"},
		},
		Tables: []datasource.TableMetadata{
			{Name: "customers", QualifiedName: "mysql.db1.shop.customers", SchemaName: "shop", DatabaseName: "shop", TableType: datasource.TableTypeTable},
			{Name: "orders", QualifiedName: "mysql.db1.shop.orders", SchemaName: "shop", DatabaseName: "shop", TableType: datasource.TableTypeTable},
		},
		Columns: []datasource.ColumnMetadata{
			{Name: "id", TableQualifiedName: "mysql.db1.shop.customers", OrdinalPosition: 1, DataType: "INT", IsPrimaryKey: true},
			{Name: "email", TableQualifiedName: "mysql.db1.shop.customers", OrdinalPosition: 2, DataType: "VARCHAR(255)", IsNullable: true},
			{Name: "id", TableQualifiedName: "mysql.db1.shop.orders", OrdinalPosition: 1, DataType: "INT", IsPrimaryKey: true},
		},
	}
	return r.Finalize()
}
