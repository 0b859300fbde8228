package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-catalog/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-catalog/pkg/crypto"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

// Test encryption key (32 bytes, base64 encoded) - same as crypto/credentials_test.go
const testEncryptionKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func newTestEncryptor(t *testing.T, key string) *crypto.CredentialEncryptor {
	t.Helper()
	enc, err := crypto.NewCredentialEncryptor(key)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return enc
}

type dataSourceFixture struct {
	svc      DataSourceService
	repo     *mockDataSourceRepo
	defRepo  *mockDefinitionRepo
	factory  *mockFactory
	tenantID uuid.UUID
}

func newDataSourceFixture(t *testing.T) *dataSourceFixture {
	t.Helper()
	f := &dataSourceFixture{
		repo:     newMockDataSourceRepo(),
		defRepo:  newMockDefinitionRepo(mysqlDefinition()),
		factory:  &mockFactory{extractor: &mockExtractor{}, supported: []string{"mysql"}},
		tenantID: uuid.New(),
	}
	f.svc = NewDataSourceService(f.repo, f.defRepo, newTestEncryptor(t, testEncryptionKey), f.factory, 10*time.Second, nil)
	return f
}

func (f *dataSourceFixture) create(t *testing.T) *models.DataSource {
	t.Helper()
	ds, err := f.svc.Create(context.Background(), f.tenantID, CreateDataSourceRequest{
		Name:         "Shop Replica",
		ConnectorKey: "mysql",
		Config: map[string]any{
			"host":     "db1",
			"port":     3306,
			"database": "shop",
			"username": "svc",
			"password": "s3cret",
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return ds
}

func TestCredentialFields(t *testing.T) {
	def := mysqlDefinition()
	def.ConnectionSchema["properties"].(map[string]any)["api_key"] = map[string]any{"type": "string", "credential": true}

	fields := CredentialFields(def)

	for _, want := range []string{"username", "password", "api_key"} {
		if _, ok := fields[want]; !ok {
			t.Errorf("expected %q to be a credential field", want)
		}
	}
	for _, public := range []string{"host", "port", "database"} {
		if _, ok := fields[public]; ok {
			t.Errorf("expected %q to be public", public)
		}
	}
}

func TestCredentialFields_SchemaWithoutProperties(t *testing.T) {
	def := &models.ConnectorDefinition{SecretSchema: map[string]any{"access_token": map[string]any{}}}

	fields := CredentialFields(def)
	if _, ok := fields["access_token"]; !ok || len(fields) != 1 {
		t.Errorf("expected only access_token, got %v", fields)
	}
	if len(CredentialFields(nil)) != 0 {
		t.Error("expected no credential fields for a nil definition")
	}
}

func TestDataSourceService_Create_SealsCredentials(t *testing.T) {
	f := newDataSourceFixture(t)
	ds := f.create(t)

	if ds.Slug != "shop-replica" {
		t.Errorf("expected slug shop-replica, got %q", ds.Slug)
	}
	if ds.ConnectorVersion != DefaultConnectorVersion {
		t.Errorf("expected default version, got %q", ds.ConnectorVersion)
	}
	if ds.ConfigJSON["host"] != "db1" {
		t.Errorf("expected host in clear, got %v", ds.ConfigJSON["host"])
	}
	for _, k := range []string{"username", "password"} {
		if !crypto.IsEncryptedValue(ds.ConfigJSON[k]) {
			t.Errorf("expected %s to be sealed, got %v", k, ds.ConfigJSON[k])
		}
	}
	if strings.Contains(ds.ConfigJSON["password"].(string), "s3cret") {
		t.Error("sealed password contains the plaintext")
	}
}

func TestDataSourceService_Create_Validation(t *testing.T) {
	f := newDataSourceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.tenantID, CreateDataSourceRequest{ConnectorKey: "mysql"}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := f.svc.Create(ctx, f.tenantID, CreateDataSourceRequest{Name: "x"}); err == nil {
		t.Error("expected error for empty connector key")
	}

	_, err := f.svc.Create(ctx, f.tenantID, CreateDataSourceRequest{Name: "x", ConnectorKey: "oracle"})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown connector, got %v", err)
	}
}

func TestDataSourceService_Create_DisabledConnector(t *testing.T) {
	f := newDataSourceFixture(t)
	def, _ := f.defRepo.GetByKeyVersion(context.Background(), "mysql", "1.0.0")
	def.IsEnabled = false

	_, err := f.svc.Create(context.Background(), f.tenantID, CreateDataSourceRequest{Name: "x", ConnectorKey: "mysql"})
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("expected disabled error, got %v", err)
	}
}

func TestDataSourceService_SeparateMergeRoundTrip(t *testing.T) {
	f := newDataSourceFixture(t)
	ds := f.create(t)
	def := mysqlDefinition()

	public, creds, err := f.svc.SeparateConfigAndCredentials(ds.ConfigJSON, def)
	if err != nil {
		t.Fatalf("Separate failed: %v", err)
	}
	if creds["username"] != "svc" || creds["password"] != "s3cret" {
		t.Errorf("unexpected credentials: %v", creds)
	}
	if _, leaked := public["password"]; leaked {
		t.Error("password leaked into public config")
	}
	if public["database"] != "shop" {
		t.Errorf("unexpected public config: %v", public)
	}

	merged, err := f.svc.MergeConfigAndCredentials(public, creds, def)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	public2, creds2, err := f.svc.SeparateConfigAndCredentials(merged, def)
	if err != nil {
		t.Fatalf("second Separate failed: %v", err)
	}
	if creds2["password"] != "s3cret" || public2["host"] != "db1" {
		t.Errorf("round trip changed values: %v %v", public2, creds2)
	}
}

func TestDataSourceService_Separate_WrongKey(t *testing.T) {
	f := newDataSourceFixture(t)
	ds := f.create(t)

	other := NewDataSourceService(f.repo, f.defRepo, newTestEncryptor(t, "a-different-passphrase"), f.factory, 0, nil)
	_, _, err := other.SeparateConfigAndCredentials(ds.ConfigJSON, mysqlDefinition())
	if !errors.Is(err, apperrors.ErrCredentialsKeyMismatch) {
		t.Errorf("expected ErrCredentialsKeyMismatch, got %v", err)
	}
}

func TestDataSourceService_UpdateCredentials(t *testing.T) {
	f := newDataSourceFixture(t)
	ds := f.create(t)
	ctx := context.Background()

	if err := f.svc.UpdateCredentials(ctx, f.tenantID, ds.ID, map[string]any{"password": "rotated"}); err != nil {
		t.Fatalf("UpdateCredentials failed: %v", err)
	}

	stored, _ := f.repo.GetByID(ctx, f.tenantID, ds.ID)
	_, creds, err := f.svc.SeparateConfigAndCredentials(stored.ConfigJSON, mysqlDefinition())
	if err != nil {
		t.Fatalf("Separate failed: %v", err)
	}
	if creds["password"] != "rotated" || creds["username"] != "svc" {
		t.Errorf("unexpected credentials after update: %v", creds)
	}

	if err := f.svc.UpdateCredentials(ctx, f.tenantID, ds.ID, map[string]any{"host": "evil"}); err == nil {
		t.Error("expected error when updating a public field as a credential")
	}
}

func TestDataSourceService_TestConnection_Success(t *testing.T) {
	f := newDataSourceFixture(t)
	ds := f.create(t)

	if err := f.svc.TestConnection(context.Background(), f.tenantID, ds.ID); err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}

	if ds.ConnectionStatus != models.ConnectionStatusActive || ds.LastHealthAt == nil {
		t.Errorf("expected active status with timestamp, got %s %v", ds.ConnectionStatus, ds.LastHealthAt)
	}
	if f.factory.capturedCredentials["password"] != "s3cret" {
		t.Errorf("expected decrypted credentials to reach the factory, got %v", f.factory.capturedCredentials)
	}
	if f.factory.capturedConfig[connectionTimeoutKey] != 10 {
		t.Errorf("expected default connection_timeout 10, got %v", f.factory.capturedConfig[connectionTimeoutKey])
	}
	if !f.factory.extractor.closed {
		t.Error("expected extractor to be closed")
	}
}

func TestDataSourceService_TestConnection_Failure(t *testing.T) {
	f := newDataSourceFixture(t)
	f.factory.extractor.testErr = errors.New("dial tcp: password=hunter2 refused")
	ds := f.create(t)

	err := f.svc.TestConnection(context.Background(), f.tenantID, ds.ID)
	if !errors.Is(err, apperrors.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("error leaks a secret: %v", err)
	}
	if ds.ConnectionStatus != models.ConnectionStatusError {
		t.Errorf("expected status error, got %s", ds.ConnectionStatus)
	}
}

func TestDataSourceService_TestConnection_NoExtractor(t *testing.T) {
	f := newDataSourceFixture(t)
	f.factory.supported = []string{"postgres"}
	ds := f.create(t)

	err := f.svc.TestConnection(context.Background(), f.tenantID, ds.ID)
	if !errors.Is(err, apperrors.ErrConnectorNotFound) {
		t.Fatalf("expected ErrConnectorNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "postgres") {
		t.Errorf("expected supported connectors in message, got %v", err)
	}
	if len(f.repo.statusCalls) != 0 {
		t.Errorf("expected no status update, got %v", f.repo.statusCalls)
	}
}

func TestDataSourceService_Get_NotFound(t *testing.T) {
	f := newDataSourceFixture(t)

	_, err := f.svc.Get(context.Background(), f.tenantID, uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWithConnectionTimeout(t *testing.T) {
	cfg := map[string]any{"host": "db1"}

	got := withConnectionTimeout(cfg, 45*time.Second)
	if got[connectionTimeoutKey] != 45 {
		t.Errorf("expected 45, got %v", got[connectionTimeoutKey])
	}
	if _, mutated := cfg[connectionTimeoutKey]; mutated {
		t.Error("input config was modified")
	}

	explicit := map[string]any{connectionTimeoutKey: 5}
	if withConnectionTimeout(explicit, time.Minute)[connectionTimeoutKey] != 5 {
		t.Error("explicit timeout was overwritten")
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Shop Replica":        "shop-replica",
		"  EU / Prod (main) ": "eu-prod-main",
		"already-slugged":     "already-slugged",
	}
	for in, want := range tests {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugify_NoASCIIFallsBack(t *testing.T) {
	for _, in := range []string{"!!!", "データ倉庫", "Склад"} {
		got := slugify(in)
		if !strings.HasPrefix(got, "datasource-") || len(got) != len("datasource-")+8 {
			t.Errorf("slugify(%q) = %q, want datasource-<8 chars>", in, got)
		}
	}
	if slugify("データ") == slugify("データ") {
		t.Error("fallback slugs should not repeat")
	}
}
