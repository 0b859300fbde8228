package databricks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-catalog/pkg/retry"
)

const unityCatalogPath = "/api/2.1/unity-catalog"

// APIError is a non-2xx response from the workspace.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("databricks API %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("databricks API %d: %s", e.StatusCode, e.Message)
}

// IsRetryable is true for rate limiting and server errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type catalogInfo struct {
	Name      string `json:"name"`
	Comment   string `json:"comment"`
	Owner     string `json:"owner"`
	CreatedAt int64  `json:"created_at"`
}

type schemaInfo struct {
	Name        string `json:"name"`
	CatalogName string `json:"catalog_name"`
	Comment     string `json:"comment"`
	Owner       string `json:"owner"`
}

type columnInfo struct {
	Name     string  `json:"name"`
	TypeText string  `json:"type_text"`
	TypeName string  `json:"type_name"`
	Position *int    `json:"position"`
	Nullable *bool   `json:"nullable"`
	Comment  string  `json:"comment"`
	Default  *string `json:"default_value"`
}

type tableInfo struct {
	Name             string       `json:"name"`
	CatalogName      string       `json:"catalog_name"`
	SchemaName       string       `json:"schema_name"`
	TableType        string       `json:"table_type"`
	DataSourceFormat string       `json:"data_source_format"`
	Comment          string       `json:"comment"`
	Owner            string       `json:"owner"`
	StorageLocation  string       `json:"storage_location"`
	UpdatedAt        int64        `json:"updated_at"`
	Columns          []columnInfo `json:"columns"`
}

// client calls the Unity Catalog REST API with a personal access token.
type client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   *retry.Config
}

func newClient(cfg *Config) *client {
	return &client{
		baseURL: cfg.WorkspaceURL + unityCatalogPath,
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: time.Duration(cfg.ConnectionTimeout) * time.Second},
		retry:   retry.DefaultConfig(),
	}
}

// get decodes one page of path into out, retrying transient failures.
func (c *client) get(ctx context.Context, path string, query url.Values, out any) error {
	return retry.DoIfRetryable(ctx, c.retry, func() error {
		return c.getOnce(ctx, path, query, out)
	})
}

func (c *client) getOnce(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			ErrorCode string `json:"error_code"`
			Message   string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			apiErr.ErrorCode, apiErr.Message = payload.ErrorCode, payload.Message
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// paginate follows next_page_token until the listing is exhausted.
func paginate[T any](ctx context.Context, c *client, path, field string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	var all []T
	for {
		var page map[string]json.RawMessage
		if err := c.get(ctx, path, query, &page); err != nil {
			return nil, err
		}
		if raw, ok := page[field]; ok {
			var items []T
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("decode %s: %w", field, err)
			}
			all = append(all, items...)
		}

		var token string
		if raw, ok := page["next_page_token"]; ok {
			_ = json.Unmarshal(raw, &token)
		}
		if token == "" {
			return all, nil
		}
		query.Set("page_token", token)
	}
}

func (c *client) listCatalogs(ctx context.Context) ([]catalogInfo, error) {
	return paginate[catalogInfo](ctx, c, "/catalogs", "catalogs", nil)
}

func (c *client) getCatalog(ctx context.Context, name string) (*catalogInfo, error) {
	var info catalogInfo
	if err := c.get(ctx, "/catalogs/"+url.PathEscape(name), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *client) listSchemas(ctx context.Context, catalog string) ([]schemaInfo, error) {
	return paginate[schemaInfo](ctx, c, "/schemas", "schemas", url.Values{"catalog_name": {catalog}})
}

func (c *client) listTables(ctx context.Context, catalog, schema string) ([]tableInfo, error) {
	return paginate[tableInfo](ctx, c, "/tables", "tables", url.Values{
		"catalog_name": {catalog},
		"schema_name":  {schema},
	})
}
