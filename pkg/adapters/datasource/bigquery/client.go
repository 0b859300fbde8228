package bigquery

import (
	"context"
	"errors"
	"fmt"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

type datasetInfo struct {
	ID          string
	Description string
	Location    string
	Labels      map[string]string
}

// bqClient is the slice of the BigQuery API the extractor uses.
type bqClient interface {
	Ping(ctx context.Context) error
	Datasets(ctx context.Context) ([]datasetInfo, error)
	TableIDs(ctx context.Context, dataset string) ([]string, error)
	TableMetadata(ctx context.Context, dataset, table string) (*bq.TableMetadata, error)
	Close() error
}

type gcpClient struct {
	client *bq.Client
}

func newGCPClient(ctx context.Context, cfg *Config) (*gcpClient, error) {
	var opts []option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	}
	client, err := bq.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		if cfg.ServiceAccountJSON == "" {
			// Application default credentials could not be discovered.
			return nil, fmt.Errorf("%w: bigquery default credentials: %w", datasource.ErrDependencyMissing, err)
		}
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &gcpClient{client: client}, nil
}

func (c *gcpClient) Ping(ctx context.Context) error {
	_, err := c.client.Datasets(ctx).Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func (c *gcpClient) Datasets(ctx context.Context) ([]datasetInfo, error) {
	it := c.client.Datasets(ctx)
	var out []datasetInfo
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		info := datasetInfo{ID: ds.DatasetID}
		if md, err := ds.Metadata(ctx); err == nil {
			info.Description, info.Location, info.Labels = md.Description, md.Location, md.Labels
		}
		out = append(out, info)
	}
}

func (c *gcpClient) TableIDs(ctx context.Context, dataset string) ([]string, error) {
	it := c.client.Dataset(dataset).Tables(ctx)
	var out []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t.TableID)
	}
}

func (c *gcpClient) TableMetadata(ctx context.Context, dataset, table string) (*bq.TableMetadata, error) {
	return c.client.Dataset(dataset).Table(table).Metadata(ctx)
}

func (c *gcpClient) Close() error {
	return c.client.Close()
}
