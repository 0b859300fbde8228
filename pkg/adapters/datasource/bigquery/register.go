//go:build bigquery || all_adapters

package bigquery

import (
	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "bigquery",
			DisplayName: "Google BigQuery",
			Description: "Catalog BigQuery datasets, tables and views in one GCP project",
		},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			return NewExtractor(cfg, p.Logger)
		},
	})
}
