//go:build databricks || all_adapters

package databricks

import (
	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "databricks",
			DisplayName: "Databricks",
			Description: "Catalog Databricks Unity Catalog tables and views",
		},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			return NewExtractor(cfg, p.Logger), nil
		},
	})
}
