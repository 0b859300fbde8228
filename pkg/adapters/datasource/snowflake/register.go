//go:build snowflake || all_adapters

package snowflake

import (
	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "snowflake",
			DisplayName: "Snowflake",
			Description: "Catalog a Snowflake database with password or key-pair authentication",
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
