//go:build postgres || all_adapters

package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "postgresql",
			DisplayName: "PostgreSQL",
			Description: "Catalog PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Aliases: []string{"postgres"},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			return NewExtractor(context.Background(), cfg, p.Logger)
		},
	})
}
