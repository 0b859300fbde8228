//go:build sqlite || all_adapters

package sqlite

import (
	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "sqlite",
			DisplayName: "SQLite",
			Description: "Catalog a SQLite database file reachable from the worker",
		},
		Aliases: []string{"sqlite3"},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			return NewExtractor(cfg, p.Logger)
		},
	})
}
