//go:build mssql || all_adapters

package mssql

import (
	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "sqlserver",
			DisplayName: "Microsoft SQL Server",
			Description: "Catalog SQL Server 2016+ and Azure SQL Database",
		},
		Aliases: []string{"mssql"},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			return NewExtractor(cfg, p.Logger)
		},
	})
}
