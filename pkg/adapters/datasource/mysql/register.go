//go:build mysql || all_adapters

package mysql

import (
	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "mysql",
			DisplayName: "MySQL",
			Description: "Catalog MySQL 5.7+ and MariaDB 10+ databases",
		},
		Aliases: []string{"mariadb"},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			return NewExtractor(cfg, p.Logger)
		},
	})
}
