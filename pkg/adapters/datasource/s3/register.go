//go:build s3 || all_adapters

package s3

import (
	"context"
	"time"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.ConnectorInfo{
			Key:         "s3",
			DisplayName: "Amazon S3",
			Description: "Catalog buckets, prefixes and objects in S3 or an S3-compatible store",
		},
		Aliases: []string{"minio"},
		New: func(p datasource.Params) (datasource.Extractor, error) {
			cfg, err := FromParams(p)
			if err != nil {
				return nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectionTimeout)*time.Second)
			defer cancel()
			return NewExtractor(ctx, cfg, p.Logger)
		},
	})
}
