package s3

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

const connectorType = "s3"

// s3API is the subset of the S3 client the extractor calls.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Extractor catalogs one bucket: the bucket is the top-level asset, its
// first-level prefixes are the second level, and objects are leaves.
// Objects carry no columns.
type Extractor struct {
	config *Config
	client s3API
	logger *zap.Logger
}

func NewExtractor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Extractor, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", datasource.ErrDependencyMissing, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newExtractorWithClient(cfg, client, logger), nil
}

func newExtractorWithClient(cfg *Config, client s3API, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{config: cfg, client: client, logger: logger}
}

func (e *Extractor) SupportedAssetTypes() []models.AssetType {
	return []models.AssetType{models.AssetTypeBucket, models.AssetTypePrefix, models.AssetTypeObject}
}

func (e *Extractor) TestConnection(ctx context.Context) error {
	if err := e.config.CheckCredentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.ConnectionTimeout)*time.Second)
	defer cancel()

	if _, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(e.config.Bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", e.config.Bucket, err)
	}
	return nil
}

func (e *Extractor) qualify(parts ...string) string {
	return datasource.BuildQualifiedName(append([]string{connectorType}, parts...)...)
}

// ExtractMetadata lists the bucket. Failing to list the top level is
// fatal; a failing prefix is recorded and skipped.
func (e *Extractor) ExtractMetadata(ctx context.Context) (*datasource.ExtractionResult, error) {
	result := &datasource.ExtractionResult{}
	bucket := e.config.Bucket

	top, err := e.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(e.config.Prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(int32(e.config.MaxObjectsPerPrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
	}

	result.Databases = append(result.Databases, datasource.DatabaseMetadata{
		Name:          bucket,
		QualifiedName: e.qualify(bucket),
		AssetType:     models.AssetTypeBucket,
		Properties:    map[string]any{"region": e.config.Region, "prefix": e.config.Prefix},
	})

	for _, obj := range top.Contents {
		if t, ok := e.objectMetadata("", obj.Key, obj.Size, obj.LastModified, obj.ETag, string(obj.StorageClass)); ok {
			result.Tables = append(result.Tables, t)
		}
	}
	if aws.ToBool(top.IsTruncated) {
		result.AddWarning(fmt.Sprintf("bucket %s root listing truncated at %d entries", bucket, e.config.MaxObjectsPerPrefix))
	}

	for _, cp := range top.CommonPrefixes {
		prefix := aws.ToString(cp.Prefix)
		result.Schemas = append(result.Schemas, datasource.SchemaMetadata{
			Name:          prefix,
			QualifiedName: e.qualify(bucket, prefix),
			DatabaseName:  bucket,
			AssetType:     models.AssetTypePrefix,
		})

		objects, truncated, err := e.listPrefix(ctx, prefix)
		if err != nil {
			e.logger.Warn("Failed to list prefix", zap.String("bucket", bucket), zap.String("prefix", prefix), zap.Error(err))
			result.AddError(fmt.Sprintf("failed to list prefix %s: %v", prefix, err))
			continue
		}
		result.Tables = append(result.Tables, objects...)
		if truncated {
			result.AddWarning(fmt.Sprintf("prefix %s truncated at %d objects", prefix, e.config.MaxObjectsPerPrefix))
		}
	}

	e.logger.Info("S3 metadata extracted",
		zap.String("bucket", bucket),
		zap.Int("prefixes", len(result.Schemas)),
		zap.Int("objects", len(result.Tables)),
		zap.Int("errors", len(result.Errors)))

	return result.Finalize(), nil
}

// listPrefix pages through every object under prefix, stopping at the
// configured cap. It reports whether objects were left out.
func (e *Extractor) listPrefix(ctx context.Context, prefix string) ([]datasource.TableMetadata, bool, error) {
	limit := e.config.MaxObjectsPerPrefix
	p := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.config.Bucket),
		Prefix: aws.String(prefix),
	})

	var objects []datasource.TableMetadata
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, obj := range page.Contents {
			if len(objects) >= limit {
				return objects, true, nil
			}
			if t, ok := e.objectMetadata(prefix, obj.Key, obj.Size, obj.LastModified, obj.ETag, string(obj.StorageClass)); ok {
				objects = append(objects, t)
			}
		}
	}
	return objects, false, nil
}

func (e *Extractor) objectMetadata(prefix string, key *string, size *int64, modified *time.Time, etag *string, storageClass string) (datasource.TableMetadata, bool) {
	k := aws.ToString(key)
	if k == "" || strings.HasSuffix(k, "/") {
		return datasource.TableMetadata{}, false
	}

	props := map[string]any{
		"key":            k,
		"etag":           strings.Trim(aws.ToString(etag), `"`),
		"storage_class":  storageClass,
		"content_format": contentFormat(k),
	}
	if modified != nil {
		props["last_modified"] = modified.UTC().Format(time.RFC3339)
	}
	return datasource.TableMetadata{
		Name:          path.Base(k),
		QualifiedName: e.qualify(e.config.Bucket, k),
		SchemaName:    prefix,
		DatabaseName:  e.config.Bucket,
		TableType:     datasource.TableTypeObject,
		SizeBytes:     size,
		Properties:    props,
	}, true
}

// contentFormat guesses the file format from the key's extension,
// ignoring a trailing compression suffix.
func contentFormat(key string) string {
	name := strings.ToLower(path.Base(key))
	for _, c := range []string{".gz", ".snappy", ".zst", ".bz2"} {
		name = strings.TrimSuffix(name, c)
	}
	switch ext := strings.TrimPrefix(path.Ext(name), "."); ext {
	case "csv", "tsv", "json", "parquet", "avro", "orc", "txt", "pdf", "xml":
		return ext
	case "jsonl", "ndjson":
		return "jsonl"
	default:
		return "unknown"
	}
}

// Close is a no-op; the SDK client has nothing to release.
func (e *Extractor) Close() error {
	return nil
}

var _ datasource.Extractor = (*Extractor)(nil)
