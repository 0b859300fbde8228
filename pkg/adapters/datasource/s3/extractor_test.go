package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
)

// fakeBucket serves ListObjectsV2 from an in-memory key set, one key per
// page when paging without a delimiter.
type fakeBucket struct {
	keys      []string
	headErr   error
	failUnder string
}

func (f *fakeBucket) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	if f.failUnder != "" && prefix == f.failUnder {
		return nil, errors.New("AccessDenied: Access Denied")
	}
	sort.Strings(f.keys)
	modified := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	object := func(k string) types.Object {
		return types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(k))), LastModified: &modified, ETag: aws.String(`"abc"`)}
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if aws.ToString(in.Delimiter) == "/" {
		seen := map[string]bool{}
		for _, k := range f.keys {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
			out.Contents = append(out.Contents, object(k))
		}
		return out, nil
	}

	var matching []string
	for _, k := range f.keys {
		if strings.HasPrefix(k, prefix) && k > aws.ToString(in.ContinuationToken) {
			matching = append(matching, k)
		}
	}
	if len(matching) > 0 {
		out.Contents = []types.Object{object(matching[0])}
	}
	if len(matching) > 1 {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(matching[0])
	}
	return out, nil
}

func newTestExtractor(t *testing.T, bucket *fakeBucket, maxObjects int) *Extractor {
	cfg := &Config{Region: "us-east-1", Bucket: "lake", MaxObjectsPerPrefix: maxObjects, ConnectionTimeout: 5}
	return newExtractorWithClient(cfg, bucket, zaptest.NewLogger(t))
}

func TestExtractMetadata(t *testing.T) {
	bucket := &fakeBucket{keys: []string{
		"README.md",
		"raw/",
		"raw/2024/events.json.gz",
		"raw/2024/users.csv",
		"curated/orders.parquet",
	}}
	ext := newTestExtractor(t, bucket, 100)

	require.NoError(t, ext.TestConnection(context.Background()))

	result, err := ext.ExtractMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, datasource.ExtractionStatusSuccess, result.Status)

	require.Len(t, result.Databases, 1)
	assert.Equal(t, models.AssetTypeBucket, result.Databases[0].AssetType)
	assert.Equal(t, "s3.lake", result.Databases[0].QualifiedName)

	require.Len(t, result.Schemas, 2)
	assert.Equal(t, "curated/", result.Schemas[0].Name)
	assert.Equal(t, models.AssetTypePrefix, result.Schemas[0].AssetType)
	assert.Equal(t, "s3.lake.raw/", result.Schemas[1].QualifiedName)

	byKey := map[string]datasource.TableMetadata{}
	for _, tbl := range result.Tables {
		assert.Equal(t, datasource.TableTypeObject, tbl.TableType)
		byKey[tbl.Properties["key"].(string)] = tbl
	}
	require.Len(t, byKey, 4, "directory markers are skipped")

	readme := byKey["README.md"]
	assert.Equal(t, "", readme.SchemaName)
	assert.Equal(t, "s3.lake.README.md", readme.QualifiedName)

	events := byKey["raw/2024/events.json.gz"]
	assert.Equal(t, "events.json.gz", events.Name)
	assert.Equal(t, "raw/", events.SchemaName)
	assert.Equal(t, "json", events.Properties["content_format"])
	assert.Equal(t, "abc", events.Properties["etag"])
	require.NotNil(t, events.SizeBytes)

	assert.Equal(t, "parquet", byKey["curated/orders.parquet"].Properties["content_format"])
	assert.Empty(t, result.Columns)
}

func TestExtractMetadata_PrefixCapIsWarning(t *testing.T) {
	var keys []string
	for i := 0; i < 5; i++ {
		keys = append(keys, fmt.Sprintf("logs/part-%d.csv", i))
	}
	ext := newTestExtractor(t, &fakeBucket{keys: keys}, 3)

	result, err := ext.ExtractMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, datasource.ExtractionStatusSuccess, result.Status)
	assert.Len(t, result.Tables, 3)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "logs/")
}

func TestExtractMetadata_PrefixFailureIsPartial(t *testing.T) {
	bucket := &fakeBucket{keys: []string{"a/1.csv", "b/2.csv"}, failUnder: "b/"}

	result, err := newTestExtractor(t, bucket, 10).ExtractMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, datasource.ExtractionStatusPartial, result.Status)
	assert.Len(t, result.Schemas, 2)
	assert.Len(t, result.Tables, 1)
}

func TestExtractMetadata_BucketUnreadable(t *testing.T) {
	ext := newTestExtractor(t, &fakeBucket{failUnder: "x"}, 10)
	ext.config.Prefix = "x"

	_, err := ext.ExtractMetadata(context.Background())
	require.Error(t, err)
}

func TestTestConnection_Failure(t *testing.T) {
	ext := newTestExtractor(t, &fakeBucket{headErr: errors.New("NotFound")}, 10)
	assert.ErrorContains(t, ext.TestConnection(context.Background()), "head bucket lake")
}

func TestTestConnection_HalfKeyPair(t *testing.T) {
	cfg, err := FromParams(datasource.Params{Config: map[string]any{"bucket": "lake"}, Credentials: map[string]any{"access_key_id": "AKIA"}})
	require.NoError(t, err)

	ext := newExtractorWithClient(cfg, &fakeBucket{}, zaptest.NewLogger(t))
	err = ext.TestConnection(context.Background())
	require.ErrorIs(t, err, datasource.ErrCredentialsMissing)
	assert.Contains(t, err.Error(), "authentication credentials not configured")
}

func TestFromParams(t *testing.T) {
	cfg, err := FromParams(datasource.Params{
		Config:      map[string]any{"bucket": "lake", "prefix": "/raw/", "endpoint": "http://minio:9000", "use_path_style": true},
		Credentials: map[string]any{"access_key_id": "AKIA", "secret_access_key": "s"},
	})
	require.NoError(t, err)
	assert.Equal(t, "raw/", cfg.Prefix)
	assert.Equal(t, 1000, cfg.MaxObjectsPerPrefix)
	assert.True(t, cfg.UsePathStyle)

	_, err = FromParams(datasource.Params{Config: map[string]any{}})
	assert.Error(t, err)
}

func TestContentFormat(t *testing.T) {
	assert.Equal(t, "csv", contentFormat("a/b/c.CSV"))
	assert.Equal(t, "jsonl", contentFormat("events.ndjson.zst"))
	assert.Equal(t, "unknown", contentFormat("Makefile"))
}

func TestNewExtractor_UnknownProfileIsDependencyMissing(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	t.Setenv("AWS_CONFIG_FILE", empty)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", empty)
	t.Setenv("AWS_PROFILE", "catalog-missing")

	_, err := NewExtractor(context.Background(), &Config{Region: "us-east-1", Bucket: "lake"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, datasource.ErrDependencyMissing)
}
