package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bmatcuk/doublestar/v4"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Store serves objects from one bucket.
type S3Store struct {
	client S3API
	bucket string
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store wraps client for bucket.
func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// NewS3StoreFromConfig builds a client from an AWS config.
func NewS3StoreFromConfig(cfg aws.Config, bucket, endpoint string, usePathStyle bool) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})
	return NewS3Store(client, bucket)
}

// HeadMetadata issues HeadObject for key.
func (s *S3Store) HeadMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return ObjectMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectMetadata{}, fmt.Errorf("head object %s: %w", key, err)
	}

	meta := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		meta[k] = v
	}
	return ObjectMetadata{
		ContentType:  mediaType(aws.ToString(out.ContentType)),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     meta,
	}, nil
}

// ListObjects pages through keys under the root prefix and keeps those
// whose path relative to root matches a pattern.
func (s *S3Store) ListObjects(ctx context.Context, root string, patterns []string) ([]string, error) {
	prefix := strings.TrimPrefix(root, "./")
	if prefix == "." {
		prefix = ""
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}

	seen := make(map[string]struct{})
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel := strings.TrimPrefix(key, prefix)
			for _, p := range patterns {
				if doublestar.MatchUnvalidated(p, rel) {
					seen[key] = struct{}{}
					break
				}
			}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
