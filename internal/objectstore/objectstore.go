// Package objectstore reads object listings and head metadata from a local
// directory tree or an S3 bucket.
package objectstore

import (
	"context"
	"errors"
	"mime"
	"strings"
	"time"
)

// ErrNotFound is returned by HeadMetadata for missing objects.
var ErrNotFound = errors.New("objectstore: object not found")

// ObjectMetadata is the head information of one object.
type ObjectMetadata struct {
	// ContentType is the media type without parameters.
	ContentType  string
	LastModified time.Time
	// Metadata holds user-defined object metadata.
	Metadata map[string]string
}

// ObjectStore lists objects and fetches their metadata.
type ObjectStore interface {
	HeadMetadata(ctx context.Context, key string) (ObjectMetadata, error)
	// ListObjects returns keys under root matching any of patterns,
	// sorted and without duplicates.
	ListObjects(ctx context.Context, root string, patterns []string) ([]string, error)
}

// mediaType strips parameters such as charset from a content type.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return mt
}
