// Package filestore defines the unified interface for object storage backends.
//
// All providers (MinIO, AWS S3 and S3-compatible stores) implement the Store
// interface. Callers depend only on this package, never on a specific
// provider package.
//
// Usage:
//
//	cfg, err := filestore.ConfigFromEndpoint("https://s3.eu-west-1.amazonaws.com", "eu-west-1", key, secret)
//	if err != nil { ... }
//	cfg.DefaultBucket = "photos"
//	store, err := s3.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	folders, err := store.ListFolders(ctx, "photos", "2024/")
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is the single interface all object storage providers must implement.
type Store interface {
	// Ping verifies the backend is reachable and, when the config names a
	// DefaultBucket, that the bucket exists and the credentials can see it.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// ListFolders returns the virtual folders (common prefixes ending in "/")
	// directly under prefix.
	ListFolders(ctx context.Context, bucket, prefix string) ([]string, error)

	// ListObjects returns the objects in bucket that match opts. Folder
	// markers (keys ending in "/") are skipped unless opts.Recursive is set.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// StatObject returns metadata for the object at key without downloading it.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// PutObject writes body to key. size may be -1 when unknown.
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// CopyObject copies srcKey to dstKey inside bucket.
	CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error

	// RemoveObject deletes key. Removing a missing key is not an error.
	RemoveObject(ctx context.Context, bucket, key string) error

	// GetObjectACL returns the access control list of key.
	GetObjectACL(ctx context.Context, bucket, key string) (*ACL, error)

	// PutObjectACL applies a canned ACL (e.g. "private", "public-read") to key.
	PutObjectACL(ctx context.Context, bucket, key, cannedACL string) error

	// PresignGetURL returns a time-limited URL that allows anyone to download
	// the object at key without credentials.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
