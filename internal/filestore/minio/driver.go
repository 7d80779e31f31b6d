// Package minio provides a MinIO implementation of filestore.Store.
//
// MinIO has no object ACLs. GetObjectACL reports the canned ACL the object
// was written with (X-Amz-Acl) and PutObjectACL is rejected as invalid input.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	cfg.DefaultBucket = "photos"
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	objects, err := store.ListObjects(ctx, "photos", filestore.ListOptions{Prefix: "2024/"})
package minio

import (
	"context"
	"io"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
)

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	bucket string
}

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, bucket: cfg.DefaultBucket}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// --- filestore.Store implementation ---

// Ping checks the default bucket exists, or lists buckets when none is set.
func (d *Driver) Ping(ctx context.Context) error {
	if d.bucket == "" {
		if _, err := d.client.ListBuckets(ctx); err != nil {
			return mapError(err, "ping failed")
		}
		return nil
	}

	ok, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return mapError(err, "ping failed")
	}
	if !ok {
		return errs.New(errs.ErrKindNotFound, "bucket "+d.bucket+" does not exist")
	}
	return nil
}

// Close is a no-op for MinIO; the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// ListFolders returns the common prefixes directly under prefix.
func (d *Driver) ListFolders(ctx context.Context, bucket, prefix string) ([]string, error) {
	folders := []string{}
	for obj := range d.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list folders")
		}
		if isFolder(obj.Key, prefix) {
			folders = append(folders, obj.Key)
		}
	}
	return folders, nil
}

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	listOpts := miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	}

	results := []filestore.ObjectInfo{}
	for obj := range d.client.ListObjects(ctx, bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}
		if !opts.Recursive && strings.HasSuffix(obj.Key, "/") {
			continue
		}

		results = append(results, toObjectInfo(obj))
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// StatObject returns metadata for the object at key inside bucket
// without downloading its content.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	info := toObjectInfo(stat)
	info.Metadata = make(map[string]string, len(stat.UserMetadata))
	for k, v := range stat.UserMetadata {
		info.Metadata[k] = v
	}
	return &info, nil
}

// PutObject streams body to key.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	up, err := d.client.PutObject(ctx, bucket, key, body, size, miniogo.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}
	return &filestore.ObjectInfo{
		Key:          up.Key,
		Size:         up.Size,
		ContentType:  opts.ContentType,
		ETag:         up.ETag,
		LastModified: up.LastModified,
	}, nil
}

// CopyObject copies srcKey to dstKey server-side.
func (d *Driver) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := d.client.CopyObject(ctx,
		miniogo.CopyDestOptions{Bucket: bucket, Object: dstKey},
		miniogo.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	if err != nil {
		return mapError(err, "failed to copy object")
	}
	return nil
}

// RemoveObject deletes key.
func (d *Driver) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := d.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to remove object")
	}
	return nil
}

// GetObjectACL returns the grants MinIO reports for key. When it reports
// none, the grants are derived from the canned ACL in the object metadata.
func (d *Driver) GetObjectACL(ctx context.Context, bucket, key string) (*filestore.ACL, error) {
	info, err := d.client.GetObjectACL(ctx, bucket, key)
	if err != nil {
		return nil, mapError(err, "failed to get object ACL")
	}
	return toACL(info), nil
}

// PutObjectACL always fails: MinIO does not support object ACLs.
func (d *Driver) PutObjectACL(ctx context.Context, bucket, key, cannedACL string) error {
	return errs.New(errs.ErrKindInvalidInput, "object ACLs are not supported by MinIO")
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

// --- conversions ---

// isFolder reports whether key is a common prefix strictly below prefix.
func isFolder(key, prefix string) bool {
	return strings.HasSuffix(key, "/") && key != prefix
}

func toObjectInfo(obj miniogo.ObjectInfo) filestore.ObjectInfo {
	info := filestore.ObjectInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		ETag:         strings.Trim(obj.ETag, `"`),
		LastModified: obj.LastModified,
		StorageClass: obj.StorageClass,
	}
	if obj.Owner.ID != "" || obj.Owner.DisplayName != "" {
		info.Owner = &filestore.Owner{ID: obj.Owner.ID, DisplayName: obj.Owner.DisplayName}
	}
	return info
}

func toACL(info *miniogo.ObjectInfo) *filestore.ACL {
	acl := &filestore.ACL{
		Owner: filestore.Owner{ID: info.Owner.ID, DisplayName: info.Owner.DisplayName},
	}
	for _, g := range info.Grant {
		grantee := filestore.Grantee{
			ID:          g.Grantee.ID,
			DisplayName: g.Grantee.DisplayName,
			URI:         g.Grantee.URI,
		}
		if grantee.URI != "" {
			grantee.Type = "Group"
		} else {
			grantee.Type = "CanonicalUser"
		}
		acl.Grants = append(acl.Grants, filestore.Grant{Grantee: grantee, Permission: g.Permission})
	}
	if len(acl.Grants) == 0 {
		acl.Grants = filestore.CannedACLGrants(acl.Owner, info.Metadata.Get("X-Amz-Acl"))
	}
	return acl
}
