// Package s3 provides an AWS S3 implementation of filestore.Store on
// aws-sdk-go-v2. It works against any S3-compatible endpoint: addressing is
// always path-style and the endpoint comes from the Config.
//
// Usage:
//
//	cfg, _ := filestore.ConfigFromEndpoint("https://s3.eu-west-1.amazonaws.com", "eu-west-1", key, secret)
//	cfg.DefaultBucket = "photos"
//	store, err := s3.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
package s3

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
)

// DefaultRegion is used when the Config leaves Region empty.
const DefaultRegion = "us-east-1"

// Driver is an S3 implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client   *awss3.Client
	uploader *manager.Uploader
	presign  *awss3.PresignClient
	bucket   string
}

// New builds an S3 client for cfg and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to load aws config", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL())
		}
		o.UsePathStyle = true
	})

	d := &Driver{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  awss3.NewPresignClient(client),
		bucket:   cfg.DefaultBucket,
	}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// --- filestore.Store implementation ---

// Ping heads the default bucket, or lists buckets when none is set.
func (d *Driver) Ping(ctx context.Context) error {
	if d.bucket == "" {
		if _, err := d.client.ListBuckets(ctx, &awss3.ListBucketsInput{}); err != nil {
			return mapError(err, "ping failed")
		}
		return nil
	}

	if _, err := d.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(d.bucket)}); err != nil {
		return mapError(err, "bucket "+d.bucket+" is not reachable")
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *Driver) Close() error {
	return nil
}

// ListFolders returns the common prefixes directly under prefix.
func (d *Driver) ListFolders(ctx context.Context, bucket, prefix string) ([]string, error) {
	p := awss3.NewListObjectsV2Paginator(d.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	folders := []string{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, "failed to list folders")
		}
		for _, cp := range page.CommonPrefixes {
			if name := aws.ToString(cp.Prefix); name != "" && name != prefix {
				folders = append(folders, name)
			}
		}
	}
	return folders, nil
}

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	in := &awss3.ListObjectsV2Input{
		Bucket:     aws.String(bucket),
		Prefix:     aws.String(opts.Prefix),
		FetchOwner: aws.Bool(true),
	}
	if !opts.Recursive {
		in.Delimiter = aws.String("/")
	}

	results := []filestore.ObjectInfo{}
	p := awss3.NewListObjectsV2Paginator(d.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, "failed to list objects")
		}
		for _, obj := range page.Contents {
			if !opts.Recursive && strings.HasSuffix(aws.ToString(obj.Key), "/") {
				continue
			}
			results = append(results, toObjectInfo(obj))
			if opts.Limit > 0 && len(results) >= opts.Limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// StatObject returns metadata for the object at key without downloading it.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	out, err := d.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: aws.ToTime(out.LastModified),
		StorageClass: string(out.StorageClass),
		Metadata:     out.Metadata,
	}, nil
}

// PutObject uploads body through the transfer manager, which switches to a
// multipart upload for large or unsized bodies.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	in := &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}

	out, err := d.uploader.Upload(ctx, in)
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}
	return &filestore.ObjectInfo{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: time.Now().UTC(),
	}, nil
}

// CopyObject copies srcKey to dstKey server-side.
func (d *Driver) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := d.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(bucket, srcKey)),
	})
	if err != nil {
		return mapError(err, "failed to copy object")
	}
	return nil
}

// RemoveObject deletes key.
func (d *Driver) RemoveObject(ctx context.Context, bucket, key string) error {
	_, err := d.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError(err, "failed to remove object")
	}
	return nil
}

// GetObjectACL returns the owner and grants of key.
func (d *Driver) GetObjectACL(ctx context.Context, bucket, key string) (*filestore.ACL, error) {
	out, err := d.client.GetObjectAcl(ctx, &awss3.GetObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to get object ACL")
	}

	acl := &filestore.ACL{}
	if out.Owner != nil {
		acl.Owner = filestore.Owner{ID: aws.ToString(out.Owner.ID), DisplayName: aws.ToString(out.Owner.DisplayName)}
	}
	for _, g := range out.Grants {
		grant := filestore.Grant{Permission: string(g.Permission)}
		if g.Grantee != nil {
			grant.Grantee = filestore.Grantee{
				Type:        string(g.Grantee.Type),
				ID:          aws.ToString(g.Grantee.ID),
				DisplayName: aws.ToString(g.Grantee.DisplayName),
				URI:         aws.ToString(g.Grantee.URI),
			}
		}
		acl.Grants = append(acl.Grants, grant)
	}
	return acl, nil
}

// PutObjectACL applies a canned ACL to key.
func (d *Driver) PutObjectACL(ctx context.Context, bucket, key, cannedACL string) error {
	_, err := d.client.PutObjectAcl(ctx, &awss3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACL(cannedACL),
	})
	if err != nil {
		return mapError(err, "failed to put object ACL")
	}
	return nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := d.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return req.URL, nil
}

// --- conversions ---

// copySource is the URL-encoded "bucket/key" form CopyObject expects.
func copySource(bucket, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}

func toObjectInfo(obj types.Object) filestore.ObjectInfo {
	info := filestore.ObjectInfo{
		Key:          aws.ToString(obj.Key),
		Size:         aws.ToInt64(obj.Size),
		ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
		LastModified: aws.ToTime(obj.LastModified),
		StorageClass: string(obj.StorageClass),
	}
	if obj.Owner != nil {
		info.Owner = &filestore.Owner{ID: aws.ToString(obj.Owner.ID), DisplayName: aws.ToString(obj.Owner.DisplayName)}
	}
	return info
}
