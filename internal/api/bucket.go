package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// BucketClient scopes calls to one bucket and authenticates them with the
// session token.
type BucketClient struct {
	c      *Client
	bucket string
	token  string
}

// Bucket returns a client for bucket, authenticated with token.
func (c *Client) Bucket(bucket, token string) *BucketClient {
	return &BucketClient{c: c, bucket: bucket, token: token}
}

// Name returns the bucket name.
func (b *BucketClient) Name() string { return b.bucket }

func (b *BucketClient) path(suffix string) string {
	return "/" + url.PathEscape(b.bucket) + suffix
}

func (b *BucketClient) call(ctx context.Context, method, suffix string, query url.Values, body any, out any) error {
	return b.c.call(ctx, Request{
		Method: method,
		Path:   b.path(suffix),
		Query:  query,
		Token:  b.token,
		JSON:   body,
	}, out)
}

// normalizePrefix maps the legacy "/" root to "".
func normalizePrefix(prefix string) string {
	if prefix == "/" {
		return ""
	}
	return prefix
}

// --- folders ---

// ListFolders returns the folder prefixes directly under prefix.
func (b *BucketClient) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := b.call(ctx, http.MethodGet, "/folders", url.Values{"prefix": {normalizePrefix(prefix)}}, nil, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFolder creates the folder name. The name is sent as given; the server
// resolves it against the bucket root.
func (b *BucketClient) CreateFolder(ctx context.Context, name string) error {
	return b.call(ctx, http.MethodPost, "/folder", nil, FolderRequest{Folder: name}, nil)
}

// DeleteFolder removes folder and everything under it.
func (b *BucketClient) DeleteFolder(ctx context.Context, folder string) error {
	return b.call(ctx, http.MethodDelete, "/folder", url.Values{"folder": {folder}}, nil, nil)
}

// --- objects ---

// ListObjects returns the objects directly under prefix.
func (b *BucketClient) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := b.call(ctx, http.MethodGet, "/objects", url.Values{"prefix": {normalizePrefix(prefix)}}, nil, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetObject returns the full metadata of key. A missing object is reported
// as errs.ErrKindNotFound.
func (b *BucketClient) GetObject(ctx context.Context, key string) (*ObjectHead, error) {
	var out ObjectHead
	if err := b.call(ctx, http.MethodGet, "/object", url.Values{"key": {key}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteObject removes key.
func (b *BucketClient) DeleteObject(ctx context.Context, key string) error {
	return b.call(ctx, http.MethodDelete, "/object", url.Values{"key": {key}}, nil, nil)
}

// RenameObject moves key to newKey.
func (b *BucketClient) RenameObject(ctx context.Context, key, newKey string) error {
	return b.call(ctx, http.MethodPut, "/object/rename", url.Values{"key": {key}, "newKey": {newKey}}, nil, nil)
}

// Presign returns a time-limited download URL for key.
func (b *BucketClient) Presign(ctx context.Context, key string) (*PresignResult, error) {
	var out PresignResult
	if err := b.call(ctx, http.MethodGet, "/object/presign", url.Values{"key": {key}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- ACLs ---

// GetACL returns the ACL of key.
func (b *BucketClient) GetACL(ctx context.Context, key string) (*ACL, error) {
	var out ACL
	if err := b.call(ctx, http.MethodGet, "/object/acl", url.Values{"key": {key}}, nil, &out); err != nil {
		return nil, err
	}
	if out.Access == "" {
		out.Access = PublicAccess(out.Grants)
	}
	return &out, nil
}

// PutACL applies a canned ACL to key.
func (b *BucketClient) PutACL(ctx context.Context, key, acl string) error {
	canned, err := NormalizeCannedACL(acl)
	if err != nil {
		return err
	}
	return b.call(ctx, http.MethodPut, "/object/acl", url.Values{"key": {key}}, ACLRequest{ACL: canned}, nil)
}

// SetPublicAccess applies the public-access shortcut to key.
func (b *BucketClient) SetPublicAccess(ctx context.Context, key string, level AccessLevel) error {
	if _, err := ParseAccessLevel(string(level)); err != nil {
		return err
	}
	return b.call(ctx, http.MethodPut, "/object/acl", url.Values{"key": {key}}, ACLRequest{Access: level}, nil)
}

// --- uploads ---

// Upload is one file handed to UploadObject.
type Upload struct {
	// Name is the file name; the object key is Prefix + Name.
	Name string

	Body io.Reader

	// Size is the byte size of Body, used for progress. 0 or less reports
	// progress only on completion.
	Size int64

	Prefix string
}

// ProgressFunc receives upload progress as a whole percentage. Calls are
// strictly increasing.
type ProgressFunc func(percent int)

// UploadObject streams u as a multipart form to PUT /{bucket}/object, with
// the upload timeout instead of the request timeout. A nil Body uploads an
// empty file.
func (b *BucketClient) UploadObject(ctx context.Context, u Upload, progress ProgressFunc) error {
	if u.Body == nil {
		u.Body, u.Size = strings.NewReader(""), 0
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	src := &progressReader{r: u.Body, total: u.Size, fn: progress}
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeUploadForm(mw, u, src))
	}()

	resp := b.c.Do(ctx, Request{
		Method:      http.MethodPut,
		Path:        b.path("/object"),
		Token:       b.token,
		Body:        pr,
		ContentType: mw.FormDataContentType(),
		Timeout:     b.c.cfg.UploadTimeout,
	})
	// Unblocks the writer if the request ended before the body was drained.
	pr.CloseWithError(io.ErrClosedPipe)
	<-written

	if err := resp.Err(); err != nil {
		return err
	}
	src.finish()
	return nil
}

func writeUploadForm(mw *multipart.Writer, u Upload, src io.Reader) error {
	if u.Prefix != "" {
		if err := mw.WriteField("prefix", u.Prefix); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", path.Base(strings.ReplaceAll(u.Name, "\\", "/")))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// progressReader reports the share of total read so far. It only reports
// increases, which keeps the callback monotonic however the reads are sized.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	fn    ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 {
		p.report(int(p.read * 100 / p.total))
	}
	return n, err
}

// finish reports 100 once the server has accepted the upload.
func (p *progressReader) finish() {
	p.report(100)
}

func (p *progressReader) report(percent int) {
	if percent > 100 {
		percent = 100
	}
	if p.fn == nil || percent <= p.last {
		return
	}
	p.last = percent
	p.fn(percent)
}
