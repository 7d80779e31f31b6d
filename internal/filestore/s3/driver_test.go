package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
)

const listing = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>b</Name>
  <Prefix>docs/</Prefix>
  <Delimiter>/</Delimiter>
  <KeyCount>4</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>docs/</Key>
    <LastModified>2024-01-02T03:04:05.000Z</LastModified>
    <ETag>&quot;d41d8cd98f00b204e9800998ecf8427e&quot;</ETag>
    <Size>0</Size>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
  <Contents>
    <Key>docs/a.txt</Key>
    <LastModified>2024-01-02T03:04:05.000Z</LastModified>
    <ETag>&quot;abc&quot;</ETag>
    <Size>12</Size>
    <Owner><ID>o1</ID><DisplayName>me</DisplayName></Owner>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
  <CommonPrefixes><Prefix>docs/img/</Prefix></CommonPrefixes>
  <CommonPrefixes><Prefix>docs/raw/</Prefix></CommonPrefixes>
</ListBucketResult>`

// fakeS3 answers the handful of path-style requests the tests issue.
type fakeS3 struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/b":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && r.URL.Path == "/missing":
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodGet && r.URL.Path == "/b" && r.URL.Query().Get("list-type") == "2":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = fmt.Fprint(w, listing)
	case r.Method == http.MethodHead && r.URL.Path == "/b/docs/a.txt":
		w.Header().Set("Content-Length", "12")
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", "Tue, 02 Jan 2024 03:04:05 GMT")
		w.Header().Set("X-Amz-Meta-Author", "ada")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodDelete:
		f.mu.Lock()
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/b/"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newDriver(t *testing.T, bucket string) (*Driver, *fakeS3, error) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg, err := filestore.ConfigFromEndpoint(srv.URL, "us-east-1", "ak", "sk")
	require.NoError(t, err)
	cfg.DefaultBucket = bucket

	d, err := New(context.Background(), cfg)
	return d, fake, err
}

func TestNew_PingsDefaultBucket(t *testing.T) {
	_, _, err := newDriver(t, "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestListFolders(t *testing.T) {
	d, _, err := newDriver(t, "b")
	require.NoError(t, err)

	folders, err := d.ListFolders(context.Background(), "b", "docs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/img/", "docs/raw/"}, folders)
}

func TestListObjects_SkipsFolderMarker(t *testing.T) {
	d, _, err := newDriver(t, "b")
	require.NoError(t, err)

	objects, err := d.ListObjects(context.Background(), "b", filestore.ListOptions{Prefix: "docs/"})
	require.NoError(t, err)
	require.Len(t, objects, 1)

	obj := objects[0]
	assert.Equal(t, "docs/a.txt", obj.Key)
	assert.Equal(t, int64(12), obj.Size)
	assert.Equal(t, "abc", obj.ETag)
	assert.Equal(t, "STANDARD", obj.StorageClass)
	require.NotNil(t, obj.Owner)
	assert.Equal(t, "me", obj.Owner.DisplayName)

	all, err := d.ListObjects(context.Background(), "b", filestore.ListOptions{Prefix: "docs/", Recursive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2, "recursive listings keep folder markers")
}

func TestStatObject(t *testing.T) {
	d, _, err := newDriver(t, "b")
	require.NoError(t, err)

	info, err := d.StatObject(context.Background(), "b", "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(12), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, "abc", info.ETag)
	assert.Equal(t, "ada", info.Metadata["author"])

	_, err = d.StatObject(context.Background(), "b", "docs/none")
	assert.True(t, errs.IsNotFound(err))
}

func TestRemoveObject(t *testing.T) {
	d, fake, err := newDriver(t, "b")
	require.NoError(t, err)

	require.NoError(t, d.RemoveObject(context.Background(), "b", "docs/a.txt"))
	assert.Equal(t, []string{"docs/a.txt"}, fake.deleted)
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "b/docs/a.txt", copySource("b", "docs/a.txt"))
	assert.Equal(t, "b/my%20docs/r%C3%A9sum%C3%A9.pdf", copySource("b", "my docs/résumé.pdf"))
}

func TestMapError(t *testing.T) {
	status := func(code int) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("http error"),
		}
	}

	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, errs.ErrKindNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, errs.ErrKindPermissionDenied},
		{"acl not supported", &smithy.GenericAPIError{Code: "AccessControlListNotSupported"}, errs.ErrKindInvalidInput},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, errs.ErrKindTimeout},
		{"unknown api error", &smithy.GenericAPIError{Code: "InternalError"}, errs.ErrKindQueryFailed},
		{"bare 404", status(http.StatusNotFound), errs.ErrKindNotFound},
		{"bare 403", status(http.StatusForbidden), errs.ErrKindPermissionDenied},
		{"bare 500", status(http.StatusInternalServerError), errs.ErrKindQueryFailed},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op failed")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

var _ filestore.Store = (*Driver)(nil)
