package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(data any) map[string]any {
	return map[string]any{"success": true, "message": "ok", "data": data}
}

func fail(code, msg string) map[string]any {
	return map[string]any{"success": false, "error": code, "error_message": msg, "error_code": 7}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.RateLimitQPS = 0
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestNew_ValidatesBaseURL(t *testing.T) {
	_, err := New(nil, nil)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = New(DefaultConfig("not a url"), nil)
	assert.True(t, errs.IsInvalidInput(err))

	c, err := New(DefaultConfig("http://localhost:8080/"), nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.base.String())
}

func TestResolveSessions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)

		var body ResolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"t1", "t2"}, body.Sessions)

		writeJSON(w, http.StatusOK, ok([]session.Session{
			{Bucket: "photos", Endpoint: "https://s3.example.com", Token: "t1", Exp: 1700000000000},
		}))
	}))

	got, err := c.ResolveSessions(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "photos", got[0].Bucket)
	assert.Equal(t, int64(1700000000000), got[0].Exp)
}

func TestCreateSession_ValidatesLocally(t *testing.T) {
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, ok(SessionToken{Token: "tok"}))
	}))

	valid := CreateSessionRequest{
		Bucket:          "photos",
		Region:          "us-east-1",
		Endpoint:        "https://s3.example.com",
		AccessKeyID:     "AK",
		SecretAccessKey: "SK",
	}

	tests := []struct {
		name   string
		mutate func(r *CreateSessionRequest)
	}{
		{"missing bucket", func(r *CreateSessionRequest) { r.Bucket = "" }},
		{"blank region", func(r *CreateSessionRequest) { r.Region = "  " }},
		{"missing secret", func(r *CreateSessionRequest) { r.SecretAccessKey = "" }},
		{"endpoint not a url", func(r *CreateSessionRequest) { r.Endpoint = "s3.example.com" }},
		{"endpoint ftp", func(r *CreateSessionRequest) { r.Endpoint = "ftp://s3.example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := c.CreateSession(context.Background(), req)
			assert.True(t, errs.IsInvalidInput(err))
		})
	}
	assert.Zero(t, calls, "validation failures never reach the server")

	tok, err := c.CreateSession(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, 1, calls)
}

func TestServerErrorEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, fail("permission_denied", "token does not grant this bucket"))
	}))

	_, err := c.Bucket("photos", "tok").ListFolders(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.IsPermissionDenied(err))
	assert.Equal(t, "token does not grant this bucket", errs.MessageOf(err))

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 7, e.Code)
	assert.Equal(t, http.StatusForbidden, e.Status)
}

func TestNonEnvelopeBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	}))

	resp := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/health"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Unknown error", resp.Error)
	assert.Equal(t, "Unexpected error occurred", resp.ErrorMessage)
	assert.True(t, errs.IsServer(resp.Err()))
}

func TestTransportFailureIsRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(DefaultConfig(url), nil)
	require.NoError(t, err)

	resp := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/health"})
	assert.False(t, resp.Success)
	assert.Equal(t, "request_failed", resp.Error)
	assert.Equal(t, errs.RequestFailedCode, resp.ErrorCode)

	err = resp.Err()
	assert.True(t, errs.IsRequestFailed(err))
	assert.Equal(t, errs.RequestFailedCode, err.(*errs.Error).Code)
	assert.Error(t, errors.Unwrap(err), "the transport error is kept as the cause")
}

func TestTimeoutIsRequestFailed(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := DefaultConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	c, err := New(cfg, nil)
	require.NoError(t, err)

	err = c.Health(context.Background())
	assert.True(t, errs.IsRequestFailed(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetObject_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/photos/object", r.URL.Path)
		assert.Equal(t, "a/b.jpg", r.URL.Query().Get("key"))
		writeJSON(w, http.StatusNotFound, fail("query_failed", "no such key"))
	}))

	_, err := c.Bucket("photos", "tok").GetObject(context.Background(), "a/b.jpg")
	assert.True(t, errs.IsNotFound(err), "404 wins over the envelope kind")
}

func TestBucketRoutes(t *testing.T) {
	type seen struct {
		method, path, query, auth, body string
	}
	var mu sync.Mutex
	var got []seen

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, seen{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization"), strings.TrimSpace(string(raw))})
		mu.Unlock()

		switch r.URL.Path {
		case "/photos/folders":
			writeJSON(w, http.StatusOK, ok([]string{"a/", "b/"}))
		case "/photos/objects":
			writeJSON(w, http.StatusOK, ok([]Object{{Key: "x.txt", Size: 3, ETag: `"e"`}}))
		case "/photos/object/presign":
			writeJSON(w, http.StatusOK, ok(PresignResult{URL: "https://signed", ExpiresIn: 3600}))
		case "/photos/object/acl":
			if r.Method == http.MethodGet {
				writeJSON(w, http.StatusOK, ok(ACL{Grants: []Grant{{Grantee: Grantee{Type: "Group", URI: AllUsersURI}, Permission: "READ"}}}))
				return
			}
			writeJSON(w, http.StatusOK, ok(nil))
		default:
			writeJSON(w, http.StatusOK, ok(nil))
		}
	}))

	ctx := context.Background()
	b := c.Bucket("photos", "tok")

	folders, err := b.ListFolders(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/", "b/"}, folders)

	objects, err := b.ListObjects(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, "x.txt", objects[0].Key)

	p, err := b.Presign(ctx, "x.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3600), p.ExpiresIn)

	acl, err := b.GetACL(ctx, "x.txt")
	require.NoError(t, err)
	assert.Equal(t, AccessRead, acl.Access)

	require.NoError(t, b.CreateFolder(ctx, "new"))
	require.NoError(t, b.DeleteFolder(ctx, "old/"))
	require.NoError(t, b.DeleteObject(ctx, "x.txt"))
	require.NoError(t, b.RenameObject(ctx, "x.txt", "y.txt"))
	require.NoError(t, b.PutACL(ctx, "y.txt", " Public-Read "))
	require.NoError(t, b.SetPublicAccess(ctx, "y.txt", AccessNone))

	assert.True(t, errs.IsInvalidInput(b.PutACL(ctx, "y.txt", "everyone")))
	assert.True(t, errs.IsInvalidInput(b.SetPublicAccess(ctx, "y.txt", "write")))

	want := []seen{
		{"GET", "/photos/folders", "prefix=", "Bearer tok", ""},
		{"GET", "/photos/objects", "prefix=a%2F", "Bearer tok", ""},
		{"GET", "/photos/object/presign", "key=x.txt", "Bearer tok", ""},
		{"GET", "/photos/object/acl", "key=x.txt", "Bearer tok", ""},
		{"POST", "/photos/folder", "", "Bearer tok", `{"folder":"new"}`},
		{"DELETE", "/photos/folder", "folder=old%2F", "Bearer tok", ""},
		{"DELETE", "/photos/object", "key=x.txt", "Bearer tok", ""},
		{"PUT", "/photos/object/rename", "key=x.txt&newKey=y.txt", "Bearer tok", ""},
		{"PUT", "/photos/object/acl", "key=y.txt", "Bearer tok", `{"acl":"public-read"}`},
		{"PUT", "/photos/object/acl", "key=y.txt", "Bearer tok", `{"access":"none"}`},
	}
	assert.Equal(t, want, got)
}

func TestUploadObject(t *testing.T) {
	payload := strings.Repeat("0123456789", 10_000)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/photos/object", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "docs/", r.FormValue("prefix"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "report.txt", hdr.Filename)
		raw, _ := io.ReadAll(f)
		assert.Equal(t, len(payload), len(raw))

		writeJSON(w, http.StatusOK, ok(nil))
	}))

	var progress []int
	err := c.Bucket("photos", "tok").UploadObject(context.Background(), Upload{
		Name:   "report.txt",
		Body:   strings.NewReader(payload),
		Size:   int64(len(payload)),
		Prefix: "docs/",
	}, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1], "progress is strictly increasing")
	}
}

func TestUploadObject_NilBodyIsEmptyFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "empty.txt", hdr.Filename)
		raw, _ := io.ReadAll(f)
		assert.Empty(t, raw)

		writeJSON(w, http.StatusOK, ok(nil))
	}))

	var progress []int
	err := c.Bucket("photos", "tok").UploadObject(context.Background(), Upload{Name: "empty.txt"},
		func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{100}, progress)
}

func TestUploadObject_ServerRejects(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusRequestEntityTooLarge, fail("invalid_input", "file too large"))
	}))

	err := c.Bucket("photos", "tok").UploadObject(context.Background(), Upload{
		Name: "big.bin",
		Body: strings.NewReader(strings.Repeat("x", 1<<20)),
		Size: 1 << 20,
	}, nil)

	assert.True(t, errs.IsInvalidInput(err))
}

func TestPublicAccess(t *testing.T) {
	assert.Equal(t, AccessNone, PublicAccess(nil))
	assert.Equal(t, AccessNone, PublicAccess([]Grant{{Grantee: Grantee{ID: "owner"}, Permission: "FULL_CONTROL"}}))
	assert.Equal(t, AccessRead, PublicAccess([]Grant{{Grantee: Grantee{URI: AllUsersURI}, Permission: "READ"}}))
	assert.Equal(t, "public-read", AccessRead.CannedACL())
	assert.Equal(t, "private", AccessNone.CannedACL())
}
