package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/session"
)

// fakeAPI is a minimal in-memory bucket behind the API routes used here.
type fakeAPI struct {
	mu       sync.Mutex
	keys     map[string]bool
	failKeys map[string]bool
	access   map[string]api.AccessLevel
	requests atomic.Int32
}

func newFakeAPI(keys ...string) *fakeAPI {
	f := &fakeAPI{keys: map[string]bool{}, failKeys: map[string]bool{}, access: map[string]api.AccessLevel{}}
	for _, k := range keys {
		f.keys[k] = true
	}
	return f
}

func (f *fakeAPI) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

func reply(w http.ResponseWriter, status int, resp *api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	okResp, _ := api.Succeeded("ok", nil)

	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/b/object":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			reply(w, 400, api.Failed(errs.Invalid("bad form")))
			return
		}
		_, hdr, err := r.FormFile("file")
		if err != nil {
			reply(w, 400, api.Failed(errs.Invalid("file missing")))
			return
		}
		key := r.FormValue("prefix") + hdr.Filename
		if f.failKeys[key] {
			reply(w, 500, api.Failed(errs.New(errs.ErrKindQueryFailed, "disk full")))
			return
		}
		f.keys[key] = true
		reply(w, 200, okResp)

	case r.Method == http.MethodPost && r.URL.Path == "/b/folder":
		var body api.FolderRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.keys[body.Folder] = true
		reply(w, 200, okResp)

	case r.Method == http.MethodDelete && r.URL.Path == "/b/folder":
		folder := q.Get("folder")
		if f.failKeys[folder] {
			reply(w, 500, api.Failed(errs.New(errs.ErrKindQueryFailed, "cannot delete")))
			return
		}
		for k := range f.keys {
			if strings.HasPrefix(k, folder) {
				delete(f.keys, k)
			}
		}
		reply(w, 200, okResp)

	case r.Method == http.MethodDelete && r.URL.Path == "/b/object":
		key := q.Get("key")
		if f.failKeys[key] {
			reply(w, 500, api.Failed(errs.New(errs.ErrKindQueryFailed, "cannot delete")))
			return
		}
		delete(f.keys, key)
		reply(w, 200, okResp)

	case r.Method == http.MethodPut && r.URL.Path == "/b/object/rename":
		key, newKey := q.Get("key"), q.Get("newKey")
		if !f.keys[key] {
			reply(w, 404, api.Failed(errs.New(errs.ErrKindNotFound, "no such key")))
			return
		}
		delete(f.keys, key)
		f.keys[newKey] = true
		reply(w, 200, okResp)

	case r.URL.Path == "/b/object/acl":
		key := q.Get("key")
		if r.Method == http.MethodPut {
			var body api.ACLRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.access[key] = body.Access
			reply(w, 200, okResp)
			return
		}
		acl := api.ACL{Owner: api.Owner{ID: "owner"}}
		if f.access[key] == api.AccessRead {
			acl.Grants = []api.Grant{{Grantee: api.Grantee{Type: "Group", URI: api.AllUsersURI}, Permission: "READ"}}
		}
		resp, _ := api.Succeeded("ok", acl)
		reply(w, 200, resp)

	default:
		_, _ = io.Copy(io.Discard, r.Body)
		reply(w, 404, api.Failed(errs.New(errs.ErrKindNotFound, "no route")))
	}
}

type harness struct {
	orch    *Orchestrator
	api     *fakeAPI
	reloads atomic.Int32
	clears  atomic.Int32
	prompts []string
}

func newHarness(t *testing.T, answer bool, keys ...string) *harness {
	t.Helper()
	h := &harness{api: newFakeAPI(keys...)}
	srv := httptest.NewServer(h.api)
	t.Cleanup(srv.Close)

	cfg := api.DefaultConfig(srv.URL)
	cfg.RateLimitQPS = 0
	client, err := api.New(cfg, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	h.orch = New(Options{
		Client:  client,
		Tracker: NewTracker(0, nil),
		Session: func() (session.Session, bool) {
			return session.Session{Bucket: "b", Token: "tok", Endpoint: "https://e"}, true
		},
		Prefix:         func() string { return "docs/" },
		Reload:         func(context.Context) { h.reloads.Add(1) },
		ClearSelection: func() { h.clears.Add(1) },
		Confirm: ConfirmFunc(func(_ context.Context, prompt string) bool {
			mu.Lock()
			h.prompts = append(h.prompts, prompt)
			mu.Unlock()
			return answer
		}),
	})
	return h
}

func TestUpload_Success(t *testing.T) {
	h := newHarness(t, true)
	body := strings.Repeat("z", 64<<10)

	it, err := h.orch.Upload(context.Background(), File{Name: "a.txt", Body: strings.NewReader(body), Size: int64(len(body))}, "docs/")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, it.Status)
	assert.Equal(t, 100, it.Progress)
	assert.True(t, h.api.has("docs/a.txt"))
	assert.Equal(t, int32(1), h.reloads.Load())
}

func TestUpload_Failure(t *testing.T) {
	h := newHarness(t, true)
	h.api.failKeys["docs/bad.txt"] = true

	it, err := h.orch.Upload(context.Background(), File{Name: "bad.txt", Body: strings.NewReader("x"), Size: 1}, "docs/")
	require.Error(t, err)

	assert.Equal(t, StatusError, it.Status)
	assert.Equal(t, "disk full", it.Error)
	assert.False(t, it.FinishedAt.IsZero())
	assert.Zero(t, h.reloads.Load(), "no reload after a failed upload")
}

func TestUpload_EmptyFileWithoutBody(t *testing.T) {
	h := newHarness(t, true)

	item, err := h.orch.Upload(context.Background(), File{Name: "empty.txt"}, "docs/")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, item.Status)
	assert.True(t, h.api.has("docs/empty.txt"))
}

func TestUploadAll(t *testing.T) {
	h := newHarness(t, true)
	h.api.failKeys["docs/2.txt"] = true

	items, err := h.orch.UploadAll(context.Background(), []File{
		{Name: "1.txt", Body: strings.NewReader("1"), Size: 1},
		{Name: "2.txt", Body: strings.NewReader("2"), Size: 1},
		{Name: "3.txt", Body: strings.NewReader("3"), Size: 1},
	}, "docs/")

	require.Error(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, StatusSuccess, items[0].Status)
	assert.Equal(t, StatusError, items[1].Status)
	assert.Equal(t, StatusSuccess, items[2].Status)
	assert.Len(t, h.orch.Tracker().Snapshot(), 3)
}

func TestUpload_NoSession(t *testing.T) {
	orch := New(Options{Session: func() (session.Session, bool) { return session.Session{}, false }})

	_, err := orch.Upload(context.Background(), File{Name: "a", Body: strings.NewReader("")}, "")
	assert.True(t, errs.IsInvalidInput(err))
	assert.Empty(t, orch.Tracker().Snapshot())
}

func TestCreateFolder(t *testing.T) {
	h := newHarness(t, true)

	for _, name := range []string{"", "   ", "/"} {
		ok, err := h.orch.CreateFolder(context.Background(), name)
		assert.False(t, ok)
		assert.True(t, errs.IsInvalidInput(err))
	}
	assert.Zero(t, h.api.requests.Load(), "blank names never reach the network")

	ok, err := h.orch.CreateFolder(context.Background(), " reports ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, h.api.has("docs/reports/"))
	assert.Equal(t, int32(1), h.reloads.Load())
}

func TestDeleteOne_RequiresConfirmation(t *testing.T) {
	declined := newHarness(t, false, "docs/a.txt")
	ok, err := declined.orch.DeleteOne(context.Background(), KindObject, "docs/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, declined.api.has("docs/a.txt"))
	assert.Zero(t, declined.api.requests.Load())
	require.Len(t, declined.prompts, 1)
	assert.Contains(t, declined.prompts[0], "docs/a.txt")

	accepted := newHarness(t, true, "docs/a.txt", "docs/sub/x")
	ok, err = accepted.orch.DeleteOne(context.Background(), KindObject, "docs/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, accepted.api.has("docs/a.txt"))

	ok, err = accepted.orch.DeleteOne(context.Background(), KindFolder, "docs/sub/")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, accepted.api.has("docs/sub/x"))
}

func TestDeleteOne_NilConfirmerDeclines(t *testing.T) {
	orch := New(Options{
		Session: func() (session.Session, bool) { return session.Session{Bucket: "b", Token: "t"}, true },
	})
	ok, err := orch.DeleteOne(context.Background(), KindObject, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteBulk_PartialFailure(t *testing.T) {
	h := newHarness(t, true,
		"docs/f1/a", "docs/f2/b",
		"docs/o1", "docs/o2", "docs/o3",
	)
	h.api.failKeys["docs/o2"] = true

	res, err := h.orch.DeleteBulk(context.Background(),
		[]string{"docs/f1/", "docs/f2/"},
		[]string{"docs/o1", "docs/o2", "docs/o3"},
	)
	require.NoError(t, err)

	assert.False(t, res.OK())
	assert.True(t, res.Confirmed)
	assert.Len(t, res.Deleted, 4)
	require.Contains(t, res.Failed, "docs/o2")
	assert.True(t, errs.IsQueryFailed(res.Failed["docs/o2"]))

	assert.False(t, h.api.has("docs/f1/a"))
	assert.False(t, h.api.has("docs/f2/b"))
	assert.False(t, h.api.has("docs/o1"))
	assert.False(t, h.api.has("docs/o3"))
	assert.True(t, h.api.has("docs/o2"), "failed delete leaves the object in place")

	assert.Equal(t, int32(1), h.reloads.Load())
	assert.Equal(t, int32(1), h.clears.Load())
	assert.Len(t, h.prompts, 1, "one confirmation for the whole batch")
}

func TestDeleteBulk_AllSucceed(t *testing.T) {
	h := newHarness(t, true, "docs/o1", "docs/o2")

	res, err := h.orch.DeleteBulk(context.Background(), nil, []string{"docs/o1", "docs/o2"})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestDeleteBulk_EmptyAndDeclined(t *testing.T) {
	h := newHarness(t, false, "docs/o1")

	_, err := h.orch.DeleteBulk(context.Background(), nil, nil)
	assert.True(t, errs.IsInvalidInput(err))

	res, err := h.orch.DeleteBulk(context.Background(), nil, []string{"docs/o1"})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.False(t, res.Confirmed)
	assert.True(t, h.api.has("docs/o1"))
	assert.Zero(t, h.reloads.Load())
	assert.Zero(t, h.clears.Load())
}

func TestRename(t *testing.T) {
	h := newHarness(t, true, "docs/old.txt")

	assert.True(t, errs.IsInvalidInput(h.orch.Rename(context.Background(), "docs/old.txt", " ")))
	assert.True(t, errs.IsInvalidInput(h.orch.Rename(context.Background(), "docs/old.txt", "docs/old.txt")))

	require.NoError(t, h.orch.Rename(context.Background(), "docs/old.txt", "docs/new.txt"))
	assert.True(t, h.api.has("docs/new.txt"))
	assert.False(t, h.api.has("docs/old.txt"))

	err := h.orch.Rename(context.Background(), "docs/missing", "docs/x")
	assert.True(t, errs.IsNotFound(err))
}

func TestSetPublicAccess_RefetchesACL(t *testing.T) {
	h := newHarness(t, true, "docs/a.txt")

	acl, err := h.orch.SetPublicAccess(context.Background(), "docs/a.txt", "READ")
	require.NoError(t, err)
	assert.Equal(t, api.AccessRead, acl.Access)

	acl, err = h.orch.SetPublicAccess(context.Background(), "docs/a.txt", api.AccessNone)
	require.NoError(t, err)
	assert.Equal(t, api.AccessNone, acl.Access)

	_, err = h.orch.SetPublicAccess(context.Background(), "docs/a.txt", "write")
	assert.True(t, errs.IsInvalidInput(err))
}
