// Package listing loads the folder and object lists of one prefix of a
// bucket and publishes them together.
//
// Every Load is tagged with a generation number. A load whose generation is
// no longer current when it settles is discarded, so a slow response for a
// previous bucket or prefix can never overwrite the listing the user is
// looking at now. The superseded request's context is cancelled too, but
// correctness does not depend on that.
//
// Usage:
//
//	loader := listing.New(listing.APIFetcher{Client: client}, log)
//	loader.OnPublish(func(listing.Listing) { sel.Clear() })
//	l, ok := loader.Load(ctx, listing.Target{Bucket: s.Bucket, Prefix: nav.Prefix(), Token: s.Token})
package listing

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/logger"
)

// Target names what to load.
type Target struct {
	Bucket string
	Prefix string
	Token  string
}

// Ready reports whether the target can be loaded. A target that is not ready
// means the session is not resolved yet; it is not an error.
func (t Target) Ready() bool {
	return t.Bucket != "" && t.Token != ""
}

// Listing is an immutable snapshot of one prefix. Loaded is false while a
// load is in flight, which is distinct from a loaded empty prefix.
type Listing struct {
	Bucket  string
	Prefix  string
	Folders []string
	Objects []api.Object
	Loaded  bool
}

// Empty reports whether a loaded listing has no entries.
func (l Listing) Empty() bool {
	return l.Loaded && len(l.Folders) == 0 && len(l.Objects) == 0
}

// FolderKeys returns the folder prefixes.
func (l Listing) FolderKeys() []string {
	out := make([]string, len(l.Folders))
	copy(out, l.Folders)
	return out
}

// ObjectKeys returns the object keys in listing order.
func (l Listing) ObjectKeys() []string {
	out := make([]string, len(l.Objects))
	for i, o := range l.Objects {
		out[i] = o.Key
	}
	return out
}

// Keys returns every selectable key in display order: folders, then objects.
func (l Listing) Keys() []string {
	return append(l.FolderKeys(), l.ObjectKeys()...)
}

// IsFolder reports whether key is one of the listed folders.
func (l Listing) IsFolder(key string) bool {
	for _, f := range l.Folders {
		if f == key {
			return true
		}
	}
	return false
}

// Fetcher performs the two list requests.
type Fetcher interface {
	ListFolders(ctx context.Context, t Target) ([]string, error)
	ListObjects(ctx context.Context, t Target) ([]api.Object, error)
}

// APIFetcher fetches through the API client.
type APIFetcher struct {
	Client *api.Client
}

func (f APIFetcher) ListFolders(ctx context.Context, t Target) ([]string, error) {
	return f.Client.Bucket(t.Bucket, t.Token).ListFolders(ctx, t.Prefix)
}

func (f APIFetcher) ListObjects(ctx context.Context, t Target) ([]api.Object, error) {
	return f.Client.Bucket(t.Bucket, t.Token).ListObjects(ctx, t.Prefix)
}

// Loader owns the current listing. It is safe for concurrent use.
type Loader struct {
	fetch Fetcher
	log   *logger.Logger

	mu      sync.Mutex
	gen     uint64
	current Listing
	target  Target
	cancel  context.CancelFunc
	hooks   []func(Listing)
}

// New returns a Loader with an empty, not-loaded listing.
func New(fetch Fetcher, log *logger.Logger) *Loader {
	return &Loader{
		fetch: fetch,
		log:   logger.OrNop(log).Component("listing"),
	}
}

// OnPublish registers fn to run every time the listing is replaced, both
// when a load starts and when it completes. Hooks run while the loader's
// lock is held, in registration order, and must not call back into the
// Loader.
func (l *Loader) OnPublish(fn func(Listing)) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Current returns the published listing.
func (l *Loader) Current() Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Generation returns the number of the latest load or invalidation.
func (l *Loader) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Load fetches folders and objects of t concurrently and publishes them
// together. A failed sub-request yields an empty list for that half only and
// is logged. Load blocks until both requests settle and reports whether its
// result was published; false means t was not ready or a later Load or
// Invalidate superseded this one.
func (l *Loader) Load(ctx context.Context, t Target) (Listing, bool) {
	if !t.Ready() {
		return l.Current(), false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.gen++
	gen := l.gen
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.target = t
	l.publish(Listing{Bucket: t.Bucket, Prefix: t.Prefix})
	l.mu.Unlock()

	var (
		folders []string
		objects []api.Object
		g       errgroup.Group
	)
	g.Go(func() error {
		res, err := l.fetch.ListFolders(ctx, t)
		if err != nil {
			if ctx.Err() == nil {
				l.log.WarnWith("failed to list folders", err, map[string]interface{}{
					"bucket": t.Bucket,
					"prefix": t.Prefix,
				})
			}
			res = nil
		}
		folders = res
		return nil
	})
	g.Go(func() error {
		res, err := l.fetch.ListObjects(ctx, t)
		if err != nil {
			if ctx.Err() == nil {
				l.log.WarnWith("failed to list objects", err, map[string]interface{}{
					"bucket": t.Bucket,
					"prefix": t.Prefix,
				})
			}
			res = nil
		}
		objects = res
		return nil
	})
	_ = g.Wait()

	if folders == nil {
		folders = []string{}
	}
	if objects == nil {
		objects = []api.Object{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen {
		l.log.With().Str("bucket", t.Bucket).Str("prefix", t.Prefix).Logger().
			Debug("discarding superseded listing")
		return l.current, false
	}
	l.cancel = nil
	l.publish(Listing{
		Bucket:  t.Bucket,
		Prefix:  t.Prefix,
		Folders: folders,
		Objects: objects,
		Loaded:  true,
	})
	return l.current, true
}

// Reload loads the last target again.
func (l *Loader) Reload(ctx context.Context) (Listing, bool) {
	l.mu.Lock()
	t := l.target
	l.mu.Unlock()
	return l.Load(ctx, t)
}

// Invalidate logically cancels any in-flight load and clears the listing.
// It is used when the session goes away.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.target = Target{}
	l.publish(Listing{})
}

// publish swaps the listing and runs the hooks. Callers hold l.mu.
func (l *Loader) publish(next Listing) {
	l.current = next
	for _, fn := range l.hooks {
		fn(next)
	}
}
