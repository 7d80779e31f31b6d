// Package app is the composition root of the OpenBucket client. It wires the
// durable storage, session registry, navigation, listing, selection and
// mutation orchestrator together and exposes the operations a front-end
// drives: connecting and switching buckets, browsing folders, selecting and
// mutating objects.
//
// Usage:
//
//	a, err := app.New(&cfg.Client, log)
//	if err != nil {
//	    return err
//	}
//	if err := a.Start(ctx); err != nil {
//	    log.WarnWith("failed to resolve stored sessions", err, nil)
//	}
//	l := a.Listing()
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/config"
	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/kvstore"
	"github.com/koustreak/openbucket/internal/listing"
	"github.com/koustreak/openbucket/internal/logger"
	"github.com/koustreak/openbucket/internal/navigation"
	"github.com/koustreak/openbucket/internal/orchestrator"
	"github.com/koustreak/openbucket/internal/selection"
	"github.com/koustreak/openbucket/internal/session"
)

// ErrNavigateBack means the object being viewed no longer exists and the
// caller should return to its folder.
var ErrNavigateBack = errors.New("object no longer exists")

// ViewFormat is how the listing is presented.
type ViewFormat string

const (
	ViewList ViewFormat = "list"
	ViewGrid ViewFormat = "grid"
)

// ViewFormatKey is the durable storage key of the view preference.
const ViewFormatKey = "viewFormat"

// Option customises an App.
type Option func(*App)

// WithStore replaces the durable storage opened from the storage path.
func WithStore(kv kvstore.Store) Option {
	return func(a *App) { a.kv = kv }
}

// WithConfirmer sets who answers destructive prompts. Without one every
// destructive operation is declined.
func WithConfirmer(c orchestrator.Confirmer) Option {
	return func(a *App) { a.confirm = c }
}

// WithClock replaces time.Now for session expiry.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// App is safe for concurrent use.
type App struct {
	cfg     config.ClientConfig
	log     *logger.Logger
	kv      kvstore.Store
	confirm orchestrator.Confirmer
	now     func() time.Time

	client   *api.Client
	tokens   *session.TokenStore
	registry *session.Registry
	init     *session.Initializer
	nav      *navigation.Navigator
	sel      *selection.Model
	loader   *listing.Loader
	orch     *orchestrator.Orchestrator
}

// New builds the client from cfg. A nil cfg uses the defaults.
func New(cfg *config.ClientConfig, log *logger.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = &config.DefaultConfig().Client
	}
	log = logger.OrNop(log)

	a := &App{
		cfg: *cfg,
		log: log.Component("app"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.kv == nil {
		a.kv = kvstore.Open(cfg.StoragePath, log)
	}

	client, err := api.New(&a.cfg.Config, log)
	if err != nil {
		return nil, err
	}
	a.client = client

	a.tokens = session.NewTokenStore(a.kv, log)
	a.registry = session.NewRegistry(a.tokens, log)
	a.init = session.NewInitializer(a.tokens, a.registry, client, log)
	a.nav = navigation.New()
	a.sel = selection.New()
	a.loader = listing.New(listing.APIFetcher{Client: client}, log)
	a.loader.OnPublish(func(listing.Listing) { a.sel.Clear() })

	a.orch = orchestrator.New(orchestrator.Options{
		Client:            client,
		Tracker:           orchestrator.NewTracker(cfg.UploadRemoveDelay, log),
		Session:           a.registry.Current,
		Prefix:            a.nav.Prefix,
		Reload:            func(ctx context.Context) { a.loader.Reload(ctx) },
		ClearSelection:    a.sel.Clear,
		Confirm:           a.confirm,
		DeleteConcurrency: cfg.DeleteConcurrency,
		Log:               log,
	})
	return a, nil
}

// Client returns the API client.
func (a *App) Client() *api.Client { return a.client }

// Orchestrator returns the mutation orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Tracker returns the upload tracker.
func (a *App) Tracker() *orchestrator.Tracker { return a.orch.Tracker() }

// Start resolves the stored sessions once and loads the active session's
// root. Later calls skip the resolution and only load.
func (a *App) Start(ctx context.Context) error {
	err := a.init.EnsureInitialized(ctx)
	a.load(ctx)
	return err
}

// target is what the listing should show right now.
func (a *App) target() listing.Target {
	s, ok := a.registry.Current()
	if !ok {
		return listing.Target{}
	}
	return listing.Target{Bucket: s.Bucket, Prefix: a.nav.Prefix(), Token: s.Token}
}

func (a *App) load(ctx context.Context) (listing.Listing, bool) {
	return a.loader.Load(ctx, a.target())
}

// Listing returns the published listing.
func (a *App) Listing() listing.Listing {
	return a.loader.Current()
}

// --- sessions ---

// Sessions returns the resolved sessions.
func (a *App) Sessions() []session.Session {
	return a.registry.Sessions()
}

// CurrentSession returns the active session.
func (a *App) CurrentSession() (session.Session, bool) {
	return a.registry.Current()
}

// HasStoredSessions reports whether any session token is persisted.
func (a *App) HasStoredSessions() bool {
	return a.tokens.HasTokens()
}

// ConnectBucket creates a session for req, makes it active and loads its
// root. The request is validated before anything is sent.
func (a *App) ConnectBucket(ctx context.Context, req api.CreateSessionRequest) (session.Session, error) {
	if err := req.Validate(); err != nil {
		return session.Session{}, err
	}
	token, err := a.client.CreateSession(ctx, req)
	if err != nil {
		return session.Session{}, err
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = req.Bucket
	}
	s := session.Session{
		Bucket:   req.Bucket,
		Nickname: nickname,
		Region:   req.Region,
		Endpoint: req.Endpoint,
		Token:    token,
		Exp:      a.now().Add(session.DefaultLifetime).UnixMilli(),
	}
	a.registry.AddSession(s)
	a.log.InfoWith("bucket connected", map[string]interface{}{
		"endpoint": s.Endpoint,
		"bucket":   s.Bucket,
	})

	a.showRoot(ctx)
	return s, nil
}

// SwitchSession activates the session with key k, returns to its root and
// loads it. Loads still in flight for the previous session are discarded.
func (a *App) SwitchSession(ctx context.Context, k session.Key) error {
	s, ok := a.registry.Find(k)
	if !ok {
		return errs.New(errs.ErrKindNotFound, "no session for "+k.String())
	}
	a.loader.Invalidate()
	a.registry.SetActiveSession(s)
	a.showRoot(ctx)
	return nil
}

// DisconnectBucket forgets the session with key k and its token. When it was
// the active one, the listing is cleared and no other session is activated.
func (a *App) DisconnectBucket(k session.Key) error {
	s, ok := a.registry.Find(k)
	if !ok {
		return errs.New(errs.ErrKindNotFound, "no session for "+k.String())
	}
	cur, hadCurrent := a.registry.Current()
	a.registry.RemoveSession(s)
	if hadCurrent && cur.Key() == k {
		a.loader.Invalidate()
		a.nav.ResetToRoot()
		a.sel.Clear()
	}
	a.log.InfoWith("bucket disconnected", map[string]interface{}{
		"endpoint": s.Endpoint,
		"bucket":   s.Bucket,
	})
	return nil
}

// EditSession replaces the session with key k by one created from req.
func (a *App) EditSession(ctx context.Context, k session.Key, req api.CreateSessionRequest) (session.Session, error) {
	if err := req.Validate(); err != nil {
		return session.Session{}, err
	}
	if err := a.DisconnectBucket(k); err != nil {
		return session.Session{}, err
	}
	return a.ConnectBucket(ctx, req)
}

func (a *App) showRoot(ctx context.Context) {
	a.nav.ResetToRoot()
	a.sel.Clear()
	a.load(ctx)
}

// --- navigation ---

// Breadcrumbs returns the trail, starting with navigation.RootMarker.
func (a *App) Breadcrumbs() []string {
	return a.nav.Breadcrumbs()
}

// Prefix returns the folder being shown.
func (a *App) Prefix() string {
	return a.nav.Prefix()
}

// OpenFolder descends into folder and loads it.
func (a *App) OpenFolder(ctx context.Context, folder string) (listing.Listing, bool) {
	a.nav.NavigateToFolder(folder)
	a.sel.Clear()
	return a.load(ctx)
}

// OpenBreadcrumb returns to the crumb at index and loads it.
func (a *App) OpenBreadcrumb(ctx context.Context, index int) (listing.Listing, bool) {
	a.nav.NavigateToBreadcrumb(index)
	a.sel.Clear()
	return a.load(ctx)
}

// RestorePath rebuilds the trail for path, e.g. from a link, and loads it.
func (a *App) RestorePath(ctx context.Context, path string) (listing.Listing, bool) {
	a.nav.SetFromPath(path)
	a.sel.Clear()
	return a.load(ctx)
}

// Reload loads the current folder again.
func (a *App) Reload(ctx context.Context) (listing.Listing, bool) {
	return a.load(ctx)
}

// --- selection ---

// Toggle flips key, or with shift extends the range from the anchor.
func (a *App) Toggle(key string, shift bool) {
	a.sel.Toggle(key, shift, a.loader.Current().Keys())
}

// ToggleAll selects or clears every listed item.
func (a *App) ToggleAll(state bool) {
	a.sel.ToggleAll(a.loader.Current().Keys(), state)
}

// ClearSelection drops the selection.
func (a *App) ClearSelection() {
	a.sel.Clear()
}

// Selected returns the selected keys that are in the listing.
func (a *App) Selected() []string {
	return a.sel.GetSelected(a.loader.Current().Keys())
}

// SelectionStats summarises the selection over the listing.
func (a *App) SelectionStats() selection.Stats {
	return a.sel.GetStats(a.loader.Current().Keys())
}

// DeleteSelected deletes every selected folder and object after one
// confirmation.
func (a *App) DeleteSelected(ctx context.Context) (orchestrator.BulkResult, error) {
	l := a.loader.Current()
	var folders, objects []string
	for _, k := range a.sel.GetSelected(l.Keys()) {
		if l.IsFolder(k) {
			folders = append(folders, k)
		} else {
			objects = append(objects, k)
		}
	}
	return a.orch.DeleteBulk(ctx, folders, objects)
}

// --- object detail ---

func (a *App) bucket() (*api.BucketClient, error) {
	s, ok := a.registry.Current()
	if !ok || !s.Ready() {
		return nil, errs.New(errs.ErrKindInvalidInput, "no active session")
	}
	return a.client.Bucket(s.Bucket, s.Token), nil
}

// ObjectDetail fetches the head of key. A missing object is reported as
// ErrNavigateBack.
func (a *App) ObjectDetail(ctx context.Context, key string) (*api.ObjectHead, error) {
	b, err := a.bucket()
	if err != nil {
		return nil, err
	}
	head, err := b.GetObject(ctx, key)
	if errs.IsNotFound(err) {
		return nil, errs.Wrap(errs.ErrKindNotFound, key+" no longer exists", ErrNavigateBack)
	}
	return head, err
}

// PresignObject returns a temporary download URL for key.
func (a *App) PresignObject(ctx context.Context, key string) (*api.PresignResult, error) {
	b, err := a.bucket()
	if err != nil {
		return nil, err
	}
	return b.Presign(ctx, key)
}

// ObjectACL returns the grants of key and its public access level.
func (a *App) ObjectACL(ctx context.Context, key string) (*api.ACL, error) {
	b, err := a.bucket()
	if err != nil {
		return nil, err
	}
	return b.GetACL(ctx, key)
}

// --- preferences ---

// ViewFormat returns the stored view preference, ViewList by default.
func (a *App) ViewFormat() ViewFormat {
	v, ok := a.kv.Get(ViewFormatKey)
	if !ok {
		return ViewList
	}
	switch f := ViewFormat(v); f {
	case ViewList, ViewGrid:
		return f
	}
	return ViewList
}

// SetViewFormat stores the view preference.
func (a *App) SetViewFormat(f ViewFormat) error {
	switch f {
	case ViewList, ViewGrid:
	default:
		return errs.Invalid("unknown view format %q", f)
	}
	if err := a.kv.Set(ViewFormatKey, string(f)); err != nil {
		a.log.WarnWith("failed to store view format", err, nil)
	}
	return nil
}
