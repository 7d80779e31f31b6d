// Package orchestrator runs mutations against the active session's bucket:
// uploads, folder creation, single and bulk deletes, renames and public
// access changes. It tracks upload progress in a Tracker and reloads the
// listing after every mutation that succeeded.
//
// Destructive operations go through a Confirmer first. The orchestrator
// never assumes an answer; a nil Confirmer declines everything.
//
// Usage:
//
//	orch := orchestrator.New(orchestrator.Options{
//	    Client:  client,
//	    Tracker: orchestrator.NewTracker(orchestrator.DefaultRemoveDelay, log),
//	    Session: registry.Current,
//	    Prefix:  nav.Prefix,
//	    Reload:  func(ctx context.Context) { loader.Reload(ctx) },
//	    Confirm: orchestrator.ConfirmFunc(askUser),
//	})
//	item, err := orch.Upload(ctx, orchestrator.File{Name: "a.txt", Body: f, Size: n}, nav.Prefix())
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/logger"
	"github.com/koustreak/openbucket/internal/session"
)

// Kind distinguishes folders from objects in deletes.
type Kind string

const (
	KindFolder Kind = "folder"
	KindObject Kind = "object"
)

// Confirmer is the yes/no decision point before destructive actions.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// AlwaysConfirm approves every prompt. For non-interactive callers that have
// already asked.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) bool { return true })

// File is one upload source.
type File struct {
	Name string
	Body io.Reader
	Size int64
}

// DefaultDeleteConcurrency caps the number of deletes in flight during a bulk
// delete.
const DefaultDeleteConcurrency = 8

// Options wires the orchestrator to the rest of the client.
type Options struct {
	Client  *api.Client
	Tracker *Tracker

	// Session returns the active session; false means not ready.
	Session func() (session.Session, bool)

	// Prefix returns the folder the user is looking at.
	Prefix func() string

	// Reload refreshes the listing after a mutation.
	Reload func(ctx context.Context)

	// ClearSelection runs once after every bulk delete.
	ClearSelection func()

	Confirm Confirmer

	DeleteConcurrency int

	Log *logger.Logger
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	opts    Options
	tracker *Tracker
	log     *logger.Logger
}

// New returns an Orchestrator. Missing hooks default to no-ops and a missing
// tracker to one with DefaultRemoveDelay.
func New(opts Options) *Orchestrator {
	log := logger.OrNop(opts.Log).Component("orchestrator")
	if opts.Tracker == nil {
		opts.Tracker = NewTracker(DefaultRemoveDelay, opts.Log)
	}
	if opts.Prefix == nil {
		opts.Prefix = func() string { return "" }
	}
	if opts.Reload == nil {
		opts.Reload = func(context.Context) {}
	}
	if opts.ClearSelection == nil {
		opts.ClearSelection = func() {}
	}
	if opts.DeleteConcurrency <= 0 {
		opts.DeleteConcurrency = DefaultDeleteConcurrency
	}
	return &Orchestrator{opts: opts, tracker: opts.Tracker, log: log}
}

// Tracker returns the upload tracker.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// bucket returns a client for the active session.
func (o *Orchestrator) bucket() (*api.BucketClient, error) {
	if o.opts.Session == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "no active session")
	}
	s, ok := o.opts.Session()
	if !ok || !s.Ready() {
		return nil, errs.New(errs.ErrKindInvalidInput, "no active session")
	}
	return o.opts.Client.Bucket(s.Bucket, s.Token), nil
}

// --- uploads ---

// Upload sends f into prefix and tracks it. The returned item is in a
// terminal state. On success the listing is reloaded.
func (o *Orchestrator) Upload(ctx context.Context, f File, prefix string) (Item, error) {
	if strings.TrimSpace(f.Name) == "" {
		return Item{}, errs.Invalid("file name is required")
	}
	b, err := o.bucket()
	if err != nil {
		return Item{}, err
	}

	it := o.tracker.Add(f.Name)
	err = b.UploadObject(ctx, api.Upload{
		Name:   f.Name,
		Body:   f.Body,
		Size:   f.Size,
		Prefix: prefix,
	}, func(p int) {
		o.tracker.UpdateProgress(it.ID, p)
	})
	if err != nil {
		o.tracker.MarkError(it.ID, errs.MessageOf(err))
		o.log.ErrorWith("upload failed", err, map[string]interface{}{
			"file":   f.Name,
			"prefix": prefix,
		})
		done, _ := o.tracker.Get(it.ID)
		return done, err
	}

	o.tracker.MarkCompleted(it.ID)
	o.opts.Reload(ctx)
	done, _ := o.tracker.Get(it.ID)
	return done, nil
}

// UploadAll uploads files into prefix concurrently and returns their items
// in input order. The error is the first failure; every file is attempted.
func (o *Orchestrator) UploadAll(ctx context.Context, files []File, prefix string) ([]Item, error) {
	items := make([]Item, len(files))
	var g errgroup.Group
	for i, f := range files {
		g.Go(func() error {
			it, err := o.Upload(ctx, f, prefix)
			items[i] = it
			return err
		})
	}
	return items, g.Wait()
}

// --- folders ---

// CreateFolder creates name under the current prefix. A blank name is
// rejected before any request.
func (o *Orchestrator) CreateFolder(ctx context.Context, name string) (bool, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return false, errs.Invalid("folder name cannot be empty")
	}
	b, err := o.bucket()
	if err != nil {
		return false, err
	}

	folder := o.opts.Prefix() + name + "/"
	if err := b.CreateFolder(ctx, folder); err != nil {
		o.log.ErrorWith("failed to create folder", err, map[string]interface{}{"folder": folder})
		return false, err
	}
	o.opts.Reload(ctx)
	return true, nil
}

// --- deletes ---

// DeleteOne asks for confirmation, then deletes one folder or object. A
// declined prompt returns false without error. On success the listing is
// reloaded.
func (o *Orchestrator) DeleteOne(ctx context.Context, kind Kind, key string) (bool, error) {
	if key == "" {
		return false, errs.Invalid("nothing to delete")
	}
	b, err := o.bucket()
	if err != nil {
		return false, err
	}

	prompt := fmt.Sprintf("Are you sure you want to delete the %s %q? This action cannot be undone.", kind, key)
	if !o.confirm(ctx, prompt) {
		return false, nil
	}

	if err := o.deleteKey(ctx, b, kind, key); err != nil {
		return false, err
	}
	o.opts.Reload(ctx)
	return true, nil
}

// BulkResult reports the outcome of DeleteBulk.
type BulkResult struct {
	// Confirmed is false when the user declined; nothing was deleted then.
	Confirmed bool

	Deleted []string
	Failed  map[string]error
}

// OK reports whether the batch was confirmed and every delete succeeded.
func (r BulkResult) OK() bool {
	return r.Confirmed && len(r.Failed) == 0
}

// DeleteBulk asks for one confirmation, then deletes all folders and objects
// concurrently and waits for every delete to settle. Successful deletes are
// not rolled back when others fail. Afterwards the listing is reloaded once
// and the selection cleared once, whatever the outcome.
func (o *Orchestrator) DeleteBulk(ctx context.Context, folders, objects []string) (BulkResult, error) {
	total := len(folders) + len(objects)
	if total == 0 {
		return BulkResult{}, errs.Invalid("no items selected for deletion")
	}
	b, err := o.bucket()
	if err != nil {
		return BulkResult{}, err
	}

	prompt := fmt.Sprintf("Are you sure you want to delete %d item(s)? This action cannot be undone.", total)
	if !o.confirm(ctx, prompt) {
		return BulkResult{}, nil
	}

	type job struct {
		kind Kind
		key  string
	}
	jobs := make([]job, 0, total)
	for _, f := range folders {
		jobs = append(jobs, job{KindFolder, f})
	}
	for _, k := range objects {
		jobs = append(jobs, job{KindObject, k})
	}

	var (
		mu  sync.Mutex
		res = BulkResult{Confirmed: true, Failed: map[string]error{}}
		g   errgroup.Group
	)
	g.SetLimit(o.opts.DeleteConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			err := o.deleteKey(ctx, b, j.kind, j.key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[j.key] = err
			} else {
				res.Deleted = append(res.Deleted, j.key)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.opts.Reload(ctx)
	o.opts.ClearSelection()

	o.log.InfoWith("bulk delete finished", map[string]interface{}{
		"requested": total,
		"deleted":   len(res.Deleted),
		"failed":    len(res.Failed),
	})
	return res, nil
}

func (o *Orchestrator) deleteKey(ctx context.Context, b *api.BucketClient, kind Kind, key string) error {
	var err error
	if kind == KindFolder {
		err = b.DeleteFolder(ctx, key)
	} else {
		err = b.DeleteObject(ctx, key)
	}
	if err != nil {
		o.log.ErrorWith("failed to delete "+string(kind), err, map[string]interface{}{"key": key})
	}
	return err
}

func (o *Orchestrator) confirm(ctx context.Context, prompt string) bool {
	if o.opts.Confirm == nil {
		return false
	}
	return o.opts.Confirm.Confirm(ctx, prompt)
}

// --- renames and ACLs ---

// Rename moves oldKey to newKey. The caller is responsible for moving any
// open detail view to newKey.
func (o *Orchestrator) Rename(ctx context.Context, oldKey, newKey string) error {
	newKey = strings.TrimSpace(newKey)
	if oldKey == "" || newKey == "" {
		return errs.Invalid("both the current and the new key are required")
	}
	if oldKey == newKey {
		return errs.Invalid("new key is the same as the current key")
	}
	b, err := o.bucket()
	if err != nil {
		return err
	}

	if err := b.RenameObject(ctx, oldKey, newKey); err != nil {
		o.log.ErrorWith("rename failed", err, map[string]interface{}{"from": oldKey, "to": newKey})
		return err
	}
	o.opts.Reload(ctx)
	return nil
}

// SetPublicAccess applies level to key and returns the ACL as the server
// reports it afterwards, which may differ from what was requested.
func (o *Orchestrator) SetPublicAccess(ctx context.Context, key string, level api.AccessLevel) (*api.ACL, error) {
	level, err := api.ParseAccessLevel(string(level))
	if err != nil {
		return nil, err
	}
	b, err := o.bucket()
	if err != nil {
		return nil, err
	}

	if err := b.SetPublicAccess(ctx, key, level); err != nil {
		o.log.ErrorWith("failed to update ACL", err, map[string]interface{}{"key": key, "access": string(level)})
		return nil, err
	}
	return b.GetACL(ctx, key)
}
