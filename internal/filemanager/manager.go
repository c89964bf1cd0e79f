// Package filemanager keeps the file references inside application records
// in step with object storage. Given a record and the field paths that hold
// file references, it issues upload grants for new files, deletes replaced
// or cleared ones, and resolves download URLs for display.
//
// Every operation fans out one goroutine per resolved field and joins them
// before returning. A failing field does not cancel its siblings, and
// writes already applied to the record are not rolled back. The first
// error is reported only once the slowest sibling has finished, so no
// goroutine is left writing to the record after a call returns.
package filemanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alcyxob/filemanager/internal/logging"
	"alcyxob/filemanager/internal/payload"
	"alcyxob/filemanager/internal/storage"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Manager runs the file lifecycle operations against a storage backend.
// It holds no per-call state and is safe for concurrent use.
type Manager struct {
	storage        storage.FileStorage
	uploadExpiry   time.Duration
	downloadExpiry time.Duration
	concurrency    int
	log            *logrus.Entry
}

type Option func(*Manager)

// WithUploadExpiry sets the lifetime of issued upload URLs. Zero leaves the
// backend default.
func WithUploadExpiry(d time.Duration) Option {
	return func(m *Manager) { m.uploadExpiry = d }
}

// WithDownloadExpiry sets the lifetime of display URLs.
func WithDownloadExpiry(d time.Duration) Option {
	return func(m *Manager) { m.downloadExpiry = d }
}

// WithConcurrency caps the number of storage calls in flight per
// operation. n <= 0 means no cap.
func WithConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}

// WithLogger sets the base entry for the manager's logs. When a call's
// context carries a request logger (see logging.WithLogger), the base fields
// are added to that one instead.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) { m.log = l }
}

func New(fs storage.FileStorage, opts ...Option) *Manager {
	m := &Manager{
		storage: fs,
		log:     logrus.WithField("component", "filemanager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result is the outcome of a create or update pass.
type Result struct {
	Payload payload.Payload
	// UploadURLs maps each rewritten leaf path to the URL the client must
	// PUT the file to.
	UploadURLs map[string]string
}

// batch joins the goroutines of one operation and serialises the writes
// they make to shared state.
type batch struct {
	g  errgroup.Group
	mu sync.Mutex
}

func (m *Manager) newBatch() *batch {
	b := &batch{}
	if m.concurrency > 0 {
		b.g.SetLimit(m.concurrency)
	}
	return b
}

func (b *batch) locked(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn()
}

// AppendFileURLs resolves a download URL for every non-empty file
// reference in p and writes it next to the reference under "<field>_url".
// The URLs are written to p's view, which is returned; for a Map that is p
// itself.
func (m *Manager) AppendFileURLs(ctx context.Context, p payload.Payload, fields []string) (map[string]any, error) {
	views, err := m.AppendFileURLsAll(ctx, []payload.Payload{p}, fields)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// AppendFileURLsAll is AppendFileURLs over a list. The returned views are
// in the same order as items.
func (m *Manager) AppendFileURLsAll(ctx context.Context, items []payload.Payload, fields []string) ([]map[string]any, error) {
	specs, err := payload.ParseFieldSpecs(fields)
	if err != nil {
		return nil, err
	}

	// Resolve everything before any goroutine starts writing to the views.
	type target struct {
		view map[string]any
		leaf payload.Leaf
	}
	var targets []target
	views := make([]map[string]any, len(items))
	for i, item := range items {
		view, err := item.View()
		if err != nil {
			return nil, err
		}
		views[i] = view
		for _, leaf := range resolveAll(specs, view, payload.NonEmptyString) {
			if !payload.HasSiblingSlot(view, leaf.Path) {
				m.logger(ctx).WithField("leaf", leaf.Path).Debug("no mapping parent for display url, skipping")
				continue
			}
			targets = append(targets, target{view: view, leaf: leaf})
		}
	}

	b := m.newBatch()
	for _, t := range targets {
		t := t
		b.g.Go(func() error {
			url, err := m.storage.IssueDownloadURL(ctx, t.leaf.Value.(string), m.downloadExpiry)
			if err != nil {
				return fmt.Errorf("download url for %s: %w", t.leaf.Path, err)
			}
			return b.locked(func() error {
				return payload.SetDisplayURL(t.view, t.leaf.Path, url)
			})
		})
	}

	if err := b.g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// CreateFilesFromPayload treats every non-empty file reference in p as the
// original name of a file about to be uploaded. Each is replaced in p with
// a freshly issued object key, and the matching upload URL is returned.
func (m *Manager) CreateFilesFromPayload(ctx context.Context, p payload.Payload, fields []string) (*Result, error) {
	specs, err := payload.ParseFieldSpecs(fields)
	if err != nil {
		return nil, err
	}
	view, err := p.View()
	if err != nil {
		return nil, err
	}

	res := &Result{Payload: p, UploadURLs: map[string]string{}}
	b := m.newBatch()
	for _, leaf := range resolveAll(specs, view, payload.NonEmptyString) {
		leaf := leaf
		b.g.Go(func() error {
			return m.upload(ctx, b, res, leaf.Path, leaf.Value.(string))
		})
	}

	if err := b.g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateFilesFromPayload diffs the file references of p against existing,
// a snapshot of the same record before the change:
//
//   - a new non-empty value that differs from the old one is uploaded as in
//     CreateFilesFromPayload, and the old object is deleted once the upload
//     grant has been issued;
//   - an empty value where the old one was set deletes the old object;
//   - anything else is left alone.
//
// Array lengths are taken from p.
func (m *Manager) UpdateFilesFromPayload(ctx context.Context, p, existing payload.Payload, fields []string) (*Result, error) {
	specs, err := payload.ParseFieldSpecs(fields)
	if err != nil {
		return nil, err
	}
	view, err := p.View()
	if err != nil {
		return nil, err
	}
	oldView, err := existing.View()
	if err != nil {
		return nil, err
	}

	res := &Result{Payload: p, UploadURLs: map[string]string{}}
	b := m.newBatch()
	for _, leaf := range resolveAll(specs, view, payload.AnyString) {
		newVal := leaf.Value.(string)
		oldVal, _ := payload.Get(oldView, leaf.Path)
		oldKey, _ := oldVal.(string)
		path := leaf.Path

		switch {
		case newVal != "" && newVal != oldKey:
			b.g.Go(func() error {
				// The old object goes only once its replacement has a grant.
				if err := m.upload(ctx, b, res, path, newVal); err != nil {
					return err
				}
				return m.remove(ctx, path, oldKey)
			})
		case newVal == "" && oldKey != "":
			b.g.Go(func() error {
				if err := m.remove(ctx, path, oldKey); err != nil {
					return err
				}
				return b.locked(func() error { return p.Set(path, "") })
			})
		}
	}

	if err := b.g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteFilesFromPayload deletes every object referenced by a non-empty
// file reference in p. p is not modified.
func (m *Manager) DeleteFilesFromPayload(ctx context.Context, p payload.Payload, fields []string) error {
	specs, err := payload.ParseFieldSpecs(fields)
	if err != nil {
		return err
	}
	view, err := p.View()
	if err != nil {
		return err
	}

	b := m.newBatch()
	for _, leaf := range resolveAll(specs, view, payload.NonEmptyString) {
		leaf := leaf
		b.g.Go(func() error {
			return m.remove(ctx, leaf.Path, leaf.Value.(string))
		})
	}
	return b.g.Wait()
}

func (m *Manager) logger(ctx context.Context) *logrus.Entry {
	return logging.Scoped(ctx, m.log)
}

func resolveAll(specs []payload.FieldSpec, view map[string]any, accept func(any) bool) []payload.Leaf {
	var leaves []payload.Leaf
	for _, spec := range specs {
		leaves = append(leaves, spec.Resolve(view, accept)...)
	}
	return leaves
}

func (m *Manager) upload(ctx context.Context, b *batch, res *Result, path, originalName string) error {
	grant, err := m.storage.IssueUploadGrant(ctx, originalName, m.uploadExpiry)
	if err != nil {
		return fmt.Errorf("upload grant for %s: %w", path, err)
	}
	m.logger(ctx).WithFields(logrus.Fields{"leaf": path, "key": grant.ObjectKey}).Debug("issued upload grant")
	return b.locked(func() error {
		if err := res.Payload.Set(path, grant.ObjectKey); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
		res.UploadURLs[path] = grant.UploadURL
		return nil
	})
}

func (m *Manager) remove(ctx context.Context, path, key string) error {
	if key == "" {
		return nil
	}
	if err := m.storage.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("delete %s for %s: %w", key, path, err)
	}
	m.logger(ctx).WithFields(logrus.Fields{"leaf": path, "key": key}).Debug("deleted object")
	return nil
}
