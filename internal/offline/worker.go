package offline

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

const lockFilename = ".offline.lock"

// ViewLookup resolves a view id to its definition, the counterpart of
// the original's client_config.views map.
type ViewLookup func(viewID string) (*ClientView, bool)

// Worker mirrors offline tasks to a local directory tree and reclaims
// files no longer referenced by any task (spec section 4.H). One Worker
// serves one local data root; Sync is safe to call repeatedly (e.g. from
// a poll loop) since it is idempotent per task and guarded by
// crossTabLock against overlapping runs.
type Worker struct {
	root   string
	client ServerClient
	views  ViewLookup
	config Config
	lock   *crossTabLock
	log    *slog.Logger
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithConfig overrides the default (empty) language preferences.
func WithConfig(cfg Config) Option {
	return func(w *Worker) { w.config = cfg }
}

// NewWorker builds a Worker rooted at root (a local directory holding
// offline_views/ and offline_files/).
func NewWorker(root string, client ServerClient, views ViewLookup, log *slog.Logger, opts ...Option) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		root:   root,
		client: client,
		views:  views,
		lock:   newCrossTabLock(filepath.Join(root, lockFilename)),
		log:    log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddTask creates a new offline task for view, keyed by key (the
// original uses an RFC3339 timestamp; callers here pick the key so tests
// can use deterministic ones). The task is picked up by the next Sync.
func (w *Worker) AddTask(key string, view MinistateView) error {
	root, err := rootDir(w.root)
	if err != nil {
		return err
	}
	taskDir, err := root.ensureDir(offlineViewsRoot, key)
	if err != nil {
		return err
	}
	return taskDir.writeJSON(viewFilename, view)
}

// RemoveTask deletes an offline task's directory outright. Any files it
// alone referenced are reclaimed by the next Sync's GC phase, not
// immediately.
func (w *Worker) RemoveTask(key string) error {
	root, err := rootDir(w.root)
	if err != nil {
		return err
	}
	return root.getDir(offlineViewsRoot).delete(key)
}

// ListTasks returns every offline task's key.
func (w *Worker) ListTasks() ([]string, error) {
	root, err := rootDir(w.root)
	if err != nil {
		return nil, err
	}
	return root.getDir(offlineViewsRoot).list()
}

// Sync acquires the cross-process lock and runs one full pass: download
// every task without a done sentinel, then GC files no task references
// any longer. If the lock is already held (another Sync in progress),
// Sync returns immediately without error, matching the original's
// "skip, the other worker will get to it" semantics for overlapping
// triggers.
func (w *Worker) Sync(ctx context.Context) error {
	locked, err := w.lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		w.log.Debug("offline sync already in progress, skipping")
		return nil
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			w.log.Warn("failed to release offline worker lock", "error", err)
		}
	}()

	root, err := rootDir(w.root)
	if err != nil {
		return err
	}

	keys, err := root.getDir(offlineViewsRoot).list()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := w.downloadTask(ctx, root, key); err != nil {
			w.log.Warn("offline task download failed, will retry next sync", "task", key, "error", err)
		}
	}

	liveFiles, err := w.collectLiveFiles(ctx, root, keys)
	if err != nil {
		return err
	}
	return w.gcFiles(root, liveFiles)
}

// downloadTask walks view_def's widget tree for the task at key,
// resolving queries and mirroring media, and writes the done sentinel on
// success. Per spec section 4.H: per-task errors are logged by the
// caller and retried next sync; this method itself returns the error
// rather than swallowing it.
func (w *Worker) downloadTask(ctx context.Context, root dir, key string) error {
	taskDir := root.getDir(offlineViewsRoot, key)
	if taskDir.exists(doneFilename) {
		return nil
	}
	var view MinistateView
	if err := taskDir.readJSON(viewFilename, &view); err != nil {
		return err
	}
	viewDef, ok := w.views(view.ID)
	if !ok {
		return werr.Inputf("view_id", "no view with id %q in config", view.ID)
	}

	fetchQueryOrField := func(ctx context.Context, cfg QueryOrField, stack dataStack) ([]DataStackLevel, error) {
		if !cfg.isQuery() {
			v, ok := maybeGetField(cfg.Field, stack)
			if !ok || v.Array == nil {
				return nil, nil
			}
			rows := make([]DataStackLevel, len(v.Array))
			for i, item := range v.Array {
				rows[i] = DataStackLevel{Data: item}
			}
			return rows, nil
		}
		params := dataToQueryParams(viewDef, cfg.Query, stack)
		resp, err := w.client.ViewQuery(ctx, ViewQueryRequest{ViewID: view.ID, Query: cfg.Query, Parameters: params})
		if err != nil {
			return nil, err
		}
		if err := taskDir.writeJSON(queryFilename(cfg.Query, params), resp); err != nil {
			return nil, err
		}
		return resp.ToRows(), nil
	}

	rootParams := map[string]TreeNode{}
	for k, v := range view.Params {
		v := v
		rootParams[k] = TreeNode{Scalar: &v}
	}
	initial := dataStack{{Data: TreeNode{Record: rootParams}}}

	type frame struct {
		widget *Widget
		stack  dataStack
	}
	var stack []frame

	rows, err := fetchQueryOrField(ctx, viewDef.Root.Data, initial)
	if err != nil {
		return err
	}
	for _, row := range rows {
		rowStack := initial.push(row)
		stack = append(stack, frame{widget: &viewDef.Root.ElementBody, stack: rowStack})
		if viewDef.Root.ElementExpansion != nil {
			stack = append(stack, frame{widget: viewDef.Root.ElementExpansion, stack: rowStack})
		}
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch f.widget.Kind {
		case WidgetLayout:
			for i := range f.widget.Elements {
				stack = append(stack, frame{widget: &f.widget.Elements[i], stack: f.stack})
			}
		case WidgetDataRows:
			rows, err := fetchQueryOrField(ctx, f.widget.Data, f.stack)
			if err != nil {
				return err
			}
			for _, row := range rows {
				rowStack := f.stack.push(row)
				if f.widget.RowWidget.Unaligned != nil {
					stack = append(stack, frame{widget: f.widget.RowWidget.Unaligned, stack: rowStack})
				}
				for i := range f.widget.RowWidget.Table {
					stack = append(stack, frame{widget: &f.widget.RowWidget.Table[i], stack: rowStack})
				}
			}
		case WidgetMedia:
			if err := w.fetchMediaFile(ctx, root, f.widget.MediaData, f.stack); err != nil {
				return err
			}
		case WidgetPlayButton:
			cfg := FieldOrLiteral{Field: f.widget.MediaFileField}
			if err := w.fetchMediaFile(ctx, root, cfg, f.stack); err != nil {
				return err
			}
		default:
			// Text, Date, Time, Datetime, Color, Icon, Space, Node:
			// render-only, nothing to mirror offline.
		}
	}

	return taskDir.writeBinary(doneFilename, nil)
}

// collectLiveFiles re-walks every task's widget tree exactly like
// downloadTask, but reads already-cached query responses instead of
// refetching, collecting every file hash any media widget references —
// the live set the GC phase keeps (spec section 4.H "GC").
func (w *Worker) collectLiveFiles(ctx context.Context, root dir, keys []string) (map[node.FileHash]bool, error) {
	live := make(map[node.FileHash]bool)
	for _, key := range keys {
		if err := w.collectTaskLiveFiles(root, key, live); err != nil {
			w.log.Warn("offline GC scan failed for task", "task", key, "error", err)
		}
	}
	return live, nil
}

func (w *Worker) collectTaskLiveFiles(root dir, key string, live map[node.FileHash]bool) error {
	taskDir := root.getDir(offlineViewsRoot, key)
	var view MinistateView
	if err := taskDir.readJSON(viewFilename, &view); err != nil {
		return err
	}
	viewDef, ok := w.views(view.ID)
	if !ok {
		return werr.Inputf("view_id", "no view with id %q in config", view.ID)
	}

	retrieveQueryOrField := func(cfg QueryOrField, stack dataStack) []DataStackLevel {
		if !cfg.isQuery() {
			v, ok := maybeGetField(cfg.Field, stack)
			if !ok || v.Array == nil {
				return nil
			}
			rows := make([]DataStackLevel, len(v.Array))
			for i, item := range v.Array {
				rows[i] = DataStackLevel{Data: item}
			}
			return rows
		}
		params := dataToQueryParams(viewDef, cfg.Query, stack)
		var resp QueryResponse
		if err := taskDir.readJSON(queryFilename(cfg.Query, params), &resp); err != nil {
			return nil
		}
		return resp.ToRows()
	}

	rootParams := map[string]TreeNode{}
	for k, v := range view.Params {
		v := v
		rootParams[k] = TreeNode{Scalar: &v}
	}
	initial := dataStack{{Data: TreeNode{Record: rootParams}}}

	type frame struct {
		widget *Widget
		stack  dataStack
	}
	var stack []frame
	for _, row := range retrieveQueryOrField(viewDef.Root.Data, initial) {
		rowStack := initial.push(row)
		stack = append(stack, frame{widget: &viewDef.Root.ElementBody, stack: rowStack})
		if viewDef.Root.ElementExpansion != nil {
			stack = append(stack, frame{widget: viewDef.Root.ElementExpansion, stack: rowStack})
		}
	}

	collectHash := func(cfg FieldOrLiteral, stack dataStack) {
		resolved, ok := maybeGetFieldOrLiteral(cfg, stack)
		if !ok {
			return
		}
		hash, err := unwrapValueMediaHash(resolved)
		if err != nil {
			return
		}
		live[hash] = true
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch f.widget.Kind {
		case WidgetLayout:
			for i := range f.widget.Elements {
				stack = append(stack, frame{widget: &f.widget.Elements[i], stack: f.stack})
			}
		case WidgetDataRows:
			for _, row := range retrieveQueryOrField(f.widget.Data, f.stack) {
				rowStack := f.stack.push(row)
				if f.widget.RowWidget.Unaligned != nil {
					stack = append(stack, frame{widget: f.widget.RowWidget.Unaligned, stack: rowStack})
				}
				for i := range f.widget.RowWidget.Table {
					stack = append(stack, frame{widget: &f.widget.RowWidget.Table[i], stack: rowStack})
				}
			}
		case WidgetMedia:
			collectHash(f.widget.MediaData, f.stack)
		case WidgetPlayButton:
			collectHash(FieldOrLiteral{Field: f.widget.MediaFileField}, f.stack)
		}
	}
	return nil
}

// gcFiles deletes every offline_files/<hash> entry absent from live, and
// any entry whose name is not a well-formed hash at all (spec section
// 4.H: "malformed hashes in the offline file tree are deleted").
func (w *Worker) gcFiles(root dir, live map[node.FileHash]bool) error {
	filesDir := root.getDir(offlineFilesRoot)
	names, err := filesDir.list()
	if err != nil {
		return err
	}
	for _, name := range names {
		hash, err := node.ParseFileHash(name)
		if err != nil {
			w.log.Warn("offline file tree has invalid (non-hash) entry, deleting", "name", name)
			if err := filesDir.delete(name); err != nil {
				return err
			}
			continue
		}
		if live[hash] {
			continue
		}
		if err := filesDir.delete(name); err != nil {
			return err
		}
	}
	return nil
}
