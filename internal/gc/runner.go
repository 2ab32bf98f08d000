// Package gc implements the background reclamation worker (component G):
// seven ordered, idempotent phases that prune stale triple history and
// delete metadata, commits, generated-artifact records, and the on-disk
// blobs and generated files nothing references any longer. See spec
// section 4.G.
//
// Grounded on internal/compact/compactor.go's phase-oriented worker
// shape, generalised from a single AI-summarisation operation into a
// fixed sequence of reclamation phases, and on
// original_source/.../background.rs's GC pass, which this package
// restructures from one in-process sweep into named, independently
// restartable phases matching the spec's enumeration.
package gc

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/werr"
)

const lockFilename = ".gc.lock"

// Runner executes the GC phases against a graph store and blob store.
type Runner struct {
	graph  *graph.Store
	blobs  *blobstore.Store
	log    *slog.Logger
	lock   *singleInstanceLock
	config Config
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithConfig overrides the default retention windows.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.config = cfg }
}

// NewRunner builds a Runner. lockDir holds the single-instance lock file,
// matching cmd/bd/sync.go's convention of keeping the lock beside the
// data it guards rather than in a global location.
func NewRunner(g *graph.Store, blobs *blobstore.Store, log *slog.Logger, lockDir string, opts ...Option) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		graph:  g,
		blobs:  blobs,
		log:    log,
		lock:   newSingleInstanceLock(filepath.Join(lockDir, lockFilename)),
		config: defaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result tallies what each phase reclaimed, for logging and the CLI's
// summary output.
type Result struct {
	TriplesPruned       int64
	MetadataRowsDeleted int64
	CommitsDeleted      int64
	ArtifactRowsDeleted int64
	BlobsDeleted        int64
	GeneratedDeleted    int64
	StaleUploadsDeleted int64
}

// Run acquires the single-instance lock and executes all seven phases in
// order. If the lock is already held by another GC run (weftd's periodic
// run or a `weft gc` invocation), Run returns a transient error at once
// rather than blocking. The derivation worker never calls Run, and the
// lock does not exclude derivation jobs, so a GC run can overlap a
// derivation of the same source file.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	locked, err := r.lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, werr.Transient(fmt.Errorf("another gc run is already in progress"))
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.log.Warn("failed to release gc lock", "error", err)
		}
	}()

	res := &Result{}

	tripleRetention, err := r.config.tripleHistoryRetention()
	if err != nil {
		return nil, err
	}
	if res.TriplesPruned, err = r.graph.PruneTripleHistory(ctx, tripleRetention); err != nil {
		return nil, fmt.Errorf("triple history pruning: %w", err)
	}
	r.log.Debug("gc: pruned triple history", "rows", res.TriplesPruned)

	if res.MetadataRowsDeleted, err = r.graph.ReclaimMetadata(ctx); err != nil {
		return nil, fmt.Errorf("metadata reclamation: %w", err)
	}
	r.log.Debug("gc: reclaimed metadata", "rows", res.MetadataRowsDeleted)

	if res.CommitsDeleted, err = r.graph.ReclaimCommits(ctx); err != nil {
		return nil, fmt.Errorf("commit log reclamation: %w", err)
	}
	r.log.Debug("gc: reclaimed commit log", "rows", res.CommitsDeleted)

	if res.ArtifactRowsDeleted, err = r.graph.ReclaimGeneratedArtifacts(ctx); err != nil {
		return nil, fmt.Errorf("generated artifact reclamation: %w", err)
	}
	r.log.Debug("gc: reclaimed generated artifact rows", "rows", res.ArtifactRowsDeleted)

	if res.BlobsDeleted, err = r.reclaimBlobs(ctx); err != nil {
		return nil, fmt.Errorf("blob reclamation: %w", err)
	}
	r.log.Debug("gc: reclaimed blobs", "count", res.BlobsDeleted)

	if res.GeneratedDeleted, err = r.reclaimGeneratedFiles(ctx); err != nil {
		return nil, fmt.Errorf("generated file reclamation: %w", err)
	}
	r.log.Debug("gc: reclaimed generated files", "count", res.GeneratedDeleted)

	staleTTL, err := r.config.staleUploadTTL()
	if err != nil {
		return nil, err
	}
	if res.StaleUploadsDeleted, err = r.reclaimStaleUploads(staleTTL); err != nil {
		return nil, fmt.Errorf("stale upload reclamation: %w", err)
	}
	r.log.Debug("gc: reclaimed stale uploads", "count", res.StaleUploadsDeleted)

	return res, nil
}
