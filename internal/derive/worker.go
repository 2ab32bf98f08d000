// Package derive implements the derivation worker (component F): a
// single-source-of-truth queue of per-file jobs, a data-driven
// mime-dispatch table, and the subprocess-backed transcoders and
// extractors it invokes. Grounded throughout on original_source/
// source/native/src/server/subsystems/background.rs.
package derive

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
)

const defaultConcurrency = 4

// Worker drains the durable derivation queue (graph.Store's derive_queue
// table) and runs the mime-dispatched derivations for each job, one job
// at a time for GenerateOne jobs, or batched and fanned out (bounded
// concurrency) for an All sweep.
type Worker struct {
	graph       *graph.Store
	blobs       *blobstore.Store
	rules       *RuleSet
	log         *slog.Logger
	concurrency int
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithConcurrency bounds the All sweep's fan-out, mirroring
// compact.Config.Concurrency's shape in the teacher's compactor.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// NewWorker constructs a Worker. rules is typically derive.DefaultRules()
// or a table loaded via derive.LoadRules.
func NewWorker(g *graph.Store, blobs *blobstore.Store, rules *RuleSet, log *slog.Logger, opts ...Option) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{graph: g, blobs: blobs, rules: rules, log: log, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunQueue drains graph.Store's derive_queue until empty, running each
// job in turn. A per-job error is logged and does not stop the drain —
// failed derivations are simply retried at the next All sweep (spec
// section 4.F).
func (w *Worker) RunQueue(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, err := w.graph.DequeueDerive(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		switch job.JobKind {
		case graph.DeriveJobOne:
			hash, _ := job.FileNode.File()
			w.log.Debug("generating one file", "file", string(hash))
			if err := w.GenerateOne(ctx, job.FileNode, job.IncludeSlow); err != nil {
				w.log.Warn("error generating derived files", "file", string(hash), "err", err)
			}
		case graph.DeriveJobAll:
			w.log.Debug("doing file generation sweep")
			if err := w.All(ctx); err != nil {
				w.log.Warn("error during derivation sweep", "err", err)
			}
		}
	}
}

// GenerateOne inspects file's recorded mimetype and runs every matching
// derivation (spec section 4.F's dispatch table), skipping the
// slow-pass-only derivations when includeSlow is false. A file with no
// metadata (never uploaded, or already GC'd) is silently skipped.
func (w *Worker) GenerateOne(ctx context.Context, file node.Node, includeSlow bool) error {
	meta, err := w.graph.GetNodeMeta(ctx, file)
	if err != nil {
		return err
	}
	if meta == nil || meta.Mimetype == "" {
		return nil
	}
	hash, ok := file.File()
	if !ok {
		return nil
	}
	sourcePath, err := w.blobs.SourcePath(hash)
	if err != nil {
		return err
	}

	for _, d := range w.rules.Match(meta.Mimetype) {
		if slowDerivations[d] && !includeSlow {
			continue
		}
		if err := w.runDerivation(ctx, d, file, hash, sourcePath, meta.Mimetype); err != nil {
			w.log.Warn("derivation failed", "file", string(hash), "derivation", d, "err", err)
		}
	}
	return nil
}

func (w *Worker) runDerivation(ctx context.Context, derivation string, file node.Node, hash node.FileHash, sourcePath, mimetype string) error {
	switch derivation {
	case DerivationSubs:
		return w.generateSubs(ctx, file, hash, sourcePath)
	case DerivationWebmTranscode:
		return w.generateWebm(ctx, file, hash, sourcePath)
	case DerivationAACTranscode:
		return w.generateAAC(ctx, file, hash, sourcePath)
	case DerivationEpubHTML:
		return w.generateBookHTML(ctx, file, hash, sourcePath, mimetype)
	case DerivationComicExtract:
		return w.generateComicDir(ctx, file, hash, sourcePath)
	default:
		return nil
	}
}

// All walks the blob store's source tree in two passes — a fast pass
// (include_slow=false) then a slow pass (include_slow=true) — batching
// candidates and existence-filtering each batch against the triple store
// before deriving, per spec section 4.F. Grounded on background.rs's
// `for slow in [false, true]` sweep and its generate_batch existence
// check.
func (w *Worker) All(ctx context.Context) error {
	for _, slow := range []bool{false, true} {
		if err := w.sweepPass(ctx, slow); err != nil {
			return err
		}
	}
	return nil
}

const sweepBatchSize = 1000

func (w *Worker) sweepPass(ctx context.Context, includeSlow bool) error {
	var batch []node.Node
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		found, err := w.graph.NodesExistAsEndpoint(ctx, batch)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for _, n := range batch {
			n := n
			if !found[n.Fingerprint()] {
				continue
			}
			g.Go(func() error {
				if err := w.GenerateOne(gctx, n, includeSlow); err != nil {
					w.log.Warn("derivation failed during sweep", "file", n.String(), "err", err)
				}
				return nil
			})
		}
		err = g.Wait()
		batch = batch[:0]
		return err
	}

	walkErr := w.blobs.WalkBlobs(func(hash node.FileHash) error {
		batch = append(batch, node.NewFile(hash))
		if len(batch) >= sweepBatchSize {
			return flush()
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return flush()
}

// generatedExists reports whether (file, gentype)'s replacement artifact
// is both recorded in the database and present on disk, for derivations
// whose gentype has a single canonical destination (as opposed to the
// subtitle derivation's per-language subpaths, checked separately).
func (w *Worker) generatedExists(ctx context.Context, file node.Node, hash node.FileHash, gentype string) (bool, error) {
	art, err := w.graph.GetGeneratedArtifact(ctx, file, gentype)
	if err != nil {
		return false, err
	}
	if art == nil {
		return false, nil
	}
	dest, err := w.blobs.GeneratedDestPath(hash, gentype, "")
	if err != nil {
		return false, err
	}
	return pathExists(dest), nil
}

func (w *Worker) commitGenerated(ctx context.Context, file node.Node, hash node.FileHash, gentype, subpath, mimetype, srcPath string) error {
	if err := w.blobs.CommitGenerated(hash, gentype, subpath, srcPath); err != nil {
		return err
	}
	return w.graph.UpsertGeneratedArtifact(ctx, file, gentype, mimetype)
}
