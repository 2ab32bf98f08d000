package gc

import (
	"context"
	"time"

	"github.com/weftgraph/weft/internal/node"
)

// reclaimBlobs walks the source blob tree and deletes every blob whose
// node no longer has a metadata row (spec section 4.G phase 5), in
// batches of gcBatchSize so a large store is filtered with a handful of
// round trips rather than one per blob.
func (r *Runner) reclaimBlobs(ctx context.Context) (int64, error) {
	var total int64
	batch := make([]node.Node, 0, gcBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		existing, err := r.graph.NodeMetaExistsBatch(ctx, batch)
		if err != nil {
			return err
		}
		for _, n := range batch {
			if existing[n.Fingerprint()] {
				continue
			}
			hash, _ := n.File()
			if err := r.blobs.Delete(hash); err != nil {
				return err
			}
			total++
		}
		batch = batch[:0]
		return nil
	}

	err := r.blobs.WalkBlobs(func(hash node.FileHash) error {
		batch = append(batch, node.NewFile(hash))
		if len(batch) >= gcBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// reclaimGeneratedFiles walks the generated-file tree at hash granularity
// and deletes every hash directory (every gentype together) for which no
// generated_artifacts row survives (spec section 4.G phase 6). Grounded
// on original_source/.../background.rs's generated-file GC walk, which
// reclaims whole hash directories rather than individual gentypes.
func (r *Runner) reclaimGeneratedFiles(ctx context.Context) (int64, error) {
	var total int64
	type entry struct {
		hash node.FileHash
		node node.Node
	}
	batch := make([]entry, 0, gcBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		nodes := make([]node.Node, len(batch))
		for i, e := range batch {
			nodes[i] = e.node
		}
		existing, err := r.graph.GeneratedArtifactSourceExists(ctx, nodes)
		if err != nil {
			return err
		}
		for _, e := range batch {
			if existing[e.node.Fingerprint()] {
				continue
			}
			if err := r.blobs.DeleteGeneratedHash(e.hash); err != nil {
				return err
			}
			total++
		}
		batch = batch[:0]
		return nil
	}

	err := r.blobs.WalkGeneratedHashes(func(hash node.FileHash, path string) error {
		batch = append(batch, entry{hash: hash, node: node.NewFile(hash)})
		if len(batch) >= gcBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// reclaimStaleUploads aborts every staged upload whose staging file has
// gone untouched longer than ttl (spec section 4.G phase 7), reusing the
// blob store's existing stale-upload bookkeeping (component C).
func (r *Runner) reclaimStaleUploads(ttl time.Duration) (int64, error) {
	stale, err := r.blobs.StaleUploads(ttl)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range stale {
		if err := r.blobs.AbortUpload(id); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}
