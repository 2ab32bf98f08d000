package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// ErrStagedBlobMissing is returned when a commit references an upload ID
// that the blob store has no staged data for.
var ErrStagedBlobMissing = errors.New("staged blob missing")

// ErrHashMismatch is returned when a finalised blob's computed hash does
// not match the hash claimed by the commit.
var ErrHashMismatch = errors.New("staged blob hash does not match claimed hash")

// BlobFinalizer is the subset of the file blob store (component C) that
// Commit needs: moving a staged upload into the content-addressed tree
// and reporting its actual computed hash.
type BlobFinalizer interface {
	Finalize(ctx context.Context, uploadID string) (actualHash node.FileHash, size int64, err error)
}

// Commit atomically applies add/remove triples and finalises any staged
// files, per spec section 4.B:
//  1. finalise each staged file (the blob store moves it into the
//     content-addressed store under its computed hash), then reject the
//     commit if that hash differs from the claimed one; a blob already
//     moved is not moved back when the commit is rejected;
//  2. insert one triple-revision row per add (edge_exist=1) and per
//     remove (edge_exist=0), all tagged with the new commit_id;
//  3. enqueue a derivation job for each distinct file node touched.
func (s *Store) Commit(ctx context.Context, blobs BlobFinalizer, req node.CommitRequest) (node.CommitID, error) {
	var commitID node.CommitID
	touchedFiles := map[string]node.Node{}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Step 1: finalise staged files.
		for _, f := range req.Files {
			actualHash, size, err := blobs.Finalize(ctx, f.UploadID)
			if err != nil {
				if errors.Is(err, ErrStagedBlobMissing) || errors.Is(err, os.ErrNotExist) {
					return werr.Input("files", fmt.Errorf("%w: upload %q", ErrStagedBlobMissing, f.UploadID))
				}
				return werr.Transient(fmt.Errorf("failed to finalise upload %q: %w", f.UploadID, err))
			}
			if actualHash != f.Hash {
				return werr.Input("files", fmt.Errorf("%w: claimed %q, computed %q", ErrHashMismatch, f.Hash, actualHash))
			}
			fileNode := node.NewFile(f.Hash)
			if err := ensureNodeMeta(ctx, tx, fileNode); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE node_meta SET mimetype = ?, size = ?, updated_at = CURRENT_TIMESTAMP WHERE node = ?
			`, f.Mimetype, size, fileNode.Fingerprint()); err != nil {
				return werr.Transient(fmt.Errorf("failed to record file metadata: %w", err))
			}
			touchedFiles[fileNode.Fingerprint()] = fileNode
		}

		// Determine the new commit id: a monotonic wall-clock timestamp,
		// bumped past the previous commit if clocks haven't advanced.
		id, err := nextCommitID(ctx, tx)
		if err != nil {
			return err
		}
		commitID = id

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO commits (commit_id, comment) VALUES (?, ?)
		`, int64(commitID), req.Comment); err != nil {
			return werr.Transient(fmt.Errorf("failed to insert commit record: %w", err))
		}

		// Step 2: triple revisions.
		for _, t := range req.Add {
			if err := insertRevision(ctx, tx, t, commitID, true); err != nil {
				return err
			}
			collectFileNodes(touchedFiles, t)
		}
		for _, t := range req.Remove {
			if err := insertRevision(ctx, tx, t, commitID, false); err != nil {
				return err
			}
			collectFileNodes(touchedFiles, t)
		}

		return nil
	})
	if err != nil {
		if isBusyErr(err) {
			return 0, werr.Transient(fmt.Errorf("transaction conflict: %w", err))
		}
		return 0, err
	}

	// Step 3: enqueue derivation, outside the transaction (spec section
	// 4.B: "Enqueue a derivation job for each distinct file node touched").
	if s.enqueue != nil {
		for hash := range touchedFiles {
			var hexHash string
			if n := touchedFiles[hash]; true {
				h, _ := n.File()
				hexHash = string(h)
			}
			if err := s.enqueue(ctx, hexHash); err != nil {
				return commitID, werr.Transient(fmt.Errorf("failed to enqueue derivation for %s: %w", hexHash, err))
			}
		}
	}

	return commitID, nil
}

func collectFileNodes(into map[string]node.Node, t node.Triple) {
	if h, ok := t.Subject.File(); ok {
		into[t.Subject.Fingerprint()] = node.NewFile(h)
	}
	if h, ok := t.Object.File(); ok {
		into[t.Object.Fingerprint()] = node.NewFile(h)
	}
}

func insertRevision(ctx context.Context, tx *sql.Tx, t node.Triple, commitID node.CommitID, exists bool) error {
	if err := ensureNodeMeta(ctx, tx, t.Subject); err != nil {
		return err
	}
	if err := ensureNodeMeta(ctx, tx, t.Object); err != nil {
		return err
	}
	existFlag := 0
	if exists {
		existFlag = 1
	}
	subjJSON, err := t.Subject.MarshalJSON()
	if err != nil {
		return werr.Integrityf("failed to encode subject node: %w", err)
	}
	objJSON, err := t.Object.MarshalJSON()
	if err != nil {
		return werr.Integrityf("failed to encode object node: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (subject, predicate, object, commit_id, edge_exist)
		VALUES (?, ?, ?, ?, ?)
	`, string(subjJSON), t.Predicate, string(objJSON), int64(commitID), existFlag)
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to insert triple revision: %w", err))
	}
	return nil
}

// nextCommitID returns a commit id guaranteed greater than every existing
// commit_id: the current wall-clock time in nanoseconds, or the previous
// maximum plus one if the clock has not advanced (e.g. two commits within
// the same nanosecond, or a clock step backwards).
func nextCommitID(ctx context.Context, tx *sql.Tx) (node.CommitID, error) {
	var maxID sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(commit_id) FROM commits`).Scan(&maxID); err != nil {
		return 0, werr.Transient(fmt.Errorf("failed to read max commit id: %w", err))
	}
	now := time.Now().UnixNano()
	if maxID.Valid && maxID.Int64 >= now {
		return node.CommitID(maxID.Int64 + 1), nil
	}
	return node.CommitID(now), nil
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
