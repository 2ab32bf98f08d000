package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// Derivation job kinds stored in derive_queue.job_kind (spec section 4.F).
const (
	DeriveJobOne = "one"
	DeriveJobAll = "all"
)

// DeriveJob is one row popped from the durable derivation queue.
type DeriveJob struct {
	ID          int64
	FileNode    node.Node
	JobKind     string
	IncludeSlow bool
}

// EnqueueDerive records a pending derivation job for hash. Called by
// Commit's post-transaction enqueue hook for every distinct file node a
// commit touches (GenerateOne semantics, include_slow=true). Nothing in
// this module enqueues a DeriveJobAll job.
func (s *Store) EnqueueDerive(ctx context.Context, hash node.FileHash, jobKind string, includeSlow bool) error {
	fileNode := node.NewFile(hash)
	slowFlag := 0
	if includeSlow {
		slowFlag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO derive_queue (file_node, job_kind, include_slow) VALUES (?, ?, ?)
	`, fileNode.Fingerprint(), jobKind, slowFlag)
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to enqueue derivation job: %w", err))
	}
	return nil
}

// DequeueDerive pops the oldest pending derivation job, or returns
// (nil, nil) if the queue is empty. The row is deleted in the same
// transaction as the read, so a job is handed to exactly one worker even
// under concurrent dequeues.
func (s *Store) DequeueDerive(ctx context.Context) (*DeriveJob, error) {
	var job *DeriveJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, file_node, job_kind, include_slow FROM derive_queue ORDER BY id LIMIT 1
		`)
		var id int64
		var fileNodeJSON, jobKind string
		var includeSlow int
		if err := row.Scan(&id, &fileNodeJSON, &jobKind, &includeSlow); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return werr.Transient(fmt.Errorf("failed to read derivation queue: %w", err))
		}
		var fileNode node.Node
		if err := fileNode.UnmarshalJSON([]byte(fileNodeJSON)); err != nil {
			return werr.Integrityf("corrupt file node in derive_queue row %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM derive_queue WHERE id = ?`, id); err != nil {
			return werr.Transient(fmt.Errorf("failed to remove derivation queue row: %w", err))
		}
		job = &DeriveJob{ID: id, FileNode: fileNode, JobKind: jobKind, IncludeSlow: includeSlow != 0}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// QueueDepth returns the number of pending derivation jobs.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM derive_queue`).Scan(&n); err != nil {
		return 0, werr.Transient(fmt.Errorf("failed to count derivation queue: %w", err))
	}
	return n, nil
}
