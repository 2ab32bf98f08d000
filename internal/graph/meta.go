package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// NodeMeta is the latest metadata row for a node (spec section 3 "Node
// metadata"): mimetype/size are populated on file upload, fulltext is a
// search root for the query compiler's Search chain root.
type NodeMeta struct {
	Node     node.Node
	Mimetype string
	Size     int64
	Fulltext string
	HasSize  bool
}

// GetNodeMeta returns the latest metadata row for n, or (nil, nil) if
// none exists.
func (s *Store) GetNodeMeta(ctx context.Context, n node.Node) (*NodeMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mimetype, size, fulltext FROM node_meta WHERE node = ?
	`, n.Fingerprint())
	var mimetype, fulltext sql.NullString
	var size sql.NullInt64
	if err := row.Scan(&mimetype, &size, &fulltext); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, werr.Transient(fmt.Errorf("failed to query node metadata: %w", err))
	}
	return &NodeMeta{
		Node:     n,
		Mimetype: mimetype.String,
		Size:     size.Int64,
		HasSize:  size.Valid,
		Fulltext: fulltext.String,
	}, nil
}

// ensureNodeMeta inserts a bare metadata row for n if one does not
// already exist, so that every node that is ever a triple endpoint has a
// row (spec section 3: "populated ... for any node that is ever a triple
// endpoint").
func ensureNodeMeta(ctx context.Context, tx *sql.Tx, n node.Node) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO node_meta (node) VALUES (?)
		ON CONFLICT (node) DO NOTHING
	`, n.Fingerprint())
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to ensure node metadata row: %w", err))
	}
	return nil
}

// SetFileMeta upserts mimetype/size/fulltext for a File node. Commit
// records a finalised upload's mimetype and size with its own statement
// rather than through this method.
func (s *Store) SetFileMeta(ctx context.Context, n node.Node, mimetype string, size int64, fulltext string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_meta (node, mimetype, size, fulltext, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (node) DO UPDATE SET
			mimetype = excluded.mimetype,
			size = excluded.size,
			fulltext = excluded.fulltext,
			updated_at = excluded.updated_at
	`, n.Fingerprint(), mimetype, size, fulltext)
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to set file metadata: %w", err))
	}
	return nil
}

// GeneratedArtifact names a derived file that exists on disk under the
// generated-file tree (spec section 3 "Generated artifact record").
type GeneratedArtifact struct {
	SourceNode node.Node
	Gentype    string
	Mimetype   string
}

// GetGeneratedArtifact looks up whether a (sourceNode, gentype) artifact
// is recorded, returning (nil, nil) if not.
func (s *Store) GetGeneratedArtifact(ctx context.Context, sourceNode node.Node, gentype string) (*GeneratedArtifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mimetype FROM generated_artifacts WHERE source_node = ? AND gentype = ?
	`, sourceNode.Fingerprint(), gentype)
	var mimetype string
	if err := row.Scan(&mimetype); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, werr.Transient(fmt.Errorf("failed to query generated artifact: %w", err))
	}
	return &GeneratedArtifact{SourceNode: sourceNode, Gentype: gentype, Mimetype: mimetype}, nil
}

// UpsertGeneratedArtifact records that a derivation has been written to
// disk. Called only after the on-disk move has succeeded (spec section
// 4.F commit ordering: delete-prior, move, then upsert-row).
func (s *Store) UpsertGeneratedArtifact(ctx context.Context, sourceNode node.Node, gentype, mimetype string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_artifacts (source_node, gentype, mimetype)
		VALUES (?, ?, ?)
		ON CONFLICT (source_node, gentype) DO UPDATE SET mimetype = excluded.mimetype
	`, sourceNode.Fingerprint(), gentype, mimetype)
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to upsert generated artifact: %w", err))
	}
	return nil
}

// DeleteGeneratedArtifact removes the record for (sourceNode, gentype).
func (s *Store) DeleteGeneratedArtifact(ctx context.Context, sourceNode node.Node, gentype string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM generated_artifacts WHERE source_node = ? AND gentype = ?
	`, sourceNode.Fingerprint(), gentype)
	if err != nil {
		return werr.Transient(fmt.Errorf("failed to delete generated artifact: %w", err))
	}
	return nil
}
