package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// gcBatchSize bounds every GC phase's page size, so reclaiming a large
// store never does one round trip per row (spec section 4.G: "All phases
// batch database lookups to avoid per-row round trips").
const gcBatchSize = 1000

// PruneTripleHistory deletes revision rows older than the retention
// window, keeping the newest revision of each (subject, predicate,
// object) key. A revision is only a pruning candidate once a later
// revision for the same key exists, so the current snapshot (spec
// section 4.B's CurrentEdgesSQL) never loses its backing row. Grounded on
// original_source/.../background.rs's triple_gc_deleted call, which
// computes the same one-year-ago epoch via chrono::Duration::days(365).
func (s *Store) PruneTripleHistory(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM edges
		WHERE commit_id IN (SELECT commit_id FROM commits WHERE created_at < ?)
		  AND EXISTS (
		      SELECT 1 FROM edges newer
		      WHERE newer.subject = edges.subject
		        AND newer.predicate = edges.predicate
		        AND newer.object = edges.object
		        AND newer.commit_id > edges.commit_id
		  )
	`, cutoff)
	if err != nil {
		return 0, werr.Transient(fmt.Errorf("failed to prune triple history: %w", err))
	}
	return res.RowsAffected()
}

// ReclaimMetadata deletes node_meta rows (and their FTS shadow, via the
// triggers in schema.go) for nodes no longer referenced as an endpoint of
// any currently-existing triple. Paginated by keyset on the node column
// so a large metadata table is walked in gcBatchSize pages rather than
// loaded in one query.
func (s *Store) ReclaimMetadata(ctx context.Context) (int64, error) {
	var total int64
	cursor := ""
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT node FROM node_meta WHERE node > ? ORDER BY node LIMIT ?
		`, cursor, gcBatchSize)
		if err != nil {
			return total, werr.Transient(fmt.Errorf("failed to page node metadata: %w", err))
		}
		var page []string
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return total, werr.Integrityf("failed to scan node metadata row: %w", err)
			}
			page = append(page, raw)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return total, werr.Transient(err)
		}
		rows.Close()
		if len(page) == 0 {
			return total, nil
		}
		cursor = page[len(page)-1]

		nodes := make([]node.Node, 0, len(page))
		for _, raw := range page {
			var n node.Node
			if err := n.UnmarshalJSON([]byte(raw)); err != nil {
				return total, werr.Integrityf("corrupt node envelope in node_meta table: %w", err)
			}
			nodes = append(nodes, n)
		}
		existing, err := s.NodesExistAsEndpoint(ctx, nodes)
		if err != nil {
			return total, err
		}
		var stale []string
		for i, n := range nodes {
			if !existing[n.Fingerprint()] {
				stale = append(stale, page[i])
			}
		}
		if len(stale) > 0 {
			n, err := s.deleteNodeMeta(ctx, stale)
			if err != nil {
				return total, err
			}
			total += n
		}
		if len(page) < gcBatchSize {
			return total, nil
		}
	}
}

func (s *Store) deleteNodeMeta(ctx context.Context, rawNodes []string) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rawNodes)), ",")
	args := make([]any, len(rawNodes))
	for i, n := range rawNodes {
		args[i] = n
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM node_meta WHERE node IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, werr.Transient(fmt.Errorf("failed to delete unreferenced node metadata: %w", err))
	}
	return res.RowsAffected()
}

// ReclaimCommits deletes commit records no longer referenced by any
// surviving edge revision. Run after PruneTripleHistory so history
// pruning's own deletions are accounted for.
func (s *Store) ReclaimCommits(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM commits WHERE commit_id NOT IN (SELECT DISTINCT commit_id FROM edges)
	`)
	if err != nil {
		return 0, werr.Transient(fmt.Errorf("failed to reclaim commit log: %w", err))
	}
	return res.RowsAffected()
}

// ReclaimGeneratedArtifacts deletes generated_artifacts rows whose source
// file node is not referenced by any currently-existing triple, paginated
// by rowid so a large table is walked in pages.
func (s *Store) ReclaimGeneratedArtifacts(ctx context.Context) (int64, error) {
	var total int64
	var cursor int64
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT rowid, source_node, gentype FROM generated_artifacts
			WHERE rowid > ? ORDER BY rowid LIMIT ?
		`, cursor, gcBatchSize)
		if err != nil {
			return total, werr.Transient(fmt.Errorf("failed to page generated artifacts: %w", err))
		}
		type artifactRow struct {
			rowid             int64
			sourceNode, gentype string
		}
		var page []artifactRow
		for rows.Next() {
			var r artifactRow
			if err := rows.Scan(&r.rowid, &r.sourceNode, &r.gentype); err != nil {
				rows.Close()
				return total, werr.Integrityf("failed to scan generated artifact row: %w", err)
			}
			page = append(page, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return total, werr.Transient(err)
		}
		rows.Close()
		if len(page) == 0 {
			return total, nil
		}
		cursor = page[len(page)-1].rowid

		nodes := make([]node.Node, len(page))
		for i, r := range page {
			var n node.Node
			if err := n.UnmarshalJSON([]byte(r.sourceNode)); err != nil {
				return total, werr.Integrityf("corrupt source node envelope in generated_artifacts table: %w", err)
			}
			nodes[i] = n
		}
		existing, err := s.NodesExistAsEndpoint(ctx, nodes)
		if err != nil {
			return total, err
		}
		for i, r := range page {
			if existing[nodes[i].Fingerprint()] {
				continue
			}
			if _, err := s.db.ExecContext(ctx, `
				DELETE FROM generated_artifacts WHERE source_node = ? AND gentype = ?
			`, r.sourceNode, r.gentype); err != nil {
				return total, werr.Transient(fmt.Errorf("failed to delete unreferenced generated artifact: %w", err))
			}
			total++
		}
		if len(page) < gcBatchSize {
			return total, nil
		}
	}
}

// NodeMetaExistsBatch reports, for each of nodes, whether a node_meta row
// currently exists for it. Used by the GC worker's blob reclamation phase
// to batch-filter on-disk blobs against surviving metadata, the Go
// equivalent of original_source/.../background.rs's meta_include_existing.
func (s *Store) NodeMetaExistsBatch(ctx context.Context, nodes []node.Node) (map[string]bool, error) {
	found := make(map[string]bool, len(nodes))
	if len(nodes) == 0 {
		return found, nil
	}
	args := make([]any, len(nodes))
	for i, n := range nodes {
		args[i] = n.Fingerprint()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT node FROM node_meta WHERE node IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, werr.Transient(fmt.Errorf("failed to query node metadata existence: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, werr.Integrityf("failed to scan node metadata existence row: %w", err)
		}
		found[raw] = true
	}
	if err := rows.Err(); err != nil {
		return nil, werr.Transient(err)
	}
	return found, nil
}

// GeneratedArtifactSourceExists reports, for each of nodes, whether at
// least one generated_artifacts row (any gentype) still names it as the
// source. Used by the GC worker's generated-file reclamation phase, which
// reclaims at hash granularity (the whole genfiles/.../<hash> directory,
// every gentype together) rather than per gentype, mirroring
// original_source/.../background.rs's generated-file GC walk.
func (s *Store) GeneratedArtifactSourceExists(ctx context.Context, nodes []node.Node) (map[string]bool, error) {
	found := make(map[string]bool, len(nodes))
	if len(nodes) == 0 {
		return found, nil
	}
	args := make([]any, len(nodes))
	for i, n := range nodes {
		args[i] = n.Fingerprint()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT source_node FROM generated_artifacts WHERE source_node IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, werr.Transient(fmt.Errorf("failed to query generated artifact source existence: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, werr.Integrityf("failed to scan generated artifact source row: %w", err)
		}
		found[raw] = true
	}
	if err := rows.Err(); err != nil {
		return nil, werr.Transient(err)
	}
	return found, nil
}
