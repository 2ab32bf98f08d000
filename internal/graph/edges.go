package graph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// CurrentEdgesSQL is the logical "current edges" view (spec section 4.B):
// for every (subject, predicate, object) key, the row with the greatest
// commit_id, kept only if that row's edge_exist = 1. It is a plain SELECT
// (not a CTE) so the query compiler (component D) can inline it as the
// base FROM clause of every Move step's CTE, exactly as
// original_source/.../query.rs's triple_exist_table is referenced by
// every build_step call.
const CurrentEdgesSQL = `(
	SELECT subject, predicate, object, commit_id
	FROM (
		SELECT subject, predicate, object, commit_id, edge_exist,
		       ROW_NUMBER() OVER (
		           PARTITION BY subject, predicate, object
		           ORDER BY commit_id DESC
		       ) AS rn
		FROM edges
	)
	WHERE rn = 1 AND edge_exist = 1
)`

// Triples wraps a batch read result.
type Triples struct {
	Incoming []node.Triple // triples where the queried node is the object
	Outgoing []node.Triple // triples where the queried node is the subject
}

// GetTriplesAround returns all currently-existing triples where any of
// nodes is the subject (outgoing) or the object (incoming).
func (s *Store) GetTriplesAround(ctx context.Context, nodes []node.Node) (*Triples, error) {
	if len(nodes) == 0 {
		return &Triples{}, nil
	}
	fingerprints := make([]string, len(nodes))
	args := make([]any, len(nodes))
	for i, n := range nodes {
		fingerprints[i] = n.Fingerprint()
		args[i] = fingerprints[i]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	out := &Triples{}
	outgoingQuery := fmt.Sprintf(`
		SELECT subject, predicate, object FROM %s
		WHERE subject IN (%s)
	`, CurrentEdgesSQL, placeholders)
	rows, err := s.db.QueryContext(ctx, outgoingQuery, args...)
	if err != nil {
		return nil, werr.Transient(fmt.Errorf("failed to query outgoing triples: %w", err))
	}
	out.Outgoing, err = scanTriples(rows)
	if err != nil {
		return nil, err
	}

	incomingQuery := fmt.Sprintf(`
		SELECT subject, predicate, object FROM %s
		WHERE object IN (%s)
	`, CurrentEdgesSQL, placeholders)
	rows, err = s.db.QueryContext(ctx, incomingQuery, args...)
	if err != nil {
		return nil, werr.Transient(fmt.Errorf("failed to query incoming triples: %w", err))
	}
	out.Incoming, err = scanTriples(rows)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NodesExistAsEndpoint reports, for each of nodes, whether it currently
// appears as the subject or object of any existing edge. Used by the
// derivation worker's All sweep to batch-filter candidate files against
// the triple store before deriving (spec section 4.F: "existence-filtered
// against the triple store to avoid work on orphans"), grounded on
// original_source/.../background.rs's node_include_current_existing_subj/
// _obj pair, here folded into a single batched query.
func (s *Store) NodesExistAsEndpoint(ctx context.Context, nodes []node.Node) (map[string]bool, error) {
	found := make(map[string]bool, len(nodes))
	if len(nodes) == 0 {
		return found, nil
	}
	fingerprints := make([]string, len(nodes))
	args := make([]any, len(nodes))
	for i, n := range nodes {
		fingerprints[i] = n.Fingerprint()
		args[i] = fingerprints[i]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	query := fmt.Sprintf(`
		SELECT subject FROM %s WHERE subject IN (%s)
		UNION
		SELECT object FROM %s WHERE object IN (%s)
	`, CurrentEdgesSQL, placeholders, CurrentEdgesSQL, placeholders)
	rows, err := s.db.QueryContext(ctx, query, append(append([]any{}, args...), args...)...)
	if err != nil {
		return nil, werr.Transient(fmt.Errorf("failed to query endpoint existence: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var envJSON string
		if err := rows.Scan(&envJSON); err != nil {
			return nil, werr.Integrityf("failed to scan endpoint existence row: %w", err)
		}
		var n node.Node
		if err := n.UnmarshalJSON([]byte(envJSON)); err != nil {
			return nil, werr.Integrityf("corrupt node envelope in edges table: %w", err)
		}
		found[n.Fingerprint()] = true
	}
	if err := rows.Err(); err != nil {
		return nil, werr.Transient(err)
	}
	return found, nil
}

func scanTriples(rows *sql.Rows) ([]node.Triple, error) {
	defer rows.Close()
	var out []node.Triple
	for rows.Next() {
		var subjJSON, pred, objJSON string
		if err := rows.Scan(&subjJSON, &pred, &objJSON); err != nil {
			return nil, werr.Integrityf("failed to scan triple row: %w", err)
		}
		var subj, obj node.Node
		if err := subj.UnmarshalJSON([]byte(subjJSON)); err != nil {
			return nil, werr.Integrityf("corrupt subject envelope in edges table: %w", err)
		}
		if err := obj.UnmarshalJSON([]byte(objJSON)); err != nil {
			return nil, werr.Integrityf("corrupt object envelope in edges table: %w", err)
		}
		out = append(out, node.Triple{Subject: subj, Predicate: pred, Object: obj})
	}
	if err := rows.Err(); err != nil {
		return nil, werr.Transient(err)
	}
	return out, nil
}
