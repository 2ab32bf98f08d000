package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// Projected is one bound column's decoded value: either a single node
// (Plural == false) or an array of nodes (Plural == true). HasScalar
// distinguishes "no result" (false) from "result was an explicit null"
// node (true, with Scalar.Kind() == node.KindNull) — spec section 4.D
// "Output shape".
type Projected struct {
	Plural    bool
	HasScalar bool
	Scalar    node.Node
	Array     []node.Node
}

// Row is one decoded result row: a pagination cursor and the bound
// projections keyed by bind name.
type Row struct {
	PageKey string
	Values  map[string]Projected
}

// SortDir is ascending or descending for a Fields sort.
type SortDir int

const (
	Asc SortDir = iota
	Desc
)

// FieldSort orders rows by a bound projection's value.
type FieldSort struct {
	Dir  SortDir
	Name string
}

// Sort is either Fields (ordered comparison on named bound projections)
// or Random (a deterministic shuffle keyed by Seed, or a freshly chosen
// seed reported back to the caller for subsequent pages).
type Sort struct {
	Fields []FieldSort
	Random *RandomSort
}

// RandomSort requests a deterministic shuffle. Seed is nil to request a
// fresh seed (returned via UsedSeed in ExecuteResult).
type RandomSort struct {
	Seed *int64
}

// Pagination slices the sorted result: if Key is non-empty, rows up to
// and including the one whose page key matches Key are skipped before
// taking Count; otherwise Count rows are taken from the head.
type Pagination struct {
	Key   string
	Count int
}

// ExecuteResult is Execute's return value: the page of rows plus the
// random seed actually used, so callers requesting unseeded Random sorts
// can pass it back on the next page.
type ExecuteResult struct {
	Rows     []Row
	UsedSeed int64
}

// Execute compiles chain, runs it, and decodes, sorts, and paginates the
// result set (spec section 4.E).
func Execute(ctx context.Context, db *sql.DB, chain Chain, params map[string]node.Node, srt *Sort, page Pagination) (*ExecuteResult, error) {
	sqlText, args, err := Compile(chain, params)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, ErrExecution(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, ErrExecution(err)
	}

	var decoded []Row
	dest := make([]any, len(cols))
	destPtrs := make([]sql.NullString, len(cols))
	for i := range dest {
		dest[i] = &destPtrs[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, ErrExecution(err)
		}
		row := Row{Values: make(map[string]Projected)}
		for i, col := range cols {
			val := destPtrs[i]
			if col == "page_key" {
				row.PageKey = val.String
				continue
			}
			name, ok := strings.CutPrefix(col, "_")
			if !ok {
				continue
			}
			proj, err := decodeProjected(val.String)
			if err != nil {
				return nil, err
			}
			row.Values[name] = proj
		}
		decoded = append(decoded, row)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrExecution(err)
	}

	usedSeed := int64(0)
	if srt != nil {
		usedSeed, err = applySort(decoded, srt)
		if err != nil {
			return nil, err
		}
	}

	paged, err := applyPagination(decoded, page)
	if err != nil {
		return nil, err
	}

	return &ExecuteResult{Rows: paged, UsedSeed: usedSeed}, nil
}

// decodeProjected parses one column's json_object('scalar'|'array', ...)
// envelope text into a Projected value.
func decodeProjected(text string) (Projected, error) {
	if text == "" {
		return Projected{}, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
		return Projected{}, ErrDecode(fmt.Errorf("malformed projection envelope: %w", err))
	}
	if raw, ok := wrapper["array"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Projected{}, ErrDecode(fmt.Errorf("malformed array projection: %w", err))
		}
		nodes := make([]node.Node, 0, len(items))
		for _, item := range items {
			n, present, err := decodeScalarEnvelope(item)
			if err != nil {
				return Projected{}, err
			}
			if present {
				nodes = append(nodes, n)
			}
		}
		return Projected{Plural: true, Array: nodes}, nil
	}
	if raw, ok := wrapper["scalar"]; ok {
		n, present, err := decodeScalarEnvelope(raw)
		if err != nil {
			return Projected{}, err
		}
		return Projected{HasScalar: present, Scalar: n}, nil
	}
	return Projected{}, ErrDecode(fmt.Errorf("projection envelope missing scalar/array tag"))
}

// decodeScalarEnvelope unwraps the per-item json_object('scalar', <node
// envelope>) wrapper that both scalar and array projections use. present
// is false when the node envelope carries missingSentinelTag, meaning no
// row joined for this projection (as opposed to a genuine null node).
func decodeScalarEnvelope(raw json.RawMessage) (n node.Node, present bool, err error) {
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil {
		return node.Node{}, false, ErrDecode(fmt.Errorf("malformed scalar element: %w", err))
	}
	nodeJSON, ok := inner["scalar"]
	if !ok {
		return node.Node{}, false, ErrDecode(fmt.Errorf("scalar element missing 'scalar' key"))
	}
	var tagPeek struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(nodeJSON, &tagPeek); err != nil {
		return node.Node{}, false, ErrDecode(fmt.Errorf("malformed node envelope in projection: %w", err))
	}
	if tagPeek.T == missingSentinelTag {
		return node.Node{}, false, nil
	}
	if err := n.UnmarshalJSON(nodeJSON); err != nil {
		return node.Node{}, false, ErrDecode(fmt.Errorf("malformed node in projection: %w", err))
	}
	return n, true, nil
}

func applySort(rows []Row, srt *Sort) (int64, error) {
	if srt.Random != nil {
		seed := int64(0)
		if srt.Random.Seed != nil {
			seed = *srt.Random.Seed
		} else {
			seed = rand.Int63()
		}
		type keyed struct {
			row Row
			key uint64
		}
		ks := make([]keyed, len(rows))
		for i, r := range rows {
			h := fnv.New64a()
			fmt.Fprintf(h, "%d:%s", seed, r.PageKey)
			ks[i] = keyed{row: r, key: h.Sum64()}
		}
		sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })
		for i := range rows {
			rows[i] = ks[i].row
		}
		return seed, nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, f := range srt.Fields {
			a, aOK := rows[i].Values[f.Name]
			b, bOK := rows[j].Values[f.Name]
			cmp := compareProjected(a, aOK, b, bOK)
			if cmp == 0 {
				continue
			}
			if f.Dir == Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return 0, nil
}

// compareProjected orders two scalar projections, treating "no result"
// as sorting before any present value. Array-valued projections are not
// orderable and always compare equal (stable with respect to input
// order).
func compareProjected(a Projected, aOK bool, b Projected, bOK bool) int {
	if a.Plural || b.Plural {
		return 0
	}
	if !aOK || !a.HasScalar {
		if !bOK || !b.HasScalar {
			return 0
		}
		return -1
	}
	if !bOK || !b.HasScalar {
		return 1
	}
	return compareNodes(a.Scalar, b.Scalar)
}

// compareNodes orders two scalar nodes by kind first (so numbers compare
// numerically and strings lexically, rather than falling back to a
// byte-wise compare of their JSON text), then by value.
func compareNodes(a, b node.Node) int {
	if a.Kind() != b.Kind() {
		return strings.Compare(string(a.Kind()), string(b.Kind()))
	}
	switch a.Kind() {
	case node.KindNumber:
		af, _ := a.Scalar().(json.Number).Float64()
		bf, _ := b.Scalar().(json.Number).Float64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case node.KindString:
		return strings.Compare(a.Scalar().(string), b.Scalar().(string))
	default:
		return strings.Compare(a.Fingerprint(), b.Fingerprint())
	}
}

func applyPagination(rows []Row, page Pagination) ([]Row, error) {
	start := 0
	if page.Key != "" {
		found := -1
		for i, r := range rows {
			if r.PageKey == page.Key {
				found = i
				break
			}
		}
		if found == -1 {
			return nil, werr.Inputf("page_key", "pagination cursor %q not found in result set", page.Key)
		}
		start = found + 1
	}
	if start >= len(rows) {
		return nil, nil
	}
	end := len(rows)
	if page.Count > 0 && start+page.Count < end {
		end = start + page.Count
	}
	return rows[start:end], nil
}
