package wire

import (
	"context"
	"encoding/json"

	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/query"
	"github.com/weftgraph/weft/internal/werr"
)

// errorEnvelope is the wire-visible shape of a failed request (spec
// section 7: "a dedicated distinction between visible-to-user and
// internal-only error wrappers determines what leaks into responses"),
// analogous to internal/rpc/protocol.go's Response.Error field.
type errorEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func toErrorEnvelope(err error) errorEnvelope {
	env := errorEnvelope{Kind: werr.Of(err).String(), Message: err.Error()}
	var we *werr.Error
	if ok := asWerr(err, &we); ok && we.Field != "" {
		env.Field = we.Field
	}
	return env
}

// asWerr is a tiny errors.As wrapper kept local to avoid importing
// "errors" into every handler file that needs the field name out of a
// werr.Error.
func asWerr(err error, target **werr.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*werr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// commitRequest is the wire body of POST /commit.
type commitRequest struct {
	Comment string              `json:"comment"`
	Add     []wireTriple        `json:"add,omitempty"`
	Remove  []wireTriple        `json:"remove,omitempty"`
	Files   []wireCommitFile    `json:"files,omitempty"`
}

type wireTriple struct {
	Subject   node.Node `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    node.Node `json:"object"`
}

type wireCommitFile struct {
	Hash     node.FileHash `json:"hash"`
	Mimetype string        `json:"mimetype"`
}

type commitResponse struct {
	Incomplete []node.FileHash `json:"incomplete,omitempty"`
	CommitID   *node.CommitID  `json:"commit_id,omitempty"`
}

type uploadResponse struct {
	Done bool `json:"done"`
}

type uploadFinishRequest struct {
	Hash node.FileHash `json:"hash"`
}

// queryRequest is the wire body of POST /query (and, with an added view
// scope, POST /view_query).
type queryRequest struct {
	Query      json.RawMessage       `json:"query"`
	Parameters map[string]node.Node  `json:"parameters"`
	Sort       *wireSort             `json:"sort,omitempty"`
	Pagination wirePagination        `json:"pagination,omitempty"`
}

type wireSort struct {
	Fields []wireFieldSort `json:"fields,omitempty"`
	Random *wireRandomSort `json:"random,omitempty"`
}

type wireFieldSort struct {
	Dir  string `json:"dir"` // "asc" | "desc"
	Name string `json:"name"`
}

type wireRandomSort struct {
	Seed *int64 `json:"seed,omitempty"`
}

type wirePagination struct {
	Key   string `json:"key,omitempty"`
	Count int    `json:"count"`
}

func (w *wireSort) toSort() *query.Sort {
	if w == nil {
		return nil
	}
	s := &query.Sort{}
	if w.Random != nil {
		s.Random = &query.RandomSort{Seed: w.Random.Seed}
		return s
	}
	s.Fields = make([]query.FieldSort, len(w.Fields))
	for i, f := range w.Fields {
		dir := query.Asc
		if f.Dir == "desc" {
			dir = query.Desc
		}
		s.Fields[i] = query.FieldSort{Dir: dir, Name: f.Name}
	}
	return s
}

func (w wirePagination) toPagination() query.Pagination {
	return query.Pagination{Key: w.Key, Count: w.Count}
}

// wireProjected and wireRow are the canonical row projections of spec
// section 6: a scalar envelope {"scalar": {"t":..., "v":...}} or an array
// envelope {"array": [{"t":..., "v":...}, ...]} of bare node envelopes.
type wireProjected struct {
	Scalar *node.Node  `json:"scalar,omitempty"`
	Array  []node.Node `json:"array,omitempty"`
}

func toWireProjected(p query.Projected) wireProjected {
	if p.Plural {
		arr := p.Array
		if arr == nil {
			arr = []node.Node{}
		}
		return wireProjected{Array: arr}
	}
	if !p.HasScalar {
		return wireProjected{}
	}
	n := p.Scalar
	return wireProjected{Scalar: &n}
}

type wireMetaEntry struct {
	Node node.Node      `json:"node"`
	Meta wireNodeMeta   `json:"meta"`
}

type wireNodeMeta struct {
	Mimetype string `json:"mimetype,omitempty"`
}

type wireQueryRow struct {
	PageKey string                   `json:"page_key"`
	Fields  map[string]wireProjected `json:"fields"`
}

// wireQueryRows is the rows: Scalar(…) | Record(…) union of spec section
// 6, carried as two optional arrays rather than a Go-side discriminated
// type: the compiler (internal/query) always binds every projected column
// to a name (collectProjections walks Bind names at every chain level, with
// no path producing an unnamed top-level value), so this server only ever
// populates Record. Scalar is still part of the wire contract — and
// decoded by internal/offline's client — for any future caller whose
// chain has a single unnamed binding.
type wireQueryRows struct {
	Scalar []wireProjected `json:"scalar,omitempty"`
	Record []wireQueryRow  `json:"record,omitempty"`
}

type queryResponse struct {
	Meta     []wireMetaEntry `json:"meta"`
	Rows     wireQueryRows   `json:"rows"`
	UsedSeed int64           `json:"used_seed,omitempty"`
}

// buildQueryResponse decodes an executor result into the wire response
// shape, resolving every File-kind node touched by any row's projections
// against the graph store's metadata table so the caller can pick a mime
// family without a second round trip.
func buildQueryResponse(ctx context.Context, g *graph.Store, result *query.ExecuteResult) (*queryResponse, error) {
	seen := map[string]node.Node{}
	rows := make([]wireQueryRow, len(result.Rows))
	for i, row := range result.Rows {
		fields := make(map[string]wireProjected, len(row.Values))
		for name, p := range row.Values {
			fields[name] = toWireProjected(p)
			collectFileNodes(seen, p)
		}
		rows[i] = wireQueryRow{PageKey: row.PageKey, Fields: fields}
	}

	meta := make([]wireMetaEntry, 0, len(seen))
	for _, n := range seen {
		m, err := g.GetNodeMeta(ctx, n)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		meta = append(meta, wireMetaEntry{Node: n, Meta: wireNodeMeta{Mimetype: m.Mimetype}})
	}

	return &queryResponse{Meta: meta, Rows: wireQueryRows{Record: rows}, UsedSeed: result.UsedSeed}, nil
}

func collectFileNodes(into map[string]node.Node, p query.Projected) {
	if p.Plural {
		for _, n := range p.Array {
			if _, ok := n.File(); ok {
				into[n.Fingerprint()] = n
			}
		}
		return
	}
	if p.HasScalar {
		if _, ok := p.Scalar.File(); ok {
			into[p.Scalar.Fingerprint()] = p.Scalar
		}
	}
}
