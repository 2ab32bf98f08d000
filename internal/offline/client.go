package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// ViewQueryRequest is the wire body of POST /view_query (spec section 6):
// scoped to a view id, a query id within that view, and the resolved
// parameter bindings.
type ViewQueryRequest struct {
	ViewID     string
	Query      string
	Parameters map[string]node.Node
}

// FieldValue is one bound projection's value off the wire: either a
// single node (Array == nil) or a list of nodes (a plural binding),
// mirroring spec section 6's per-field "scalar"/"array" envelope tags.
type FieldValue struct {
	Scalar *node.Node
	Array  []node.Node
}

func (v FieldValue) toTreeNode() TreeNode {
	if v.Array != nil {
		items := make([]TreeNode, len(v.Array))
		for i, n := range v.Array {
			n := n
			items[i] = TreeNode{Scalar: &n}
		}
		return TreeNode{Array: items}
	}
	return TreeNode{Scalar: v.Scalar}
}

// QueryRows is the tagged rows payload of a query response: either
// Scalar (one bare field value per row) or Record (a named map of field
// values per row), mirroring the rows: Scalar(…) | Record(…) union in
// the wire API.
type QueryRows struct {
	Scalar []FieldValue
	Record []map[string]FieldValue
}

// QueryResponse is the decoded wire response of /query and /view_query.
type QueryResponse struct {
	Meta map[string]NodeMeta
	Rows QueryRows
}

// ToRows flattens a QueryResponse into one DataStackLevel per row,
// attaching the shared node-metadata map to each — the Go counterpart of
// offline.rs's resp_query_to_rows.
func (r *QueryResponse) ToRows() []DataStackLevel {
	var out []DataStackLevel
	if len(r.Rows.Scalar) > 0 {
		for _, v := range r.Rows.Scalar {
			out = append(out, DataStackLevel{Data: v.toTreeNode(), NodeMeta: r.Meta})
		}
		return out
	}
	for _, rec := range r.Rows.Record {
		fields := make(map[string]TreeNode, len(rec))
		for k, v := range rec {
			fields[k] = v.toTreeNode()
		}
		out = append(out, DataStackLevel{Data: TreeNode{Record: fields}, NodeMeta: r.Meta})
	}
	return out
}

// ServerClient is everything the offline worker needs from the remote
// server: running a view-scoped query, and fetching a source or
// generated file (or an arbitrary URL under the same origin, for a comic
// manifest's page list). Abstracted behind an interface so the worker's
// traversal logic can be tested without a real HTTP server.
type ServerClient interface {
	ViewQuery(ctx context.Context, req ViewQueryRequest) (*QueryResponse, error)
	FetchFile(ctx context.Context, hash node.FileHash) (body io.ReadCloser, contentType string, err error)
	FetchGenerated(ctx context.Context, hash node.FileHash, gentype, subpath string) (body io.ReadCloser, contentType string, err error)
	FetchURL(ctx context.Context, rawURL string) (body io.ReadCloser, contentType string, err error)

	// ListGenerated lists the relative file paths within a directory-
	// shaped gentype (book HTML bundles, comic page directories), via
	// GET /genfile/<hash>/<gentype>?list=1 — a small extension to spec
	// section 6's wire API the offline client needs to mirror a
	// multi-file bundle it cannot otherwise enumerate.
	ListGenerated(ctx context.Context, hash node.FileHash, gentype string) ([]string, error)
}

// httpClient is the production ServerClient, talking to a weft server
// over the wire API of spec section 6.
type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a ServerClient against a running weft server.
func NewHTTPClient(baseURL string, hc *http.Client) ServerClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &httpClient{baseURL: baseURL, http: hc}
}

func (c *httpClient) ViewQuery(ctx context.Context, req ViewQueryRequest) (*QueryResponse, error) {
	body, err := json.Marshal(wireViewQueryRequest{
		ViewID:     req.ViewID,
		Query:      req.Query,
		Parameters: req.Parameters,
	})
	if err != nil {
		return nil, werr.Integrityf("encoding view query request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/view_query", bytes.NewReader(body))
	if err != nil {
		return nil, werr.Transient(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, werr.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view query %q on view %q: server returned %s", req.Query, req.ViewID, resp.Status)
	}
	var wire wireQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, werr.Integrityf("decoding view query response: %v", err)
	}
	return wire.toQueryResponse()
}

func (c *httpClient) FetchFile(ctx context.Context, hash node.FileHash) (io.ReadCloser, string, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/file/%s", c.baseURL, url.PathEscape(string(hash))))
}

func (c *httpClient) FetchGenerated(ctx context.Context, hash node.FileHash, gentype, subpath string) (io.ReadCloser, string, error) {
	u := fmt.Sprintf("%s/genfile/%s/%s", c.baseURL, url.PathEscape(string(hash)), url.PathEscape(gentype))
	if subpath != "" {
		u += "/" + subpath
	}
	return c.fetch(ctx, u)
}

func (c *httpClient) FetchURL(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	return c.fetch(ctx, rawURL)
}

func (c *httpClient) ListGenerated(ctx context.Context, hash node.FileHash, gentype string) ([]string, error) {
	u := fmt.Sprintf("%s/genfile/%s/%s?list=1", c.baseURL, url.PathEscape(string(hash)), url.PathEscape(gentype))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, werr.Transient(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, werr.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing generated directory %s/%s: server returned %s", hash, gentype, resp.Status)
	}
	var paths []string
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return nil, werr.Integrityf("decoding generated directory listing: %v", err)
	}
	return paths, nil
}

func (c *httpClient) fetch(ctx context.Context, u string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", werr.Transient(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", werr.Transient(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetching %q: server returned %s", u, resp.Status)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// wireViewQueryRequest and wireQueryResponse are the literal wire shapes
// of spec section 6's canonical envelopes, kept private to this file so
// callers only ever see the decoded ServerClient types above.
type wireViewQueryRequest struct {
	ViewID     string                `json:"view_id"`
	Query      string                `json:"query"`
	Parameters map[string]node.Node  `json:"parameters"`
	Pagination *struct{}             `json:"pagination,omitempty"`
}

type wireQueryResponse struct {
	Meta []wireMetaEntry `json:"meta"`
	Rows wireQueryRows   `json:"rows"`
}

type wireMetaEntry struct {
	Node node.Node `json:"node"`
	Meta NodeMeta  `json:"meta"`
}

// wireFieldValue mirrors internal/wire's wireProjected envelope: a bound
// projection is either {"scalar": <node>} or {"array": [<node>, ...]}.
type wireFieldValue struct {
	Scalar *node.Node  `json:"scalar,omitempty"`
	Array  []node.Node `json:"array,omitempty"`
}

func (w wireFieldValue) toFieldValue() FieldValue {
	return FieldValue{Scalar: w.Scalar, Array: w.Array}
}

// wireQueryRow carries a row's field-value map alongside its pagination
// cursor (spec section 6's page_key), one per row.
type wireQueryRow struct {
	PageKey string                    `json:"page_key"`
	Fields  map[string]wireFieldValue `json:"fields"`
}

type wireQueryRows struct {
	Scalar []wireFieldValue `json:"scalar,omitempty"`
	Record []wireQueryRow   `json:"record,omitempty"`
}

func (w *wireQueryResponse) toQueryResponse() (*QueryResponse, error) {
	meta := make(map[string]NodeMeta, len(w.Meta))
	for _, e := range w.Meta {
		meta[e.Node.Fingerprint()] = e.Meta
	}
	rows := QueryRows{}
	for _, v := range w.Rows.Scalar {
		rows.Scalar = append(rows.Scalar, v.toFieldValue())
	}
	for _, row := range w.Rows.Record {
		fields := make(map[string]FieldValue, len(row.Fields))
		for name, v := range row.Fields {
			fields[name] = v.toFieldValue()
		}
		rows.Record = append(rows.Record, fields)
	}
	return &QueryResponse{Meta: meta, Rows: rows}, nil
}
